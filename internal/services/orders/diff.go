package orders

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/util"
)

// CompareOptions configures diff classification.
type CompareOptions struct {
	// NotComparable lists delivery groupings absent from the receiving
	// source. Their items are left out of both sides.
	NotComparable []string

	// ExpectedLeadDays dates the summary when no receiving fact exists.
	ExpectedLeadDays int
}

// DiffResult is the outcome of comparing one order date.
type DiffResult struct {
	Diffs   []*models.OrderDiff
	Summary *models.DiffSummary
}

type mergedReceipt struct {
	itemNM        string
	midCD         string
	receivingDate string
	orderQty      int
	receivingQty  int
}

// Compare classifies the automated order of a date against what was
// confirmed and delivered. It is pure: unchanged items are only counted,
// every other item yields one diff.
func Compare(storeID, orderDate string, snapshots []*models.OrderSnapshot, receiving []*models.ReceivingFact, opts CompareOptions) *DiffResult {
	excluded := make(map[string]bool, len(opts.NotComparable))
	for _, g := range opts.NotComparable {
		excluded[g] = true
	}

	summary := &models.DiffSummary{StoreID: storeID, OrderDate: orderDate}

	auto := make(map[string]*models.OrderSnapshot)
	skipped := make(map[string]bool)
	for _, s := range snapshots {
		if s.FinalOrderQty <= 0 {
			continue
		}
		if excluded[s.DeliveryType] {
			summary.NotComparableCount++
			skipped[s.ItemCD] = true
			continue
		}
		auto[s.ItemCD] = s
		summary.TotalAutoQty += s.FinalOrderQty
	}

	confirmed := make(map[string]*mergedReceipt)
	for _, f := range receiving {
		if excluded[f.DeliveryGrouping] || skipped[f.ItemCD] {
			continue
		}
		m, ok := confirmed[f.ItemCD]
		if !ok {
			m = &mergedReceipt{itemNM: f.ItemNM, midCD: f.MidCD}
			confirmed[f.ItemCD] = m
		}
		m.orderQty += f.OrderQty
		m.receivingQty += f.ReceivingQty
		if f.ReceivingDate > m.receivingDate {
			m.receivingDate = f.ReceivingDate
		}
		if f.ReceivingDate > summary.ReceivingDate {
			summary.ReceivingDate = f.ReceivingDate
		}
	}

	if summary.ReceivingDate == "" {
		summary.ReceivingDate = expectedReceivingDate(orderDate, opts.ExpectedLeadDays)
	}
	summary.HasReceivingData = len(confirmed) > 0

	items := make([]string, 0, len(auto)+len(confirmed))
	for item := range auto {
		items = append(items, item)
	}
	for item := range confirmed {
		if _, ok := auto[item]; !ok {
			items = append(items, item)
		}
	}
	sort.Strings(items)

	var diffs []*models.OrderDiff
	for _, item := range items {
		s, inAuto := auto[item]
		m, inConfirmed := confirmed[item]

		d := &models.OrderDiff{
			StoreID:       storeID,
			OrderDate:     orderDate,
			ReceivingDate: summary.ReceivingDate,
			ItemCD:        item,
		}

		switch {
		case inAuto && !inConfirmed:
			d.DiffType = models.DiffTypeRemoved
			d.ItemNM, d.MidCD = s.ItemNM, s.MidCD
			d.AutoOrderQty = s.FinalOrderQty
			summary.RemovedCount++

		case !inAuto && inConfirmed:
			d.DiffType = models.DiffTypeAdded
			d.ItemNM, d.MidCD = m.itemNM, m.midCD
			d.ReceivingDate = m.receivingDate
			d.ConfirmedOrderQty = m.orderQty
			d.ReceivingQty = m.receivingQty
			summary.AddedCount++

		default:
			d.ItemNM, d.MidCD = s.ItemNM, s.MidCD
			d.ReceivingDate = m.receivingDate
			d.AutoOrderQty = s.FinalOrderQty
			d.ConfirmedOrderQty = m.orderQty
			d.ReceivingQty = m.receivingQty

			switch {
			case d.AutoOrderQty != d.ConfirmedOrderQty:
				d.DiffType = models.DiffTypeQtyChanged
				summary.QtyChangedCount++
			case d.ReceivingQty != d.ConfirmedOrderQty:
				d.DiffType = models.DiffTypeReceivingDiff
				summary.ReceivingDiffCount++
			default:
				summary.UnchangedCount++
				summary.TotalConfirmedQty += m.orderQty
				summary.TotalReceivingQty += m.receivingQty
				continue
			}
		}

		d.QtyDiff = d.ConfirmedOrderQty - d.AutoOrderQty
		d.ReceivingDiff = d.ReceivingQty - d.ConfirmedOrderQty
		summary.TotalConfirmedQty += d.ConfirmedOrderQty
		summary.TotalReceivingQty += d.ReceivingQty
		diffs = append(diffs, d)
	}

	summary.MatchRate = ratio(summary.UnchangedCount, len(auto)+summary.AddedCount)
	return &DiffResult{Diffs: diffs, Summary: summary}
}

func expectedReceivingDate(orderDate string, leadDays int) string {
	d, err := util.ParseDate(orderDate)
	if err != nil {
		return orderDate
	}
	return util.FormatDate(util.AddDays(d, leadDays))
}

// ratio returns num/den rounded to four places, or 0 for an empty
// denominator.
func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromInt(int64(num)).
		DivRound(decimal.NewFromInt(int64(den)), 4).
		InexactFloat64()
}
