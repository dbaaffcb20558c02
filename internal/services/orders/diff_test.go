package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/testutil"
)

const orderDate = "2025-03-14"

var testOptions = CompareOptions{
	NotComparable:    []string{"direct", "cross_dock"},
	ExpectedLeadDays: 1,
}

func snap(item string, qty int) *models.OrderSnapshot {
	return testutil.FixtureSnapshot(func(s *models.OrderSnapshot) {
		s.ItemCD = item
		s.FinalOrderQty = qty
	})
}

func recv(item, slip string, ordered, received int) *models.ReceivingFact {
	return testutil.FixtureReceivingFact(func(f *models.ReceivingFact) {
		f.ItemCD = item
		f.SlipID = slip
		f.OrderQty = ordered
		f.ReceivingQty = received
	})
}

func diffsByItem(res *DiffResult) map[string]*models.OrderDiff {
	out := make(map[string]*models.OrderDiff, len(res.Diffs))
	for _, d := range res.Diffs {
		out[d.ItemCD] = d
	}
	return out
}

func TestCompare_MixedOrder(t *testing.T) {
	snaps := []*models.OrderSnapshot{snap("A", 4), snap("B", 5), snap("C", 3), snap("D", 8)}
	receiving := []*models.ReceivingFact{
		recv("A", "S1", 4, 4),
		recv("B", "S1", 10, 10),
		recv("C", "S1", 3, 3),
		recv("E", "S1", 7, 7),
	}

	res := Compare(testutil.FixtureStoreID, orderDate, snaps, receiving, testOptions)
	sum := res.Summary

	assert.Equal(t, 2, sum.UnchangedCount)
	assert.Equal(t, 1, sum.QtyChangedCount)
	assert.Equal(t, 1, sum.AddedCount)
	assert.Equal(t, 1, sum.RemovedCount)
	assert.Equal(t, 0.4, sum.MatchRate)
	assert.True(t, sum.HasReceivingData)
	assert.Equal(t, "2025-03-15", sum.ReceivingDate)
	assert.Equal(t, 20, sum.TotalAutoQty)
	assert.Equal(t, 24, sum.TotalConfirmedQty)

	require.Len(t, res.Diffs, 3)
	diffs := diffsByItem(res)

	b := diffs["B"]
	assert.Equal(t, models.DiffTypeQtyChanged, b.DiffType)
	assert.Equal(t, 5, b.QtyDiff)

	d := diffs["D"]
	assert.Equal(t, models.DiffTypeRemoved, d.DiffType)
	assert.Equal(t, 8, d.AutoOrderQty)
	assert.Zero(t, d.ConfirmedOrderQty)

	e := diffs["E"]
	assert.Equal(t, models.DiffTypeAdded, e.DiffType)
	assert.Zero(t, e.AutoOrderQty)
	assert.Equal(t, 7, e.ConfirmedOrderQty)
}

func TestCompare_Empty(t *testing.T) {
	res := Compare(testutil.FixtureStoreID, orderDate, nil, nil, testOptions)
	assert.Empty(t, res.Diffs)
	assert.Zero(t, res.Summary.MatchRate)
	assert.False(t, res.Summary.HasReceivingData)
	assert.Equal(t, "2025-03-15", res.Summary.ReceivingDate, "falls back to the expected lead time")
}

func TestCompare_Identical(t *testing.T) {
	snaps := []*models.OrderSnapshot{snap("A", 4), snap("B", 2)}
	receiving := []*models.ReceivingFact{recv("A", "S1", 4, 4), recv("B", "S1", 2, 2)}

	res := Compare(testutil.FixtureStoreID, orderDate, snaps, receiving, testOptions)
	assert.Empty(t, res.Diffs)
	assert.Equal(t, 2, res.Summary.UnchangedCount)
	assert.Equal(t, 1.0, res.Summary.MatchRate)
}

func TestCompare_OnlyReceiving(t *testing.T) {
	res := Compare(testutil.FixtureStoreID, orderDate, nil, []*models.ReceivingFact{recv("E", "S1", 7, 6)}, testOptions)
	require.Len(t, res.Diffs, 1)
	d := res.Diffs[0]
	assert.Equal(t, models.DiffTypeAdded, d.DiffType)
	assert.Zero(t, d.AutoOrderQty)
	assert.Equal(t, -1, d.ReceivingDiff)
	assert.Zero(t, res.Summary.MatchRate)
	assert.True(t, res.Summary.HasReceivingData)
}

func TestCompare_DuplicateSlipsSummed(t *testing.T) {
	snaps := []*models.OrderSnapshot{snap("A", 4)}
	receiving := []*models.ReceivingFact{recv("A", "S1", 2, 2), recv("A", "S2", 2, 2)}

	res := Compare(testutil.FixtureStoreID, orderDate, snaps, receiving, testOptions)
	assert.Empty(t, res.Diffs)
	assert.Equal(t, 1, res.Summary.UnchangedCount)
}

func TestCompare_ReceivingShortfall(t *testing.T) {
	snaps := []*models.OrderSnapshot{snap("A", 4)}
	receiving := []*models.ReceivingFact{recv("A", "S1", 4, 3)}

	res := Compare(testutil.FixtureStoreID, orderDate, snaps, receiving, testOptions)
	require.Len(t, res.Diffs, 1)
	d := res.Diffs[0]
	assert.Equal(t, models.DiffTypeReceivingDiff, d.DiffType)
	assert.Zero(t, d.QtyDiff)
	assert.Equal(t, -1, d.ReceivingDiff)
	assert.Equal(t, 1, res.Summary.ReceivingDiffCount)
	assert.Zero(t, res.Summary.MatchRate)
}

func TestCompare_NotComparableExcluded(t *testing.T) {
	direct := snap("X", 5)
	direct.DeliveryType = "direct"
	snaps := []*models.OrderSnapshot{snap("A", 4), direct}

	directSlip := recv("X", "S1", 5, 5)
	directSlip.DeliveryGrouping = "direct"
	strayDirect := recv("Y", "S1", 3, 3)
	strayDirect.DeliveryGrouping = "cross_dock"
	receiving := []*models.ReceivingFact{recv("A", "S1", 4, 4), directSlip, strayDirect}

	res := Compare(testutil.FixtureStoreID, orderDate, snaps, receiving, testOptions)
	assert.Empty(t, res.Diffs)
	assert.Equal(t, 1, res.Summary.NotComparableCount)
	assert.Equal(t, 1.0, res.Summary.MatchRate)
	assert.Equal(t, 4, res.Summary.TotalAutoQty)
}

func TestCompare_ZeroQuantityProposalIgnored(t *testing.T) {
	res := Compare(testutil.FixtureStoreID, orderDate, []*models.OrderSnapshot{snap("A", 0)}, nil, testOptions)
	assert.Empty(t, res.Diffs)
	assert.Zero(t, res.Summary.RemovedCount)
}
