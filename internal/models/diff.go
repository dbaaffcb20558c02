package models

import "time"

// DiffType classifies how the confirmed order differs from the automated one.
type DiffType string

const (
	// DiffTypeQtyChanged means a human changed the ordered quantity.
	DiffTypeQtyChanged DiffType = "qty_changed"
	// DiffTypeAdded means an item was ordered that the system did not propose.
	DiffTypeAdded DiffType = "added"
	// DiffTypeRemoved means a proposed item never reached the confirmed order.
	DiffTypeRemoved DiffType = "removed"
	// DiffTypeReceivingDiff means the order stood but delivery differed.
	DiffTypeReceivingDiff DiffType = "receiving_diff"
)

func (t DiffType) String() string {
	return string(t)
}

// OrderDiff is one item whose proposed and confirmed reality differ.
// Unchanged items are only counted in the summary.
type OrderDiff struct {
	StoreID           string
	OrderDate         string
	ReceivingDate     string
	ItemCD            string
	ItemNM            string
	MidCD             string
	DiffType          DiffType
	AutoOrderQty      int
	ConfirmedOrderQty int
	ReceivingQty      int
	QtyDiff           int // confirmed - auto
	ReceivingDiff     int // receiving - confirmed
	CreatedAt         time.Time
}

// DiffSummary aggregates one store's diff for an order date.
type DiffSummary struct {
	StoreID            string
	OrderDate          string
	ReceivingDate      string
	UnchangedCount     int
	QtyChangedCount    int
	AddedCount         int
	RemovedCount       int
	ReceivingDiffCount int
	NotComparableCount int
	TotalAutoQty       int
	TotalConfirmedQty  int
	TotalReceivingQty  int
	MatchRate          float64

	// HasReceivingData separates "nothing differed" from "nothing collected
	// yet". Accuracy aggregates must skip days where it is false.
	HasReceivingData bool
	UpdatedAt        time.Time
}

// ItemFeedback is per-item removal and addition history over a date range,
// consumed by demand-model calibration.
type ItemFeedback struct {
	ItemCD          string
	ItemNM          string
	MidCD           string
	Days            int // order dates in the range with receiving data
	RemovedCount    int
	AddedCount      int
	QtyChangedCount int
	AvgQtyDiff      float64
	RemovalRate     float64
	AdditionRate    float64
}
