// Package inventory keeps the per-store batch ledger consistent with
// collected stock: FIFO consumption, the three-phase expiry protocol, drift
// reconciliation and fact ingestion.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/storeops/storeops/internal/models"
)

// ErrAlreadyJudged is returned when JUDGE runs again for an expiry event
// that already holds judgements.
var ErrAlreadyJudged = errors.New("expiry event already judged")

// Collector triggers a fresh collection of a store's facts. Implementations
// write what they collect through an Ingestor before returning.
type Collector interface {
	Collect(ctx context.Context, storeID string) error
}

// CreateBatchInput contains data for recording a receipt. Zero
// ExpirationDays and nil ExpiryHour are filled from the expiry table.
type CreateBatchInput struct {
	StoreID        string
	ItemCD         string
	ItemNM         string
	MidCD          string
	DeliveryType   string
	ReceivingDate  time.Time
	ExpirationDays int
	ExpiryHour     *int
	Qty            int
}

// SyncResult describes one item's stock reconciliation.
type SyncResult struct {
	ItemCD     string
	BatchTotal int
	Stock      int
	Consumed   int

	// Anomaly is set when stock exceeds the batch total. It is only logged;
	// batches are never fabricated to cover it.
	Anomaly bool
}

// PhaseResult is the outcome of a collection phase.
type PhaseResult struct {
	EventID  string
	RunID    string
	Degraded bool
}

// JudgeResult is the outcome of the JUDGE phase.
type JudgeResult struct {
	EventID string
	Batches int
	Items   int
	Stale   bool
}

// ConfirmResult is the outcome of the CONFIRM phase.
type ConfirmResult struct {
	EventID  string
	RunID    string
	Degraded bool
	Items    int
	Expired  int
	Consumed int
	Skipped  int // batches already terminal before CONFIRM

	// JudgedQty is the JUDGE-time remaining total; WasteQty never exceeds it.
	JudgedQty  int
	WasteQty   int
	RescuedQty int
}

// SweepResult is the outcome of the time-based fallback sweep.
type SweepResult struct {
	Expired  int
	Consumed int
	Resolved int
	WasteQty int
}

// ReconcileReport summarizes a store-wide reconciliation.
type ReconcileReport struct {
	StoreID        string
	Items          int
	CorrectedItems int
	CorrectedUnits int
	MissingStock   []string // items with batches but no collected stock
	Anomalies      []SyncResult
}

// FactBundle is one collection's output for a store.
type FactBundle struct {
	StoreID   string                  `json:"store_id" validate:"required"`
	Daily     []*models.DailyFact     `json:"daily"`
	Receiving []*models.ReceivingFact `json:"receiving"`
}

// RowError records a rejected input row.
type RowError struct {
	Index  int
	ItemCD string
	Err    error
}

// MarshalJSON renders the row error as text.
func (e RowError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Index  int    `json:"index"`
		ItemCD string `json:"item_cd"`
		Error  string `json:"error"`
	}{e.Index, e.ItemCD, e.Err.Error()})
}

// IngestResult summarizes an ingestion.
type IngestResult struct {
	Accepted       int
	Rejected       []RowError
	BatchesCreated int
	UnitsConsumed  int
}

// Err joins every row error, or returns nil.
func (r *IngestResult) Err() error {
	errs := make([]error, 0, len(r.Rejected))
	for _, re := range r.Rejected {
		errs = append(errs, re.Err)
	}
	return errors.Join(errs...)
}
