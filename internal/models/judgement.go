package models

import "time"

// Resolution records how a pending expiry judgement was closed.
type Resolution string

const (
	// ResolutionConfirmed means CONFIRM applied the sales-window correction.
	ResolutionConfirmed Resolution = "confirmed"
	// ResolutionSwept means the nightly time-based sweep closed the batch.
	ResolutionSwept Resolution = "swept"
)

// ExpiryJudgement is the JUDGE-time snapshot of one batch in an expiry
// event. CONFIRM reads it back, so the buffer survives a restart.
type ExpiryJudgement struct {
	ID           int64
	EventID      string // {store}:{yyyy-mm-dd}:{hh}
	StoreID      string
	ExpiryHour   int
	BatchID      int64
	ItemCD       string
	RemainingQty int
	StockAtJudge int
	Stale        bool // judged on data from a failed collection
	JudgedAt     time.Time
	ResolvedAt   *time.Time
	Resolution   *Resolution
	ResidualQty  *int
}

// IsPending reports whether the judgement is still waiting for CONFIRM.
func (j *ExpiryJudgement) IsPending() bool {
	return j.ResolvedAt == nil
}
