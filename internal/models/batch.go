package models

import (
	"errors"
	"fmt"
	"time"
)

// BatchStatus represents where a batch is in its lifecycle.
type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "active"
	BatchStatusConsumed BatchStatus = "consumed"
	BatchStatusExpired  BatchStatus = "expired"
)

func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is allowed.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusConsumed || s == BatchStatusExpired
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Only active batches move, and only to a terminal status.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	return s == BatchStatusActive && next.IsTerminal()
}

// InventoryBatch is one receiving event's residual stock for a store and item.
type InventoryBatch struct {
	ID             int64
	StoreID        string
	ItemCD         string
	ItemNM         string
	MidCD          string // category
	DeliveryType   string
	ReceivingDate  time.Time
	ExpirationDays int
	ExpiryDate     time.Time // ReceivingDate + ExpirationDays
	ExpiryHour     int
	ExpiresAt      time.Time // ExpiryDate at ExpiryHour, chain time
	InitialQty     int
	RemainingQty   int
	Status         BatchStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrInvalidBatch marks a batch whose quantities break the ledger invariants.
var ErrInvalidBatch = errors.New("invalid batch")

// Validate checks the quantity and status invariants.
func (b *InventoryBatch) Validate() error {
	switch {
	case b.StoreID == "" || b.ItemCD == "":
		return fmt.Errorf("%w: store and item are required", ErrInvalidBatch)
	case b.InitialQty <= 0:
		return fmt.Errorf("%w: initial_qty %d must be positive", ErrInvalidBatch, b.InitialQty)
	case b.RemainingQty < 0 || b.RemainingQty > b.InitialQty:
		return fmt.Errorf("%w: remaining_qty %d outside [0, %d]", ErrInvalidBatch, b.RemainingQty, b.InitialQty)
	case b.RemainingQty == 0 && !b.Status.IsTerminal():
		return fmt.Errorf("%w: empty batch must be terminal, got %s", ErrInvalidBatch, b.Status)
	case b.ExpirationDays < 0:
		return fmt.Errorf("%w: expiration_days %d is negative", ErrInvalidBatch, b.ExpirationDays)
	}
	return nil
}

// IsActive reports whether the batch still holds stock on the shelf.
func (b *InventoryBatch) IsActive() bool {
	return b.Status == BatchStatusActive
}

// IsExpiredAt reports whether the batch has passed its expiry instant.
func (b *InventoryBatch) IsExpiredAt(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// BatchFilter defines filters for querying batches.
type BatchFilter struct {
	StoreID string
	ItemCD  string
	MidCD   string
	Status  *BatchStatus
}

// BatchList represents a paginated list of batches.
type BatchList struct {
	Batches    []*InventoryBatch
	Total      int
	Page       int
	TotalPages int
}
