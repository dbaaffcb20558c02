package models

import (
	"errors"
	"testing"
	"time"
)

func TestBatchStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from BatchStatus
		to   BatchStatus
		want bool
	}{
		{"active to consumed", BatchStatusActive, BatchStatusConsumed, true},
		{"active to expired", BatchStatusActive, BatchStatusExpired, true},
		{"active to active", BatchStatusActive, BatchStatusActive, false},
		{"consumed to expired", BatchStatusConsumed, BatchStatusExpired, false},
		{"expired to active", BatchStatusExpired, BatchStatusActive, false},
		{"expired to consumed", BatchStatusExpired, BatchStatusConsumed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestInventoryBatch_Validate(t *testing.T) {
	valid := func() InventoryBatch {
		return InventoryBatch{
			StoreID:        "46513",
			ItemCD:         "8801234",
			ExpirationDays: 1,
			InitialQty:     5,
			RemainingQty:   5,
			Status:         BatchStatusActive,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*InventoryBatch)
		wantErr bool
	}{
		{"valid", func(*InventoryBatch) {}, false},
		{"missing item", func(b *InventoryBatch) { b.ItemCD = "" }, true},
		{"zero initial", func(b *InventoryBatch) { b.InitialQty = 0; b.RemainingQty = 0 }, true},
		{"remaining above initial", func(b *InventoryBatch) { b.RemainingQty = 6 }, true},
		{"negative remaining", func(b *InventoryBatch) { b.RemainingQty = -1 }, true},
		{"empty but active", func(b *InventoryBatch) { b.RemainingQty = 0 }, true},
		{"empty and consumed", func(b *InventoryBatch) { b.RemainingQty = 0; b.Status = BatchStatusConsumed }, false},
		{"negative shelf life", func(b *InventoryBatch) { b.ExpirationDays = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid()
			tt.mutate(&b)
			err := b.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidBatch) {
				t.Errorf("Validate() error = %v, want ErrInvalidBatch", err)
			}
		})
	}
}

func TestInventoryBatch_IsExpiredAt(t *testing.T) {
	expires := time.Date(2025, 3, 15, 2, 0, 0, 0, time.UTC)
	b := &InventoryBatch{ExpiresAt: expires}

	if b.IsExpiredAt(expires.Add(-time.Minute)) {
		t.Error("batch should not be expired a minute early")
	}
	if !b.IsExpiredAt(expires) {
		t.Error("batch should be expired at its expiry instant")
	}
}

func TestDecisionRecord_ToSnapshot(t *testing.T) {
	conf := 0.82
	unit := 6
	rec := DecisionRecord{
		ItemCD:           "8801234",
		PredictedQty:     3.4,
		RecommendedQty:   4,
		FinalOrderQty:    6,
		DecisionLabel:    "NORMAL_ORDER",
		Confidence:       &conf,
		OrderUnitQty:     &unit,
		DeliveryGrouping: "1",
	}

	s := rec.ToSnapshot("46513", "2025-03-14")
	if s.Source != SnapshotSourceLive {
		t.Errorf("Source = %s, want live", s.Source)
	}
	if s.EvalDecision != "NORMAL_ORDER" || s.DeliveryType != "1" {
		t.Errorf("label/grouping not mapped: %+v", s)
	}
	if s.FinalOrderQty != 6 || *s.Confidence != conf || *s.OrderUnitQty != unit {
		t.Errorf("quantities not mapped: %+v", s)
	}
	if s.IsExecuted() {
		t.Error("new snapshot must not be executed")
	}
}
