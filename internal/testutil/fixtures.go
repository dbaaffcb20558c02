package testutil

import (
	"time"

	"github.com/storeops/storeops/internal/models"
	"github.com/storeops/storeops/internal/util"
)

// FixtureStoreID is the store every fixture belongs to by default.
const FixtureStoreID = "46513"

// FixtureDay is the default business date of fixtures.
var FixtureDay = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

// FixtureBatch creates an active one-day batch received on FixtureDay that
// expires the next day at 02:00.
func FixtureBatch(overrides ...func(*models.InventoryBatch)) *models.InventoryBatch {
	b := &models.InventoryBatch{
		StoreID:        FixtureStoreID,
		ItemCD:         "8801043015004",
		ItemNM:         "Tuna mayo rice ball",
		MidCD:          "002",
		DeliveryType:   "1",
		ReceivingDate:  FixtureDay,
		ExpirationDays: 1,
		ExpiryHour:     2,
		InitialQty:     10,
		RemainingQty:   10,
		Status:         models.BatchStatusActive,
	}

	for _, override := range overrides {
		override(b)
	}

	// Derived fields follow whatever the overrides set.
	b.ExpiryDate = util.AddDays(b.ReceivingDate, b.ExpirationDays)
	b.ExpiresAt = util.AtHour(b.ExpiryDate, b.ExpiryHour)
	return b
}

// FixtureDailyFact creates a daily fact for FixtureDay.
func FixtureDailyFact(overrides ...func(*models.DailyFact)) *models.DailyFact {
	f := &models.DailyFact{
		StoreID:   FixtureStoreID,
		ItemCD:    "8801043015004",
		ItemNM:    "Tuna mayo rice ball",
		MidCD:     "002",
		SalesDate: util.FormatDate(FixtureDay),
		SaleQty:   0,
		StockQty:  10,
	}

	for _, override := range overrides {
		override(f)
	}

	return f
}

// FixtureReceivingFact creates a slip line ordered on FixtureDay and
// delivered the next day.
func FixtureReceivingFact(overrides ...func(*models.ReceivingFact)) *models.ReceivingFact {
	f := &models.ReceivingFact{
		StoreID:          FixtureStoreID,
		SlipID:           "SLIP-0001",
		ItemCD:           "8801043015004",
		ItemNM:           "Tuna mayo rice ball",
		MidCD:            "002",
		OrderDate:        util.FormatDate(FixtureDay),
		ReceivingDate:    util.FormatDate(util.AddDays(FixtureDay, 1)),
		OrderQty:         4,
		ReceivingQty:     4,
		DeliveryGrouping: "1",
	}

	for _, override := range overrides {
		override(f)
	}

	return f
}

// FixtureSnapshot creates a live, unexecuted snapshot for FixtureDay.
func FixtureSnapshot(overrides ...func(*models.OrderSnapshot)) *models.OrderSnapshot {
	conf := 0.8
	unit := 1
	s := &models.OrderSnapshot{
		StoreID:        FixtureStoreID,
		OrderDate:      util.FormatDate(FixtureDay),
		ItemCD:         "8801043015004",
		ItemNM:         "Tuna mayo rice ball",
		MidCD:          "002",
		PredictedQty:   3.6,
		RecommendedQty: 4,
		FinalOrderQty:  4,
		CurrentStock:   2,
		PendingQty:     0,
		EvalDecision:   "NORMAL_ORDER",
		DeliveryType:   "1",
		Confidence:     &conf,
		OrderUnitQty:   &unit,
		Source:         models.SnapshotSourceLive,
	}

	for _, override := range overrides {
		override(s)
	}

	return s
}
