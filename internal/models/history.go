package models

import "time"

// EvalOutcome is one decision-engine evaluation, logged independently of
// the snapshot store.
type EvalOutcome struct {
	StoreID        string
	EvalDate       string
	ItemCD         string
	ItemNM         string
	MidCD          string
	Decision       string
	PredictedQty   float64
	RecommendedQty int
	CurrentStock   int
	PendingQty     int
	DeliveryType   string
}

// OrderTrackingEntry is one placed order line as recorded by the order
// executor.
type OrderTrackingEntry struct {
	ID           int64
	StoreID      string
	OrderDate    string
	ItemCD       string
	ItemNM       string
	MidCD        string
	OrderQty     int
	DeliveryType string
	Status       string
	CreatedAt    time.Time
}
