package models

import "time"

// SnapshotSource records how a snapshot row was produced.
type SnapshotSource string

const (
	// SnapshotSourceLive rows were captured when the decision engine ran.
	SnapshotSourceLive SnapshotSource = "live"
	// SnapshotSourceBackfill rows were reconstructed from history and carry
	// no confidence or order-unit metadata.
	SnapshotSourceBackfill SnapshotSource = "backfill"
)

// OrderSnapshot is the automated order decision for one store, order date
// and item. It may be rewritten until ExecutedAt is set.
type OrderSnapshot struct {
	StoreID        string `validate:"required"`
	OrderDate      string `validate:"required,datetime=2006-01-02"`
	ItemCD         string `validate:"required"`
	ItemNM         string
	MidCD          string
	PredictedQty   float64 `validate:"gte=0"`
	RecommendedQty int     `validate:"gte=0"`
	FinalOrderQty  int     `validate:"gte=0"`
	CurrentStock   int
	PendingQty     int `validate:"gte=0"`
	EvalDecision   string
	DeliveryType   string
	Confidence     *float64 `validate:"omitempty,gte=0,lte=1"`
	OrderUnitQty   *int     `validate:"omitempty,gt=0"`
	OrderSuccess   *bool
	Source         SnapshotSource `validate:"oneof=live backfill"`
	ExecutedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsExecuted reports whether the order was placed and the row is frozen.
func (s *OrderSnapshot) IsExecuted() bool {
	return s.ExecutedAt != nil
}

// DecisionRecord is one per-item output of the external decision engine.
type DecisionRecord struct {
	ItemCD           string   `json:"item_cd" validate:"required"`
	ItemNM           string   `json:"item_nm"`
	MidCD            string   `json:"mid_cd"`
	PredictedQty     float64  `json:"predicted_qty" validate:"gte=0"`
	RecommendedQty   int      `json:"recommended_qty" validate:"gte=0"`
	FinalOrderQty    int      `json:"final_order_qty" validate:"gte=0"`
	CurrentStock     int      `json:"current_stock"`
	PendingQty       int      `json:"pending_qty" validate:"gte=0"`
	DecisionLabel    string   `json:"decision_label"`
	Confidence       *float64 `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	OrderUnitQty     *int     `json:"order_unit_qty" validate:"omitempty,gt=0"`
	DeliveryGrouping string   `json:"delivery_grouping"`
}

// ToSnapshot maps the record onto a live snapshot for storeID and orderDate.
func (d DecisionRecord) ToSnapshot(storeID, orderDate string) *OrderSnapshot {
	return &OrderSnapshot{
		StoreID:        storeID,
		OrderDate:      orderDate,
		ItemCD:         d.ItemCD,
		ItemNM:         d.ItemNM,
		MidCD:          d.MidCD,
		PredictedQty:   d.PredictedQty,
		RecommendedQty: d.RecommendedQty,
		FinalOrderQty:  d.FinalOrderQty,
		CurrentStock:   d.CurrentStock,
		PendingQty:     d.PendingQty,
		EvalDecision:   d.DecisionLabel,
		DeliveryType:   d.DeliveryGrouping,
		Confidence:     d.Confidence,
		OrderUnitQty:   d.OrderUnitQty,
		Source:         SnapshotSourceLive,
	}
}
