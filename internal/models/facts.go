package models

import "time"

// DailyFact is the collector's latest sales and stock figure for a store,
// item and day. StockQty is the authoritative on-hand count.
type DailyFact struct {
	StoreID     string    `json:"store_id" validate:"required"`
	ItemCD      string    `json:"item_cd" validate:"required"`
	ItemNM      string    `json:"item_nm"`
	MidCD       string    `json:"mid_cd"`
	SalesDate   string    `json:"sales_date" validate:"required,datetime=2006-01-02"`
	SaleQty     int       `json:"sale_qty" validate:"gte=0"`
	StockQty    int       `json:"stock_qty" validate:"gte=0"`
	CollectedAt time.Time `json:"collected_at"`
}

// ReceivingFact is one delivery slip line: the confirmed order and the
// quantity actually delivered.
type ReceivingFact struct {
	StoreID          string    `json:"store_id" validate:"required"`
	SlipID           string    `json:"slip_id" validate:"required"`
	ItemCD           string    `json:"item_cd" validate:"required"`
	ItemNM           string    `json:"item_nm"`
	MidCD            string    `json:"mid_cd"`
	OrderDate        string    `json:"order_date" validate:"required,datetime=2006-01-02"`
	ReceivingDate    string    `json:"receiving_date" validate:"required,datetime=2006-01-02"`
	OrderQty         int       `json:"order_qty" validate:"gte=0"`
	ReceivingQty     int       `json:"receiving_qty" validate:"gte=0"`
	DeliveryGrouping string    `json:"delivery_grouping"`
	CollectedAt      time.Time `json:"collected_at"`
}
