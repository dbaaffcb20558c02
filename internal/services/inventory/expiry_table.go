package inventory

import "github.com/storeops/storeops/internal/config"

// ExpiryTable resolves shelf life and expiry hour by category and delivery
// type.
type ExpiryTable struct {
	defaultDays int
	defaultHour int
	categories  map[string]config.CategoryExpiry
}

// NewExpiryTable builds the lookup table from configuration.
func NewExpiryTable(cfg *config.ExpiryConfig) *ExpiryTable {
	t := &ExpiryTable{
		defaultDays: cfg.DefaultShelfDays,
		defaultHour: cfg.DefaultExpiryHour,
		categories:  make(map[string]config.CategoryExpiry, len(cfg.Categories)),
	}
	for _, c := range cfg.Categories {
		t.categories[c.MidCD] = c
	}
	return t
}

// Lookup returns the shelf days and expiry hour for a category. A
// delivery-specific hour wins over the category hour; unknown categories
// get the defaults.
func (t *ExpiryTable) Lookup(midCD, deliveryType string) (days, hour int) {
	c, ok := t.categories[midCD]
	if !ok {
		return t.defaultDays, t.defaultHour
	}
	if h, ok := c.DeliveryHours[deliveryType]; ok {
		return c.ShelfDays, h
	}
	return c.ShelfDays, c.ExpiryHour
}
