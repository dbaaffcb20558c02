// Package util provides small shared helpers for storeops.
package util

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewRunID returns a time-ordered identifier for a collection or scheduler run.
// UUIDv7 keeps run ids sortable in logs.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// ExpiryEventID keys one expiry event: a store, a business date and an
// expiry hour. JUDGE and CONFIRM for the same event share this key, and no
// two hours of the same day can collide.
// Format: {store}:{yyyy-mm-dd}:{hh}
func ExpiryEventID(storeID string, date time.Time, hour int) string {
	return fmt.Sprintf("%s:%s:%02d", storeID, FormatDate(date), hour)
}
