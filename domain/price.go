// Package domain defines core types and interfaces for the price stream client
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingProductID   = errors.New("missing product_id")
	ErrMissingPrice       = errors.New("missing new_price")
	ErrInvalidChangeType  = errors.New("invalid change_type")
	ErrInconsistentChange = errors.New("change_type does not match sign of price_change")
	ErrInvalidTimestamp   = errors.New("invalid changed_at")
)

// ChangeType is the direction of a price change
type ChangeType string

const (
	Increase  ChangeType = "increase"
	Decrease  ChangeType = "decrease"
	Unchanged ChangeType = "unchanged"
)

// ChangeTypeFor returns the change type matching the sign of delta
func ChangeTypeFor(delta decimal.Decimal) ChangeType {
	switch delta.Sign() {
	case 1:
		return Increase
	case -1:
		return Decrease
	default:
		return Unchanged
	}
}

// Valid reports whether t is one of the known change types
func (t ChangeType) Valid() bool {
	return t == Increase || t == Decrease || t == Unchanged
}

// PriceUpdateEvent is one server-pushed price change notification
type PriceUpdateEvent struct {
	ProductID   int64           `json:"product_id"`
	NewPrice    decimal.Decimal `json:"new_price"`
	PriceChange decimal.Decimal `json:"price_change"`
	ChangeType  ChangeType      `json:"change_type"`
	ChangedAt   time.Time       `json:"changed_at"`
	ProductName string          `json:"product_name"`
}

// wireEvent mirrors the JSON payload; pointers distinguish absent fields from zero values
type wireEvent struct {
	ProductID   *int64           `json:"product_id"`
	NewPrice    *decimal.Decimal `json:"new_price"`
	PriceChange *decimal.Decimal `json:"price_change"`
	ChangeType  *string          `json:"change_type"`
	ChangedAt   *string          `json:"changed_at"`
	ProductName string           `json:"product_name"`
}

// timestamp layouts accepted for changed_at; the last one is what Postgres
// produces for a timestamp without time zone
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParsePriceUpdate decodes a stream payload into a PriceUpdateEvent
func ParsePriceUpdate(data []byte) (PriceUpdateEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return PriceUpdateEvent{}, fmt.Errorf("failed to decode price update: %w", err)
	}

	if w.ProductID == nil {
		return PriceUpdateEvent{}, ErrMissingProductID
	}

	if w.NewPrice == nil {
		return PriceUpdateEvent{}, ErrMissingPrice
	}

	ev := PriceUpdateEvent{
		ProductID:   *w.ProductID,
		NewPrice:    *w.NewPrice,
		ProductName: w.ProductName,
	}

	if w.PriceChange != nil {
		ev.PriceChange = *w.PriceChange
	}

	derived := ChangeTypeFor(ev.PriceChange)
	if w.ChangeType == nil || *w.ChangeType == "" {
		ev.ChangeType = derived
	} else {
		ev.ChangeType = ChangeType(strings.ToLower(*w.ChangeType))
		if !ev.ChangeType.Valid() {
			return PriceUpdateEvent{}, fmt.Errorf("%w: %q", ErrInvalidChangeType, *w.ChangeType)
		}

		if ev.ChangeType != derived {
			return PriceUpdateEvent{}, fmt.Errorf("%w: %s with delta %s", ErrInconsistentChange, ev.ChangeType, ev.PriceChange)
		}
	}

	if w.ChangedAt != nil && *w.ChangedAt != "" {
		ts, err := parseTimestamp(*w.ChangedAt)
		if err != nil {
			return PriceUpdateEvent{}, err
		}

		ev.ChangedAt = ts
	}

	return ev, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}
