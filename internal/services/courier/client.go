// Package courier is the outbound client for the shipping provider. The
// ledger only depends on CancelLabel; quoting, booking and tracking feed the
// reconciliation cost records.
package courier

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Dependency is the breaker name used for every courier call.
const Dependency = "courier"

// Client defines the courier operations
type Client interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	Book(ctx context.Context, req BookRequest) (*Booking, error)
	Track(ctx context.Context, trackingNumber string) (*Tracking, error)
	CancelLabel(ctx context.Context, shipmentID string) error
}

type Address struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type QuoteRequest struct {
	From     Address         `json:"from"`
	To       Address         `json:"to"`
	WeightKg decimal.Decimal `json:"weight_kg"`
	Service  string          `json:"service,omitempty"`
}

type Quote struct {
	Courier  string          `json:"courier"`
	Service  string          `json:"service"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

type BookRequest struct {
	ShipmentID     string          `json:"shipment_id"`
	From           Address         `json:"from"`
	To             Address         `json:"to"`
	WeightKg       decimal.Decimal `json:"weight_kg"`
	Service        string          `json:"service"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Booking is a purchased label. Cost is what the courier bills us.
type Booking struct {
	ShipmentID     string          `json:"shipment_id"`
	TrackingNumber string          `json:"tracking_number"`
	LabelURL       string          `json:"label_url"`
	Courier        string          `json:"courier"`
	Cost           decimal.Decimal `json:"cost"`
}

type Tracking struct {
	TrackingNumber string    `json:"tracking_number"`
	Status         string    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
}
