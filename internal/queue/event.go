// Package queue defines message payloads exchanged over the message broker.
package queue

// Event types carried in ReservationEvent.Type.
const (
	EventConfirmed = "reservation.confirmed"
	EventCancelled = "reservation.cancelled"
	EventCollected = "payout.collected"
)

// ReservationEvent is published on every confirmed or cancelled
// reservation and on every payout batch. It carries enough information
// for downstream consumers to log, notify or feed analytics without
// querying the engine.
type ReservationEvent struct {
	Type           string `json:"type"`
	ReservationKey string `json:"reservation_key,omitempty"`
	LabID          uint64 `json:"lab_id"`
	LabName        string `json:"lab_name,omitempty"`
	Owner          string `json:"owner"`
	Payer          string `json:"payer,omitempty"`
	SubID          string `json:"sub_id,omitempty"`
	Start          uint32 `json:"start,omitempty"`
	End            uint32 `json:"end,omitempty"`
	PriceCents     uint64 `json:"price_cents,omitempty"`

	// Payout batch fields, only set for EventCollected.
	Collected           int      `json:"collected,omitempty"`
	OwnerAmountCents    uint64   `json:"owner_amount_cents,omitempty"`
	PlatformAmountCents uint64   `json:"platform_amount_cents,omitempty"`
	Keys                []string `json:"keys,omitempty"`

	OccurredAt string `json:"occurred_at"`
}
