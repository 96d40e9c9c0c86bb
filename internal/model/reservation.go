package model

// Status enumerates the reservation lifecycle.  Transitions are monotonic:
// PENDING -> {CONFIRMED, CANCELLED}, CONFIRMED -> {IN_USE, CANCELLED,
// COLLECTED}, IN_USE -> {COMPLETED, COLLECTED}, COMPLETED -> COLLECTED.
// A reservation never re-enters PENDING and is never physically deleted;
// terminal records stay addressable by their key.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusInUse     Status = "IN_USE"
	StatusCompleted Status = "COMPLETED"
	StatusCollected Status = "COLLECTED"
	StatusCancelled Status = "CANCELLED"
)

// Active reports whether the reservation still occupies a requester's cap
// slot: every state except the two terminal ones.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusInUse || s == StatusCompleted
}

// Collectible reports whether the reservation's proceeds may still be paid
// out to the lab owner once its end time has passed.
func (s Status) Collectible() bool {
	return s == StatusConfirmed || s == StatusInUse || s == StatusCompleted
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCollected || s == StatusCancelled
}

// Reservation is the authoritative record for a booked lab slot.  Every
// index the engine maintains (calendar, heaps, history buffers) is a view
// derived from these records; when an index entry and a record disagree,
// the record wins.
//
// Fields:
//  LabID          – the reserved lab.
//  Payer          – account financially responsible (wallet account, or the
//                   delegating institution for delegated payments).
//  SubID          – opaque identifier of the individual behind a delegated
//                   payer; empty for direct wallet reservations.
//  OwnerAtBooking – lab owner cached at confirmation time; tolerates
//                   ownership transfer between request and confirmation.
//  PriceCents     – amount owed for the slot (may be zero).
//  Start, End     – slot boundaries as unsigned 32-bit Unix seconds,
//                   Start < End.
//  Status         – lifecycle state, see Status.
//  PeriodStart,   – snapshot of the delegated payer's spending-period start
//  PeriodSeconds    and length taken at request time; used to reject stale
//                   confirmations.  Zero for wallet reservations.
//  OwnerShareCents, PlatformShareCents – fee split resolved once at
//                   confirmation and immutable afterwards.
//  RequestedAt    – when the request transaction ran.
type Reservation struct {
	LabID              uint64 `json:"lab_id"`
	Payer              string `json:"payer"`
	SubID              string `json:"sub_id,omitempty"`
	OwnerAtBooking     string `json:"owner_at_booking,omitempty"`
	PriceCents         uint64 `json:"price_cents"`
	Start              uint32 `json:"start"`
	End                uint32 `json:"end"`
	Status             Status `json:"status"`
	PeriodStart        uint32 `json:"period_start,omitempty"`
	PeriodSeconds      uint32 `json:"period_seconds,omitempty"`
	OwnerShareCents    uint64 `json:"owner_share_cents"`
	PlatformShareCents uint64 `json:"platform_share_cents"`
	RequestedAt        uint32 `json:"requested_at"`
}

// Key returns the deterministic reservation key for this record.
func (r *Reservation) Key() ReservationKey { return KeyFor(r.LabID, r.Start) }

// TrackingKey returns the identity this reservation is indexed under.
func (r *Reservation) TrackingKey() TrackingKey {
	return ResolveTrackingKey(r.Payer, r.SubID)
}

// Delegated reports whether payment flows through an institutional budget
// rather than the payer's own wallet.
func (r *Reservation) Delegated() bool { return r.SubID != "" }

// Interval is a half-open [Start, End) time range, as stored in the
// per-lab calendar.
type Interval struct {
	Start uint32 `json:"start"`
	End   uint32 `json:"end"`
}
