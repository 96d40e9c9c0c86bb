package engine

import (
	"context"
	"sync"
	"time"

	"github.com/decentralabs/lab-reservation/internal/model"
)

// Fixed structural limits.  The source system treats these as invariants
// rather than tunables, and the tests rely on them staying fixed.
const (
	// maxActivePerTracking caps how many cap-occupying reservations a
	// single (lab, tracking key) pair may hold at once.
	maxActivePerTracking = 10
	// labHistoryCap and userHistoryCap bound the history buffers.
	labHistoryCap  = 40
	userHistoryCap = 20
	// maxCollectBatch bounds how many payouts one Collect call may settle.
	maxCollectBatch = 100
)

// LabRegistry resolves labs and their owners.  Ownership is re-queried at
// confirmation and at collection so transfers between calls are honoured.
type LabRegistry interface {
	Lab(ctx context.Context, labID uint64) (*model.Lab, error)
	OwnerOf(ctx context.Context, labID uint64) (string, error)
	// CanFulfill reports whether the owner is currently allowed to serve
	// bookings for the lab (listing / stake equivalent).
	CanFulfill(ctx context.Context, owner string, labID uint64) (bool, error)
}

// FundLedger moves money between requester wallets, the engine's escrow
// and payout recipients.  Implementations must make Available a pure
// check: no funds move before confirmation.
type FundLedger interface {
	Available(ctx context.Context, payer string, amountCents uint64) (bool, error)
	// TransferFrom pulls amountCents from payer into escrow.
	TransferFrom(ctx context.Context, payer string, amountCents uint64) error
	// Transfer pays amountCents out of escrow to recipient.
	Transfer(ctx context.Context, recipient string, amountCents uint64) error
}

// DelegatedSpender charges institutional budgets keyed by (delegator,
// subID).  CheckAvailability returns the current spending-period window so
// the engine can snapshot it at request time and reject confirmations that
// straddle a period rollover.
type DelegatedSpender interface {
	CheckAvailability(ctx context.Context, delegator, subID string, amountCents uint64) (periodStart, periodSeconds uint32, ok bool, err error)
	Spend(ctx context.Context, delegator, subID string, amountCents uint64) error
	Refund(ctx context.Context, delegator, subID string, amountCents uint64) error
}

// ActivityNotifier learns about successful confirmations and collections.
// Mere requests never notify, so request spam cannot extend an owner's
// lock window.
type ActivityNotifier interface {
	NotifyLastActivity(ctx context.Context, owner string)
}

// Deps carries the engine's collaborators and settings.
type Deps struct {
	Labs     LabRegistry
	Wallet   FundLedger
	Budgets  DelegatedSpender
	Notifier ActivityNotifier // optional
	Clock    func() uint32    // optional, defaults to wall clock seconds

	// FeeBPS is the platform fee in basis points, resolved into the split
	// fields at confirmation.  Treasury receives the platform share.
	FeeBPS   uint32
	Treasury string
}

// Engine is the reservation scheduling and accounting core.  All state is
// in memory and owned exclusively by the engine; every exported method is
// one run-to-completion transaction under the mutex, so callers never
// observe a half-updated index.
type Engine struct {
	mu sync.Mutex

	reservations map[model.ReservationKey]*model.Reservation
	calendar     *bookingCalendar
	// live flags heap entries that are still meaningful; shared between
	// the active index and the payout queue.
	live    map[model.ReservationKey]bool
	active  *activeIndex
	payouts *payoutQueue
	hist    *history
	// counters holds the cap-occupying reservation count per (lab,
	// tracking key); capHeld marks which reservations occupy a slot so a
	// release and a later collect cannot decrement twice.
	counters map[trackingRef]int
	capHeld  map[model.ReservationKey]bool

	labs     LabRegistry
	wallet   FundLedger
	budgets  DelegatedSpender
	notifier ActivityNotifier
	clock    func() uint32

	feeBPS   uint32
	treasury string
}

// New constructs an engine.  Labs and Wallet are mandatory; Budgets may be
// nil when delegated payments are disabled.
func New(d Deps) *Engine {
	if d.Labs == nil || d.Wallet == nil {
		panic("nil collaborator passed to engine.New")
	}
	clock := d.Clock
	if clock == nil {
		clock = func() uint32 { return uint32(time.Now().Unix()) }
	}
	live := make(map[model.ReservationKey]bool)
	return &Engine{
		reservations: make(map[model.ReservationKey]*model.Reservation),
		calendar:     newBookingCalendar(),
		live:         live,
		active:       newActiveIndex(live),
		payouts:      newPayoutQueue(live),
		hist:         newHistory(labHistoryCap, userHistoryCap),
		counters:     make(map[trackingRef]int),
		capHeld:      make(map[model.ReservationKey]bool),
		labs:         d.Labs,
		wallet:       d.Wallet,
		budgets:      d.Budgets,
		notifier:     d.Notifier,
		clock:        clock,
		feeBPS:       d.FeeBPS,
		treasury:     d.Treasury,
	}
}

// lookup resolves a key to its live record; used as the validity callback
// for every lazy heap operation.
func (e *Engine) lookup(key model.ReservationKey) *model.Reservation {
	return e.reservations[key]
}

// holdCap registers a cap slot for the reservation.
func (e *Engine) holdCap(ref trackingRef, key model.ReservationKey) {
	e.counters[ref]++
	e.capHeld[key] = true
}

// releaseCap frees the reservation's cap slot exactly once.
func (e *Engine) releaseCap(ref trackingRef, key model.ReservationKey) {
	if !e.capHeld[key] {
		return
	}
	delete(e.capHeld, key)
	if e.counters[ref] > 0 {
		e.counters[ref]--
	}
}

// releaseExpiredLocked pops up to max expired entries off the requester's
// active heap, completes them and frees their cap slots.  The records stay
// collectible for the lab owner.  Caller holds the mutex.
func (e *Engine) releaseExpiredLocked(ref trackingRef, now uint32, max int) int {
	released := 0
	for released < max {
		key, ok := e.active.popExpiredRoot(ref, now, e.lookup)
		if !ok {
			break
		}
		r := e.reservations[key]
		if r.Status == model.StatusConfirmed || r.Status == model.StatusInUse {
			r.Status = model.StatusCompleted
		}
		e.releaseCap(ref, key)
		released++
	}
	return released
}

// cancelLocked applies every index update shared by the cancellation
// paths: terminal status, calendar removal, cap release, lazy heap
// invalidation and the past buffers.  It performs no refund; callers
// transfer funds after this returns, never before.
func (e *Engine) cancelLocked(r *model.Reservation, key model.ReservationKey, hadCalendar bool) {
	ref := trackingRef{labID: r.LabID, tkey: r.TrackingKey()}
	r.Status = model.StatusCancelled
	if hadCalendar {
		e.calendar.remove(r.LabID, r.Start)
	}
	e.releaseCap(ref, key)
	e.active.invalidate(ref, key)
	e.hist.recordPast(ref, key, r.End)
}

// Request validates a new reservation and records it as PENDING.  Payment
// is lazy: the payer's funds or budget are checked but nothing is moved
// and no calendar slot is blocked until confirmation succeeds.  When the
// requester is at their cap, one expired entry is auto-released before the
// cap verdict.
func (e *Engine) Request(ctx context.Context, labID uint64, start, end uint32, payer, subID string) (model.ReservationKey, model.Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	if start >= end || start < now {
		return model.ReservationKey{}, model.Reservation{}, ErrInvalidRange
	}
	lab, err := e.labs.Lab(ctx, labID)
	if err != nil || lab == nil {
		return model.ReservationKey{}, model.Reservation{}, ErrLabNotFound
	}
	if !lab.IsListed {
		return model.ReservationKey{}, model.Reservation{}, ErrLabNotListed
	}

	key := model.KeyFor(labID, start)
	if existing := e.reservations[key]; existing != nil && existing.Status != model.StatusCancelled {
		return model.ReservationKey{}, model.Reservation{}, ErrSlotUnavailable
	}
	if e.calendar.overlaps(labID, start, end) {
		return model.ReservationKey{}, model.Reservation{}, ErrSlotUnavailable
	}

	ref := trackingRef{labID: labID, tkey: model.ResolveTrackingKey(payer, subID)}
	if e.counters[ref] >= maxActivePerTracking {
		e.releaseExpiredLocked(ref, now, 1)
	}
	if e.counters[ref] >= maxActivePerTracking {
		return model.ReservationKey{}, model.Reservation{}, ErrCapExceeded
	}

	price := lab.PriceFor(start, end)
	r := &model.Reservation{
		LabID:       labID,
		Payer:       payer,
		SubID:       subID,
		PriceCents:  price,
		Start:       start,
		End:         end,
		Status:      model.StatusPending,
		RequestedAt: now,
	}
	if subID != "" {
		if e.budgets == nil {
			return model.ReservationKey{}, model.Reservation{}, ErrInsufficientFunds
		}
		periodStart, periodSeconds, ok, err := e.budgets.CheckAvailability(ctx, payer, subID, price)
		if err != nil || !ok {
			return model.ReservationKey{}, model.Reservation{}, ErrInsufficientFunds
		}
		r.PeriodStart = periodStart
		r.PeriodSeconds = periodSeconds
	} else if price > 0 {
		ok, err := e.wallet.Available(ctx, payer, price)
		if err != nil || !ok {
			return model.ReservationKey{}, model.Reservation{}, ErrInsufficientFunds
		}
	}

	e.reservations[key] = r
	e.holdCap(ref, key)
	return key, *r, nil
}

// ConfirmResult reports the deliberate outcome of a confirmation attempt.
// A denial is a successful outcome, not an error: operators batch-confirm
// many reservations and one payer's empty wallet must not abort the batch.
type ConfirmResult struct {
	Denied      bool              `json:"denied"`
	Reason      string            `json:"reason,omitempty"`
	Reservation model.Reservation `json:"reservation"`
}

// denyLocked cancels a PENDING reservation in place.  Nothing was ever
// collected or inserted for it, so only the record, the cap counter and
// the past buffers change.
func (e *Engine) denyLocked(r *model.Reservation, key model.ReservationKey) {
	e.cancelLocked(r, key, false)
}

// Confirm attempts to fund and activate a PENDING reservation.  The lab
// owner is re-resolved and re-validated, the delegated period snapshot is
// checked for staleness, and payment is collected.  Any downstream failure
// auto-denies the reservation; only a missing record or a wrong status is
// an error.
func (e *Engine) Confirm(ctx context.Context, key model.ReservationKey) (ConfirmResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.reservations[key]
	if r == nil {
		return ConfirmResult{}, ErrReservationNotFound
	}
	if r.Status != model.StatusPending {
		return ConfirmResult{}, ErrWrongStatus
	}

	deny := func(reason string) (ConfirmResult, error) {
		e.denyLocked(r, key)
		return ConfirmResult{Denied: true, Reason: reason, Reservation: *r}, nil
	}

	owner, err := e.labs.OwnerOf(ctx, r.LabID)
	if err != nil || owner == "" {
		return deny("lab owner unresolved")
	}
	if ok, err := e.labs.CanFulfill(ctx, owner, r.LabID); err != nil || !ok {
		return deny("owner cannot fulfill")
	}
	// A slot that overlapped only PENDING records at request time may have
	// been taken by a competing confirmation in the meantime.
	if e.calendar.overlaps(r.LabID, r.Start, r.End) {
		return deny("slot no longer available")
	}

	if r.Delegated() {
		if e.budgets == nil {
			return deny("delegated payments disabled")
		}
		periodStart, _, ok, err := e.budgets.CheckAvailability(ctx, r.Payer, r.SubID, r.PriceCents)
		if err != nil || !ok {
			return deny("budget exhausted")
		}
		if periodStart != r.PeriodStart {
			return deny("spending period rolled over")
		}
		if err := e.budgets.Spend(ctx, r.Payer, r.SubID, r.PriceCents); err != nil {
			return deny("budget charge failed")
		}
	} else if r.PriceCents > 0 {
		if err := e.wallet.TransferFrom(ctx, r.Payer, r.PriceCents); err != nil {
			return deny("payment failed")
		}
	}

	r.OwnerAtBooking = owner
	r.PlatformShareCents = r.PriceCents * uint64(e.feeBPS) / 10000
	r.OwnerShareCents = r.PriceCents - r.PlatformShareCents
	r.Status = model.StatusConfirmed

	ref := trackingRef{labID: r.LabID, tkey: r.TrackingKey()}
	e.calendar.insert(r.LabID, r.Start, r.End)
	e.active.enqueue(ref, key, r.Start)
	e.payouts.enqueue(r.LabID, key, r.End)
	e.hist.recordBooked(ref, key, r.Start)

	if e.notifier != nil {
		e.notifier.NotifyLastActivity(ctx, owner)
	}
	return ConfirmResult{Reservation: *r}, nil
}

// Deny explicitly rejects a PENDING reservation.  Only the lab's current
// owner or an admin may deny.
func (e *Engine) Deny(ctx context.Context, key model.ReservationKey, caller string, admin bool) (model.Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.reservations[key]
	if r == nil {
		return model.Reservation{}, ErrReservationNotFound
	}
	if r.Status != model.StatusPending {
		return model.Reservation{}, ErrWrongStatus
	}
	if !admin {
		owner, err := e.labs.OwnerOf(ctx, r.LabID)
		if err != nil || owner != caller {
			return model.Reservation{}, ErrForbidden
		}
	}
	e.denyLocked(r, key)
	return *r, nil
}

// CancelPending withdraws a reservation that was never confirmed.  Nothing
// was collected for it, so nothing is refunded.
func (e *Engine) CancelPending(ctx context.Context, key model.ReservationKey, caller string, admin bool) (model.Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.reservations[key]
	if r == nil {
		return model.Reservation{}, ErrReservationNotFound
	}
	if r.Status != model.StatusPending {
		return model.Reservation{}, ErrWrongStatus
	}
	if !admin && caller != r.Payer {
		return model.Reservation{}, ErrForbidden
	}
	e.cancelLocked(r, key, false)
	return *r, nil
}

// CancelConfirmed cancels a funded reservation and refunds exactly what
// was collected.  The payer, the lab's current owner and admins may
// cancel.  All index updates happen before the refund transfer.
func (e *Engine) CancelConfirmed(ctx context.Context, key model.ReservationKey, caller string, admin bool) (model.Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.reservations[key]
	if r == nil {
		return model.Reservation{}, ErrReservationNotFound
	}
	if r.Status != model.StatusConfirmed && r.Status != model.StatusInUse {
		return model.Reservation{}, ErrWrongStatus
	}
	if !admin && caller != r.Payer {
		owner, err := e.labs.OwnerOf(ctx, r.LabID)
		if err != nil || owner != caller {
			return model.Reservation{}, ErrForbidden
		}
	}

	e.cancelLocked(r, key, true)

	if r.PriceCents > 0 {
		var err error
		if r.Delegated() {
			err = e.budgets.Refund(ctx, r.Payer, r.SubID, r.PriceCents)
		} else {
			err = e.wallet.Transfer(ctx, r.Payer, r.PriceCents)
		}
		if err != nil {
			// Indices are already consistent; surface the transfer failure
			// so the operator can retry the payout out of band.
			return *r, err
		}
	}
	return *r, nil
}

// MarkInUse transitions CONFIRMED to IN_USE once the slot has started.
// The payer, the owner and admins may check in.
func (e *Engine) MarkInUse(ctx context.Context, key model.ReservationKey, caller string, admin bool) (model.Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.reservations[key]
	if r == nil {
		return model.Reservation{}, ErrReservationNotFound
	}
	if r.Status != model.StatusConfirmed {
		return model.Reservation{}, ErrWrongStatus
	}
	if err := e.authorizeUsage(ctx, r, caller, admin); err != nil {
		return model.Reservation{}, err
	}
	now := e.clock()
	if now < r.Start || now >= r.End {
		return model.Reservation{}, ErrWrongStatus
	}
	r.Status = model.StatusInUse
	return *r, nil
}

// MarkCompleted finishes usage of a reservation: IN_USE at any time, or
// CONFIRMED once its end has passed.  The record stays collectible and
// keeps its cap slot until collection or release.
func (e *Engine) MarkCompleted(ctx context.Context, key model.ReservationKey, caller string, admin bool) (model.Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.reservations[key]
	if r == nil {
		return model.Reservation{}, ErrReservationNotFound
	}
	switch r.Status {
	case model.StatusInUse:
	case model.StatusConfirmed:
		if e.clock() < r.End {
			return model.Reservation{}, ErrWrongStatus
		}
	default:
		return model.Reservation{}, ErrWrongStatus
	}
	if err := e.authorizeUsage(ctx, r, caller, admin); err != nil {
		return model.Reservation{}, err
	}
	r.Status = model.StatusCompleted
	return *r, nil
}

func (e *Engine) authorizeUsage(ctx context.Context, r *model.Reservation, caller string, admin bool) error {
	if admin || caller == r.Payer {
		return nil
	}
	owner, err := e.labs.OwnerOf(ctx, r.LabID)
	if err != nil || owner != caller {
		return ErrForbidden
	}
	return nil
}

// ReleaseExpired lets a requester free their own cap slots for
// reservations whose end has passed while the owner has not collected
// yet.  Up to maxBatch entries transition to COMPLETED and stop counting
// against the cap; their payouts remain claimable.
func (e *Engine) ReleaseExpired(labID uint64, payer, subID string, maxBatch int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if maxBatch <= 0 || maxBatch > maxCollectBatch {
		maxBatch = maxCollectBatch
	}
	ref := trackingRef{labID: labID, tkey: model.ResolveTrackingKey(payer, subID)}
	return e.releaseExpiredLocked(ref, e.clock(), maxBatch)
}

// CollectResult reports one settlement batch.
type CollectResult struct {
	Owner               string   `json:"owner"`
	Collected           int      `json:"collected"`
	OwnerAmountCents    uint64   `json:"owner_amount_cents"`
	PlatformAmountCents uint64   `json:"platform_amount_cents"`
	Keys                []string `json:"keys"`
}

// Collect settles matured reservations for a lab in end-time order.  Only
// the lab's current owner (or an admin, on the owner's behalf) may
// collect.  Each popped reservation transitions to COLLECTED and frees
// its indices; the owner receives one batched transfer for the summed
// owner shares after all state mutation, and the treasury receives the
// summed platform shares.
func (e *Engine) Collect(ctx context.Context, labID uint64, caller string, admin bool, maxBatch int) (CollectResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	owner, err := e.labs.OwnerOf(ctx, labID)
	if err != nil || owner == "" {
		return CollectResult{}, ErrLabNotFound
	}
	if !admin && caller != owner {
		return CollectResult{}, ErrForbidden
	}
	if maxBatch <= 0 || maxBatch > maxCollectBatch {
		maxBatch = maxCollectBatch
	}

	now := e.clock()
	res := CollectResult{Owner: owner, Keys: []string{}}
	for res.Collected < maxBatch {
		key, ok := e.payouts.popEligible(labID, now, e.lookup)
		if !ok {
			break
		}
		r := e.reservations[key]
		ref := trackingRef{labID: labID, tkey: r.TrackingKey()}
		r.Status = model.StatusCollected
		e.releaseCap(ref, key)
		e.active.invalidate(ref, key)
		e.hist.recordPast(ref, key, r.End)
		res.OwnerAmountCents += r.OwnerShareCents
		res.PlatformAmountCents += r.PlatformShareCents
		res.Keys = append(res.Keys, key.String())
		res.Collected++
	}
	if res.Collected == 0 {
		return res, nil
	}

	if res.OwnerAmountCents > 0 {
		if err := e.wallet.Transfer(ctx, owner, res.OwnerAmountCents); err != nil {
			return res, err
		}
	}
	if res.PlatformAmountCents > 0 && e.treasury != "" {
		if err := e.wallet.Transfer(ctx, e.treasury, res.PlatformAmountCents); err != nil {
			return res, err
		}
	}
	if e.notifier != nil {
		e.notifier.NotifyLastActivity(ctx, owner)
	}
	return res, nil
}

// PrunePayouts removes up to maxIterations dead entries from a lab's
// payout heap.  Maintenance only; never required for correctness.
func (e *Engine) PrunePayouts(labID uint64, maxIterations int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if maxIterations <= 0 || maxIterations > maxCollectBatch {
		maxIterations = maxCollectBatch
	}
	return e.payouts.prune(labID, maxIterations, e.lookup)
}
