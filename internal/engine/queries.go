package engine

import "github.com/decentralabs/lab-reservation/internal/model"

// Read-side entry points.  Queries take the engine mutex rather than a
// read lock because several of them resolve lazily: surfacing a stale heap
// or buffer entry during a read is the moment it gets discarded.

// GetReservation returns a snapshot of the record for key.
func (e *Engine) GetReservation(key model.ReservationKey) (model.Reservation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.reservations[key]
	if r == nil {
		return model.Reservation{}, false
	}
	return *r, true
}

// CheckAvailable reports whether [start, end) can currently be requested
// on the lab: a well-formed range, no calendar overlap and no live record
// occupying the slot key.
func (e *Engine) CheckAvailable(labID uint64, start, end uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if start >= end {
		return false
	}
	if existing := e.reservations[model.KeyFor(labID, start)]; existing != nil && existing.Status != model.StatusCancelled {
		return false
	}
	return !e.calendar.overlaps(labID, start, end)
}

// NextAvailableSlot returns the earliest time at or after from where a
// gap of at least minSeconds exists.  With an empty calendar it returns
// from itself.
func (e *Engine) NextAvailableSlot(labID uint64, from uint32, minSeconds uint32) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if minSeconds == 0 {
		minSeconds = 1
	}
	cursor := from
	if iv, ok := e.calendar.containing(labID, cursor); ok {
		cursor = iv.End
	}
	for {
		next, ok := e.calendar.firstAfter(labID, cursor)
		if !ok || next.Start-cursor >= minSeconds {
			return cursor
		}
		cursor = next.End
	}
}

// FindAvailableSlots scans [from, to) and returns up to max gaps of at
// least minSeconds between booked intervals.
func (e *Engine) FindAvailableSlots(labID uint64, from, to uint32, minSeconds uint32, max int) []model.Interval {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []model.Interval{}
	if from >= to || max <= 0 {
		return out
	}
	if minSeconds == 0 {
		minSeconds = 1
	}
	cursor := from
	if iv, ok := e.calendar.containing(labID, cursor); ok {
		cursor = iv.End
	}
	for cursor < to && len(out) < max {
		next, ok := e.calendar.firstAfter(labID, cursor)
		gapEnd := to
		if ok && next.Start < to {
			gapEnd = next.Start
		}
		if gapEnd > cursor && gapEnd-cursor >= minSeconds {
			out = append(out, model.Interval{Start: cursor, End: gapEnd})
		}
		if !ok || next.End >= to {
			break
		}
		cursor = next.End
	}
	return out
}

// BookedSlots returns every confirmed interval for the lab in
// chronological order.
func (e *Engine) BookedSlots(labID uint64) []model.Interval {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calendar.intervals(labID)
}

// ReservationStats aggregates the lab's calendar in a single traversal.
func (e *Engine) ReservationStats(labID uint64) CalendarStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calendar.stats(labID)
}

// FindReservationAt returns the reservation whose interval covers tm.
func (e *Engine) FindReservationAt(labID uint64, tm uint32) (model.Reservation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	iv, ok := e.calendar.containing(labID, tm)
	if !ok {
		return model.Reservation{}, false
	}
	r := e.reservations[model.KeyFor(labID, iv.Start)]
	if r == nil {
		return model.Reservation{}, false
	}
	return *r, true
}

// IsBusy reports whether the lab is occupied at tm.
func (e *Engine) IsBusy(labID uint64, tm uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.calendar.containing(labID, tm)
	return ok
}

// NextExpiration returns the end time of the lab's earliest collectible
// reservation, or false when nothing is pending payout.
func (e *Engine) NextExpiration(labID uint64) (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.payouts.peekNext(labID, e.lookup)
}

// NextActiveReservation returns the requester's earliest still-active
// reservation on the lab.
func (e *Engine) NextActiveReservation(labID uint64, payer, subID string) (model.Reservation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref := trackingRef{labID: labID, tkey: model.ResolveTrackingKey(payer, subID)}
	key, ok := e.active.peekEarliest(ref, e.clock(), e.lookup)
	if !ok {
		return model.Reservation{}, false
	}
	return *e.reservations[key], true
}

// ActiveCount returns how many cap slots the requester currently occupies
// on the lab.
func (e *Engine) ActiveCount(labID uint64, payer, subID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters[trackingRef{labID: labID, tkey: model.ResolveTrackingKey(payer, subID)}]
}

// snapshotBuffer maps buffered keys to record snapshots, optionally
// filtering.
func (e *Engine) snapshotBuffer(b *boundedBuffer, keep func(*model.Reservation) bool) []model.Reservation {
	out := []model.Reservation{}
	b.each(func(key model.ReservationKey) {
		r := e.reservations[key]
		if r == nil {
			return
		}
		if keep == nil || keep(r) {
			out = append(out, *r)
		}
	})
	return out
}

func keepAll(*model.Reservation) bool { return true }

// keepUpcoming drops entries that were cancelled or have already run out;
// the upcoming buffers are never cleaned eagerly, this filter is the
// cleanup.
func (e *Engine) keepUpcoming(now uint32) func(*model.Reservation) bool {
	return func(r *model.Reservation) bool {
		return (r.Status == model.StatusConfirmed || r.Status == model.StatusInUse) && r.End > now
	}
}

// RecentReservations returns the lab's most recently booked slots, newest
// start first.  Best effort: bounded by the buffer capacity.
func (e *Engine) RecentReservations(labID uint64) []model.Reservation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotBuffer(e.hist.labSet(labID).recent, keepAll)
}

// UpcomingReservations returns the lab's next booked slots in start
// order, skipping cancelled and elapsed entries.
func (e *Engine) UpcomingReservations(labID uint64) []model.Reservation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotBuffer(e.hist.labSet(labID).upcoming, e.keepUpcoming(e.clock()))
}

// PastReservations returns the lab's most recently finished slots, latest
// end first.
func (e *Engine) PastReservations(labID uint64) []model.Reservation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotBuffer(e.hist.labSet(labID).past, keepAll)
}

// RecentReservationsFor is the per-requester variant of
// RecentReservations.
func (e *Engine) RecentReservationsFor(labID uint64, payer, subID string) []model.Reservation {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref := trackingRef{labID: labID, tkey: model.ResolveTrackingKey(payer, subID)}
	return e.snapshotBuffer(e.hist.userSet(ref).recent, keepAll)
}

// UpcomingReservationsFor is the per-requester variant of
// UpcomingReservations.
func (e *Engine) UpcomingReservationsFor(labID uint64, payer, subID string) []model.Reservation {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref := trackingRef{labID: labID, tkey: model.ResolveTrackingKey(payer, subID)}
	return e.snapshotBuffer(e.hist.userSet(ref).upcoming, e.keepUpcoming(e.clock()))
}

// PastReservationsFor is the per-requester variant of PastReservations.
func (e *Engine) PastReservationsFor(labID uint64, payer, subID string) []model.Reservation {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref := trackingRef{labID: labID, tkey: model.ResolveTrackingKey(payer, subID)}
	return e.snapshotBuffer(e.hist.userSet(ref).past, keepAll)
}
