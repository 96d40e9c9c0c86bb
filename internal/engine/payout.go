package engine

import "github.com/decentralabs/lab-reservation/internal/model"

// payoutQueue lets a lab owner drain matured reservations in end-time
// order without scanning the reservation set.  One end-ordered min-heap
// per lab, sharing the engine-wide live set with the active index.
// Cancellation does not search the heap; dead entries are discarded when
// they reach the root, either during a pop or through an explicit bounded
// prune.
type payoutQueue struct {
	heaps map[uint64]*entryHeap
	live  map[model.ReservationKey]bool
}

func newPayoutQueue(live map[model.ReservationKey]bool) *payoutQueue {
	return &payoutQueue{
		heaps: make(map[uint64]*entryHeap),
		live:  live,
	}
}

// enqueue registers a confirmed reservation under its end time.  Called
// exactly once per confirmation, after the active index has set the live
// flag.
func (q *payoutQueue) enqueue(labID uint64, key model.ReservationKey, end uint32) {
	h := q.heaps[labID]
	if h == nil {
		h = &entryHeap{}
		q.heaps[labID] = h
	}
	h.push(heapEntry{sortKey: end, key: key})
}

// dead reports whether an entry can be discarded outright: its live flag
// was cleared, its record is gone, it was re-keyed to another lab, or the
// record already reached a non-collectible status.
func (q *payoutQueue) dead(labID uint64, key model.ReservationKey, r *model.Reservation) bool {
	if !q.live[key] || r == nil || r.LabID != labID {
		return true
	}
	return !r.Status.Collectible()
}

// popEligible removes and returns the earliest reservation whose end has
// passed and whose record is still collectible.  Dead roots are discarded
// on the way.  The caller owns the returned key and must transition the
// record to COLLECTED; the entry is already off the heap.  Maturity is
// judged by the record's end, not the cached sort key.
func (q *payoutQueue) popEligible(labID uint64, now uint32, lookup func(model.ReservationKey) *model.Reservation) (model.ReservationKey, bool) {
	h := q.heaps[labID]
	for h != nil && h.len() > 0 {
		e, _ := h.root()
		r := lookup(e.key)
		if q.dead(labID, e.key, r) {
			h.popRoot()
			continue
		}
		if r.End > now {
			return model.ReservationKey{}, false
		}
		h.popRoot()
		return e.key, true
	}
	return model.ReservationKey{}, false
}

// peekNext returns the end time of the earliest collectible entry without
// removing it, discarding dead roots encountered first.
func (q *payoutQueue) peekNext(labID uint64, lookup func(model.ReservationKey) *model.Reservation) (uint32, bool) {
	h := q.heaps[labID]
	for h != nil && h.len() > 0 {
		e, _ := h.root()
		r := lookup(e.key)
		if q.dead(labID, e.key, r) {
			h.popRoot()
			continue
		}
		return r.End, true
	}
	return 0, false
}

// prune removes up to maxIterations dead roots and returns how many were
// dropped.  It exists so heap growth under adversarial cancellation can be
// bounded by maintenance calls; a single call never iterates past the
// limit, and it stops early at the first root that is still meaningful.
func (q *payoutQueue) prune(labID uint64, maxIterations int, lookup func(model.ReservationKey) *model.Reservation) int {
	h := q.heaps[labID]
	removed := 0
	for h != nil && h.len() > 0 && removed < maxIterations {
		e, _ := h.root()
		if !q.dead(labID, e.key, lookup(e.key)) {
			break
		}
		h.popRoot()
		removed++
	}
	return removed
}

// size returns the current physical heap length, dead entries included.
func (q *payoutQueue) size(labID uint64) int {
	if h := q.heaps[labID]; h != nil {
		return h.len()
	}
	return 0
}
