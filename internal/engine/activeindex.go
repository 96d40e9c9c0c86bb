package engine

import "github.com/decentralabs/lab-reservation/internal/model"

// trackingRef addresses the per-(lab, tracking key) index structures.
type trackingRef struct {
	labID uint64
	tkey  model.TrackingKey
}

// activeIndex answers "what is this requester's earliest active
// reservation" without scanning.  One start-ordered min-heap per
// (lab, tracking key), plus the engine-wide live set shared with the
// payout queue.  Entries are invalidated lazily: only a root is ever
// removed physically, everything else is skipped when it surfaces.
type activeIndex struct {
	heaps map[trackingRef]*entryHeap
	live  map[model.ReservationKey]bool
}

func newActiveIndex(live map[model.ReservationKey]bool) *activeIndex {
	return &activeIndex{
		heaps: make(map[trackingRef]*entryHeap),
		live:  live,
	}
}

// enqueue registers a confirmed reservation.  It is a no-op for an empty
// tracking key or a key that is already live, so double confirmation can
// never produce a double entry.
func (ix *activeIndex) enqueue(ref trackingRef, key model.ReservationKey, start uint32) {
	if ref.tkey == "" || ix.live[key] {
		return
	}
	h := ix.heaps[ref]
	if h == nil {
		h = &entryHeap{}
		ix.heaps[ref] = h
	}
	ix.live[key] = true
	h.push(heapEntry{sortKey: start, key: key})
}

// stale reports whether a surfaced entry no longer belongs in this index:
// dead, dangling, re-keyed to a different lab or requester, terminal, or
// past its end.  The check runs against the live record, never the cached
// sort key.
func (ix *activeIndex) stale(ref trackingRef, key model.ReservationKey, r *model.Reservation, now uint32) bool {
	if !ix.live[key] || r == nil {
		return true
	}
	if r.LabID != ref.labID || r.TrackingKey() != ref.tkey {
		return true
	}
	return !r.Status.Collectible() || r.End <= now
}

// peekEarliest returns the requester's earliest still-active reservation,
// discarding stale roots as they surface.  It returns false when the heap
// drains without a valid entry.
func (ix *activeIndex) peekEarliest(ref trackingRef, now uint32, lookup func(model.ReservationKey) *model.Reservation) (model.ReservationKey, bool) {
	h := ix.heaps[ref]
	for h != nil && h.len() > 0 {
		e, _ := h.root()
		if ix.stale(ref, e.key, lookup(e.key), now) {
			h.popRoot()
			continue
		}
		return e.key, true
	}
	return model.ReservationKey{}, false
}

// invalidate marks the key dead.  When the key happens to sit at the heap
// root it is removed physically; any deeper position is left for a later
// peek to skip, which bounds invalidation to O(log n) in the common case.
func (ix *activeIndex) invalidate(ref trackingRef, key model.ReservationKey) {
	delete(ix.live, key)
	h := ix.heaps[ref]
	if h == nil {
		return
	}
	if e, ok := h.root(); ok && e.key == key {
		h.popRoot()
	}
}

// popExpiredRoot surfaces the requester's earliest reservation whose end
// has passed but whose status is still collectible, removing it from the
// heap.  Dead or dangling roots are discarded along the way.  It returns
// false once the root is either still running or the heap is empty, so a
// release loop never walks past live entries.
func (ix *activeIndex) popExpiredRoot(ref trackingRef, now uint32, lookup func(model.ReservationKey) *model.Reservation) (model.ReservationKey, bool) {
	h := ix.heaps[ref]
	for h != nil && h.len() > 0 {
		e, _ := h.root()
		r := lookup(e.key)
		if !ix.live[e.key] || r == nil || r.LabID != ref.labID || r.TrackingKey() != ref.tkey || !r.Status.Collectible() {
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

// size returns the current physical heap length, stale entries included.
func (ix *activeIndex) size(ref trackingRef) int {
	if h := ix.heaps[ref]; h != nil {
		return h.len()
	}
	return 0
}
