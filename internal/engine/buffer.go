package engine

import "github.com/decentralabs/lab-reservation/internal/model"

// boundedBuffer is a fixed-capacity array kept sorted by a single
// timestamp, best entry first.  It is a recency cache, not a ledger:
// overflow silently drops the worst entry, and an insert that cannot beat
// the current worst of a full buffer is rejected in O(1) before any
// shifting happens.
type boundedBuffer struct {
	keys []model.ReservationKey
	sort []uint32
	max  int
	asc  bool
}

func newBoundedBuffer(capacity int, ascending bool) *boundedBuffer {
	return &boundedBuffer{max: capacity, asc: ascending}
}

// better reports whether a should sort before b under the buffer's order.
func (b *boundedBuffer) better(a, bb uint32) bool {
	if b.asc {
		return a < bb
	}
	return a > bb
}

// insert places key at its sorted position, evicting the worst entry when
// the buffer is full.  Entries equal to the current worst of a full buffer
// are ignored outright.
func (b *boundedBuffer) insert(key model.ReservationKey, sortKey uint32) {
	n := len(b.keys)
	if b.max == 0 {
		return
	}
	if n == b.max && !b.better(sortKey, b.sort[n-1]) {
		return
	}
	pos := n
	for i := 0; i < n; i++ {
		if b.better(sortKey, b.sort[i]) {
			pos = i
			break
		}
	}
	b.keys = append(b.keys, model.ReservationKey{})
	b.sort = append(b.sort, 0)
	copy(b.keys[pos+1:], b.keys[pos:])
	copy(b.sort[pos+1:], b.sort[pos:])
	b.keys[pos] = key
	b.sort[pos] = sortKey
	if len(b.keys) > b.max {
		b.keys = b.keys[:b.max]
		b.sort = b.sort[:b.max]
	}
}

func (b *boundedBuffer) size() int { return len(b.keys) }

// each visits the buffered keys in sort order.
func (b *boundedBuffer) each(fn func(key model.ReservationKey)) {
	for _, k := range b.keys {
		fn(k)
	}
}

// historySet is the trio of buffers kept per lab and per (lab, tracking
// key): recent confirmations by start descending, upcoming slots by start
// ascending, finished slots by end descending.  The upcoming buffer is
// filtered against the live records at read time instead of being cleaned
// on cancellation.
type historySet struct {
	recent   *boundedBuffer
	upcoming *boundedBuffer
	past     *boundedBuffer
}

func newHistorySet(capacity int) *historySet {
	return &historySet{
		recent:   newBoundedBuffer(capacity, false),
		upcoming: newBoundedBuffer(capacity, true),
		past:     newBoundedBuffer(capacity, false),
	}
}

// history owns every bounded buffer in the engine, lazily creating the
// per-lab and per-requester sets on first write.
type history struct {
	labCap  int
	userCap int
	lab     map[uint64]*historySet
	user    map[trackingRef]*historySet
}

func newHistory(labCap, userCap int) *history {
	return &history{
		labCap:  labCap,
		userCap: userCap,
		lab:     make(map[uint64]*historySet),
		user:    make(map[trackingRef]*historySet),
	}
}

func (h *history) labSet(labID uint64) *historySet {
	s := h.lab[labID]
	if s == nil {
		s = newHistorySet(h.labCap)
		h.lab[labID] = s
	}
	return s
}

func (h *history) userSet(ref trackingRef) *historySet {
	s := h.user[ref]
	if s == nil {
		s = newHistorySet(h.userCap)
		h.user[ref] = s
	}
	return s
}

// recordBooked notes a confirmed reservation in the recent and upcoming
// buffers at both the lab and requester level.
func (h *history) recordBooked(ref trackingRef, key model.ReservationKey, start uint32) {
	ls, us := h.labSet(ref.labID), h.userSet(ref)
	ls.recent.insert(key, start)
	ls.upcoming.insert(key, start)
	us.recent.insert(key, start)
	us.upcoming.insert(key, start)
}

// recordPast notes a finished reservation (cancelled or collected) in the
// past buffers at both levels.
func (h *history) recordPast(ref trackingRef, key model.ReservationKey, end uint32) {
	h.labSet(ref.labID).past.insert(key, end)
	h.userSet(ref).past.insert(key, end)
}
