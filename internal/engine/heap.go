package engine

import "github.com/decentralabs/lab-reservation/internal/model"

// heapEntry is an ephemeral projection of a reservation into one of the
// engine's heaps.  sortKey is the reservation's start time in the active
// index and its end time in the payout queue.  The cached sortKey orders
// the heap only; validity is always re-checked against the live record at
// pop time.
type heapEntry struct {
	sortKey uint32
	key     model.ReservationKey
}

// entryHeap is the binary min-heap primitive shared by the active
// reservation index and the payout eligibility queue.  It deliberately
// carries no position index: removal from an arbitrary position is never
// attempted, stale entries are skipped lazily at the root instead.
type entryHeap struct {
	entries []heapEntry
}

func (h *entryHeap) len() int { return len(h.entries) }

// root returns the minimum entry without removing it.
func (h *entryHeap) root() (heapEntry, bool) {
	if len(h.entries) == 0 {
		return heapEntry{}, false
	}
	return h.entries[0], true
}

// push appends an entry and restores the heap property.
func (h *entryHeap) push(e heapEntry) {
	h.entries = append(h.entries, e)
	h.siftUp(len(h.entries) - 1)
}

// popRoot removes and returns the minimum entry via swap-with-last and a
// sift-down, the only physical removal the heap supports.
func (h *entryHeap) popRoot() (heapEntry, bool) {
	n := len(h.entries)
	if n == 0 {
		return heapEntry{}, false
	}
	top := h.entries[0]
	h.entries[0] = h.entries[n-1]
	h.entries = h.entries[:n-1]
	if len(h.entries) > 0 {
		h.siftDown(0)
	}
	return top, true
}

func (h *entryHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.entries[parent].sortKey <= h.entries[i].sortKey {
			break
		}
		h.entries[parent], h.entries[i] = h.entries[i], h.entries[parent]
		i = parent
	}
}

func (h *entryHeap) siftDown(i int) {
	n := len(h.entries)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}
		least := left
		if right := left + 1; right < n && h.entries[right].sortKey < h.entries[left].sortKey {
			least = right
		}
		if h.entries[i].sortKey <= h.entries[least].sortKey {
			return
		}
		h.entries[i], h.entries[least] = h.entries[least], h.entries[i]
		i = least
	}
}
