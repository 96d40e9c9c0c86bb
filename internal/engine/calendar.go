package engine

import "github.com/decentralabs/lab-reservation/internal/model"

// nilNode marks an absent child in the interval tree arena.
const nilNode int32 = -1

// calNode is one interval in the arena.  Children are arena indices, not
// pointers, so the whole tree lives in two flat slices and freed nodes are
// recycled through the free list.
type calNode struct {
	start  uint32
	end    uint32
	left   int32
	right  int32
	height int32
}

// intervalTree is an AVL tree of non-overlapping [start, end) intervals
// keyed by start.  Callers verify non-overlap via overlaps before calling
// insert; the tree itself only guarantees ordering and balance.  Insert,
// remove and point lookups are O(log n); traversal is O(n).
type intervalTree struct {
	nodes []calNode
	free  []int32
	root  int32
	count int
}

func newIntervalTree() *intervalTree {
	return &intervalTree{root: nilNode}
}

func (t *intervalTree) alloc(start, end uint32) int32 {
	node := calNode{start: start, end: end, left: nilNode, right: nilNode, height: 1}
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.nodes[idx] = node
		return idx
	}
	t.nodes = append(t.nodes, node)
	return int32(len(t.nodes) - 1)
}

func (t *intervalTree) release(idx int32) {
	t.free = append(t.free, idx)
}

func (t *intervalTree) height(idx int32) int32 {
	if idx == nilNode {
		return 0
	}
	return t.nodes[idx].height
}

func (t *intervalTree) refresh(idx int32) {
	hl, hr := t.height(t.nodes[idx].left), t.height(t.nodes[idx].right)
	if hl > hr {
		t.nodes[idx].height = hl + 1
	} else {
		t.nodes[idx].height = hr + 1
	}
}

func (t *intervalTree) rotateRight(idx int32) int32 {
	l := t.nodes[idx].left
	t.nodes[idx].left = t.nodes[l].right
	t.nodes[l].right = idx
	t.refresh(idx)
	t.refresh(l)
	return l
}

func (t *intervalTree) rotateLeft(idx int32) int32 {
	r := t.nodes[idx].right
	t.nodes[idx].right = t.nodes[r].left
	t.nodes[r].left = idx
	t.refresh(idx)
	t.refresh(r)
	return r
}

func (t *intervalTree) rebalance(idx int32) int32 {
	t.refresh(idx)
	bf := t.height(t.nodes[idx].left) - t.height(t.nodes[idx].right)
	switch {
	case bf > 1:
		l := t.nodes[idx].left
		if t.height(t.nodes[l].left) < t.height(t.nodes[l].right) {
			t.nodes[idx].left = t.rotateLeft(l)
		}
		return t.rotateRight(idx)
	case bf < -1:
		r := t.nodes[idx].right
		if t.height(t.nodes[r].right) < t.height(t.nodes[r].left) {
			t.nodes[idx].right = t.rotateRight(r)
		}
		return t.rotateLeft(idx)
	}
	return idx
}

// insert adds the interval keyed by start.  Re-inserting an existing start
// overwrites the stored end, which only happens when a cancelled slot is
// rebooked.
func (t *intervalTree) insert(start, end uint32) {
	t.root = t.insertAt(t.root, start, end)
}

func (t *intervalTree) insertAt(idx int32, start, end uint32) int32 {
	if idx == nilNode {
		t.count++
		return t.alloc(start, end)
	}
	switch {
	case start < t.nodes[idx].start:
		child := t.insertAt(t.nodes[idx].left, start, end)
		t.nodes[idx].left = child
	case start > t.nodes[idx].start:
		child := t.insertAt(t.nodes[idx].right, start, end)
		t.nodes[idx].right = child
	default:
		t.nodes[idx].end = end
		return idx
	}
	return t.rebalance(idx)
}

// remove deletes the interval keyed by start and reports whether it was
// present.
func (t *intervalTree) remove(start uint32) bool {
	root, removed := t.removeAt(t.root, start)
	t.root = root
	if removed {
		t.count--
	}
	return removed
}

func (t *intervalTree) removeAt(idx int32, start uint32) (int32, bool) {
	if idx == nilNode {
		return nilNode, false
	}
	var removed bool
	switch {
	case start < t.nodes[idx].start:
		child, ok := t.removeAt(t.nodes[idx].left, start)
		t.nodes[idx].left = child
		removed = ok
	case start > t.nodes[idx].start:
		child, ok := t.removeAt(t.nodes[idx].right, start)
		t.nodes[idx].right = child
		removed = ok
	default:
		left, right := t.nodes[idx].left, t.nodes[idx].right
		if left == nilNode || right == nilNode {
			child := left
			if child == nilNode {
				child = right
			}
			t.release(idx)
			return child, true
		}
		// Two children: copy the in-order successor down, then delete it
		// from the right subtree.
		succ := right
		for t.nodes[succ].left != nilNode {
			succ = t.nodes[succ].left
		}
		t.nodes[idx].start = t.nodes[succ].start
		t.nodes[idx].end = t.nodes[succ].end
		child, _ := t.removeAt(right, t.nodes[idx].start)
		t.nodes[idx].right = child
		removed = true
	}
	if !removed {
		return idx, false
	}
	return t.rebalance(idx), true
}

// maxStartBelow returns the node with the greatest start strictly below
// limit, or nilNode.
func (t *intervalTree) maxStartBelow(limit uint32) int32 {
	best := nilNode
	for idx := t.root; idx != nilNode; {
		if t.nodes[idx].start < limit {
			best = idx
			idx = t.nodes[idx].right
		} else {
			idx = t.nodes[idx].left
		}
	}
	return best
}

// minStartAtOrAfter returns the node with the smallest start >= from, or
// nilNode.
func (t *intervalTree) minStartAtOrAfter(from uint32) int32 {
	best := nilNode
	for idx := t.root; idx != nilNode; {
		if t.nodes[idx].start >= from {
			best = idx
			idx = t.nodes[idx].left
		} else {
			idx = t.nodes[idx].right
		}
	}
	return best
}

// overlaps reports whether any stored interval intersects [qs, qe).
// Stored intervals are disjoint, so only the interval with the greatest
// start below qe can intersect the query.
func (t *intervalTree) overlaps(qs, qe uint32) bool {
	idx := t.maxStartBelow(qe)
	return idx != nilNode && t.nodes[idx].end > qs
}

// containing returns the interval covering tm, if any.
func (t *intervalTree) containing(tm uint32) (model.Interval, bool) {
	best := nilNode
	for idx := t.root; idx != nilNode; {
		if t.nodes[idx].start <= tm {
			best = idx
			idx = t.nodes[idx].right
		} else {
			idx = t.nodes[idx].left
		}
	}
	if best == nilNode || t.nodes[best].end <= tm {
		return model.Interval{}, false
	}
	return model.Interval{Start: t.nodes[best].start, End: t.nodes[best].end}, true
}

// each visits every interval in chronological order.
func (t *intervalTree) each(fn func(start, end uint32)) {
	t.eachAt(t.root, fn)
}

func (t *intervalTree) eachAt(idx int32, fn func(start, end uint32)) {
	if idx == nilNode {
		return
	}
	t.eachAt(t.nodes[idx].left, fn)
	fn(t.nodes[idx].start, t.nodes[idx].end)
	t.eachAt(t.nodes[idx].right, fn)
}

// CalendarStats aggregates a lab's booked intervals from one in-order
// traversal.
type CalendarStats struct {
	Count         int    `json:"count"`
	Earliest      uint32 `json:"earliest"`
	Latest        uint32 `json:"latest"`
	BookedSeconds uint64 `json:"booked_seconds"`
}

// bookingCalendar keys one interval tree per lab.  Labs with no bookings
// have no tree at all.
type bookingCalendar struct {
	trees map[uint64]*intervalTree
}

func newBookingCalendar() *bookingCalendar {
	return &bookingCalendar{trees: make(map[uint64]*intervalTree)}
}

func (c *bookingCalendar) insert(labID uint64, start, end uint32) {
	t := c.trees[labID]
	if t == nil {
		t = newIntervalTree()
		c.trees[labID] = t
	}
	t.insert(start, end)
}

func (c *bookingCalendar) remove(labID uint64, start uint32) bool {
	t := c.trees[labID]
	if t == nil {
		return false
	}
	return t.remove(start)
}

func (c *bookingCalendar) overlaps(labID uint64, start, end uint32) bool {
	t := c.trees[labID]
	return t != nil && t.overlaps(start, end)
}

// firstAfter finds the earliest interval starting at or after from.
func (c *bookingCalendar) firstAfter(labID uint64, from uint32) (model.Interval, bool) {
	t := c.trees[labID]
	if t == nil {
		return model.Interval{}, false
	}
	idx := t.minStartAtOrAfter(from)
	if idx == nilNode {
		return model.Interval{}, false
	}
	return model.Interval{Start: t.nodes[idx].start, End: t.nodes[idx].end}, true
}

func (c *bookingCalendar) containing(labID uint64, tm uint32) (model.Interval, bool) {
	t := c.trees[labID]
	if t == nil {
		return model.Interval{}, false
	}
	return t.containing(tm)
}

func (c *bookingCalendar) intervals(labID uint64) []model.Interval {
	out := []model.Interval{}
	if t := c.trees[labID]; t != nil {
		t.each(func(start, end uint32) {
			out = append(out, model.Interval{Start: start, End: end})
		})
	}
	return out
}

func (c *bookingCalendar) stats(labID uint64) CalendarStats {
	var s CalendarStats
	t := c.trees[labID]
	if t == nil {
		return s
	}
	t.each(func(start, end uint32) {
		if s.Count == 0 || start < s.Earliest {
			s.Earliest = start
		}
		if end > s.Latest {
			s.Latest = end
		}
		s.Count++
		s.BookedSeconds += uint64(end - start)
	})
	return s
}
