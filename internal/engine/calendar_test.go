package engine

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarInsertAndOverlap(t *testing.T) {
	c := newBookingCalendar()
	c.insert(1, 1000, 2000)

	assert.True(t, c.overlaps(1, 1000, 2000))
	assert.True(t, c.overlaps(1, 1500, 2500))
	assert.True(t, c.overlaps(1, 500, 1001))
	assert.False(t, c.overlaps(1, 2000, 3000), "half-open: end is exclusive")
	assert.False(t, c.overlaps(1, 500, 1000))
	assert.False(t, c.overlaps(2, 1000, 2000), "other labs unaffected")
}

func TestCalendarRemove(t *testing.T) {
	c := newBookingCalendar()
	c.insert(1, 1000, 2000)
	c.insert(1, 3000, 4000)

	require.True(t, c.remove(1, 1000))
	assert.False(t, c.overlaps(1, 1000, 2000))
	assert.True(t, c.overlaps(1, 3000, 4000))
	assert.False(t, c.remove(1, 1000), "double remove reports absence")
	assert.False(t, c.remove(2, 3000))
}

func TestCalendarFirstAfter(t *testing.T) {
	c := newBookingCalendar()
	c.insert(1, 1000, 2000)
	c.insert(1, 5000, 6000)
	c.insert(1, 3000, 4000)

	iv, ok := c.firstAfter(1, 0)
	require.True(t, ok)
	assert.Equal(t, uint32(1000), iv.Start)

	iv, ok = c.firstAfter(1, 2500)
	require.True(t, ok)
	assert.Equal(t, uint32(3000), iv.Start)
	assert.Equal(t, uint32(4000), iv.End)

	iv, ok = c.firstAfter(1, 5000)
	require.True(t, ok)
	assert.Equal(t, uint32(5000), iv.Start)

	_, ok = c.firstAfter(1, 6001)
	assert.False(t, ok)
}

func TestCalendarContaining(t *testing.T) {
	c := newBookingCalendar()
	c.insert(1, 1000, 2000)

	iv, ok := c.containing(1, 1000)
	require.True(t, ok)
	assert.Equal(t, uint32(1000), iv.Start)

	_, ok = c.containing(1, 2000)
	assert.False(t, ok, "end boundary is outside the interval")
	_, ok = c.containing(1, 999)
	assert.False(t, ok)
}

func TestCalendarStats(t *testing.T) {
	c := newBookingCalendar()
	assert.Equal(t, CalendarStats{}, c.stats(1))

	c.insert(1, 3000, 4000)
	c.insert(1, 1000, 2000)
	c.insert(1, 5000, 5500)

	s := c.stats(1)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, uint32(1000), s.Earliest)
	assert.Equal(t, uint32(5500), s.Latest)
	assert.Equal(t, uint64(2500), s.BookedSeconds)
}

// TestCalendarRandomized drives the tree through a long churn of inserts
// and removals and checks ordering, balance-independent lookups and
// overlap answers against a brute-force shadow copy.
func TestCalendarRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := newBookingCalendar()
	shadow := map[uint32]uint32{}

	for i := 0; i < 2000; i++ {
		start := uint32(rng.Intn(100000)) * 10
		end := start + 1 + uint32(rng.Intn(9))
		if rng.Intn(3) == 0 {
			// Remove a random known interval.
			for s := range shadow {
				wantRemoved := true
				assert.Equal(t, wantRemoved, c.remove(1, s))
				delete(shadow, s)
				break
			}
			continue
		}
		overlap := false
		for s, e := range shadow {
			if s < end && e > start {
				overlap = true
				break
			}
		}
		assert.Equal(t, overlap, c.overlaps(1, start, end), "overlap mismatch at iteration %d", i)
		if !overlap {
			c.insert(1, start, end)
			shadow[start] = end
		}
	}

	got := c.intervals(1)
	require.Len(t, got, len(shadow))
	starts := make([]uint32, 0, len(shadow))
	for s := range shadow {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	for i, s := range starts {
		assert.Equal(t, s, got[i].Start)
		assert.Equal(t, shadow[s], got[i].End)
	}
}

func TestCalendarArenaRecyclesNodes(t *testing.T) {
	tr := newIntervalTree()
	for i := uint32(0); i < 64; i++ {
		tr.insert(i*100, i*100+50)
	}
	for i := uint32(0); i < 64; i++ {
		require.True(t, tr.remove(i*100))
	}
	assert.Equal(t, 0, tr.count)
	grown := len(tr.nodes)

	for i := uint32(0); i < 64; i++ {
		tr.insert(i*100, i*100+50)
	}
	assert.Equal(t, grown, len(tr.nodes), "freed nodes are reused before the arena grows")
}
