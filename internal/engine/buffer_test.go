package engine

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decentralabs/lab-reservation/internal/model"
)

func bufKey(i int) model.ReservationKey {
	return model.KeyFor(uint64(i), uint32(i))
}

func TestBoundedBufferKeepsSortedOrder(t *testing.T) {
	b := newBoundedBuffer(4, true)
	b.insert(bufKey(1), 300)
	b.insert(bufKey(2), 100)
	b.insert(bufKey(3), 200)

	require.Equal(t, 3, b.size())
	assert.Equal(t, []uint32{100, 200, 300}, b.sort)
	assert.Equal(t, bufKey(2), b.keys[0])
}

func TestBoundedBufferEvictsWorstOnOverflow(t *testing.T) {
	b := newBoundedBuffer(3, false) // descending: larger is better
	for i, v := range []uint32{10, 40, 20, 30, 50} {
		b.insert(bufKey(i), v)
	}
	require.Equal(t, 3, b.size())
	assert.Equal(t, []uint32{50, 40, 30}, b.sort)
}

func TestBoundedBufferRejectsWorseWhenFull(t *testing.T) {
	b := newBoundedBuffer(2, true)
	b.insert(bufKey(1), 100)
	b.insert(bufKey(2), 200)

	// Equal-or-worse than the current worst entry is ignored outright.
	b.insert(bufKey(3), 200)
	b.insert(bufKey(4), 500)
	require.Equal(t, 2, b.size())
	assert.Equal(t, []uint32{100, 200}, b.sort)
	assert.Equal(t, bufKey(2), b.keys[1], "rejected entries never displaced the kept one")
}

// TestBoundedBufferTopNProperty checks the defining property: after any
// insertion sequence the buffer holds exactly the best cap entries by its
// sort key among everything ever inserted.
func TestBoundedBufferTopNProperty(t *testing.T) {
	for _, asc := range []bool{true, false} {
		rng := rand.New(rand.NewSource(11))
		const keep = 20
		b := newBoundedBuffer(keep, asc)
		var all []uint32
		for i := 0; i < 500; i++ {
			v := uint32(rng.Intn(10000))
			b.insert(bufKey(i), v)
			all = append(all, v)

			require.LessOrEqual(t, b.size(), keep)
		}
		sort.Slice(all, func(i, j int) bool {
			if asc {
				return all[i] < all[j]
			}
			return all[i] > all[j]
		})
		// Sort keys admit duplicates, so compare the kept multiset of keys
		// against the best-cap prefix of everything inserted.
		assert.Equal(t, all[:keep], b.sort, "ascending=%v", asc)
	}
}

func TestBoundedBufferZeroCapacity(t *testing.T) {
	b := newBoundedBuffer(0, true)
	b.insert(bufKey(1), 1)
	assert.Equal(t, 0, b.size())
}
