package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decentralabs/lab-reservation/internal/model"
)

func TestEntryHeapPopsInOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	h := &entryHeap{}
	for i := 0; i < 300; i++ {
		h.push(heapEntry{sortKey: uint32(rng.Intn(5000)), key: bufKey(i)})
	}
	prev := uint32(0)
	for h.len() > 0 {
		e, ok := h.popRoot()
		require.True(t, ok)
		require.GreaterOrEqual(t, e.sortKey, prev)
		prev = e.sortKey
	}
	_, ok := h.popRoot()
	assert.False(t, ok)
}

// testRecords builds a record set the lazy validity checks can resolve
// against, without going through the full engine.
type testRecords map[model.ReservationKey]*model.Reservation

func (m testRecords) lookup(k model.ReservationKey) *model.Reservation { return m[k] }

func (m testRecords) add(labID uint64, payer string, start, end uint32, st model.Status) model.ReservationKey {
	r := &model.Reservation{LabID: labID, Payer: payer, Start: start, End: end, Status: st}
	k := r.Key()
	m[k] = r
	return k
}

func TestActiveIndexPeekSkipsStaleRoots(t *testing.T) {
	recs := testRecords{}
	live := map[model.ReservationKey]bool{}
	ix := newActiveIndex(live)
	ref := trackingRef{labID: 1, tkey: model.ResolveTrackingKey("alice", "")}

	kOld := recs.add(1, "alice", 100, 200, model.StatusConfirmed)
	kCancelled := recs.add(1, "alice", 300, 400, model.StatusConfirmed)
	kGood := recs.add(1, "alice", 500, 600, model.StatusConfirmed)
	ix.enqueue(ref, kOld, 100)
	ix.enqueue(ref, kCancelled, 300)
	ix.enqueue(ref, kGood, 500)

	// kOld expires by time, kCancelled by status flip; neither surfaces.
	recs[kCancelled].Status = model.StatusCancelled
	got, ok := ix.peekEarliest(ref, 250, recs.lookup)
	require.True(t, ok)
	assert.Equal(t, kGood, got)
	assert.Equal(t, 1, ix.size(ref), "stale roots were physically discarded")
}

func TestActiveIndexEnqueueIdempotent(t *testing.T) {
	recs := testRecords{}
	live := map[model.ReservationKey]bool{}
	ix := newActiveIndex(live)
	ref := trackingRef{labID: 1, tkey: model.ResolveTrackingKey("alice", "")}

	k := recs.add(1, "alice", 100, 200, model.StatusConfirmed)
	ix.enqueue(ref, k, 100)
	ix.enqueue(ref, k, 100)
	assert.Equal(t, 1, ix.size(ref))

	ix.enqueue(trackingRef{labID: 1, tkey: ""}, k, 100)
	assert.Equal(t, 0, ix.size(trackingRef{labID: 1, tkey: ""}), "empty tracking key is a no-op")
}

func TestActiveIndexInvalidateRemovesRootOnly(t *testing.T) {
	recs := testRecords{}
	live := map[model.ReservationKey]bool{}
	ix := newActiveIndex(live)
	ref := trackingRef{labID: 1, tkey: model.ResolveTrackingKey("alice", "")}

	k1 := recs.add(1, "alice", 100, 900, model.StatusConfirmed)
	k2 := recs.add(1, "alice", 200, 900, model.StatusConfirmed)
	k3 := recs.add(1, "alice", 300, 900, model.StatusConfirmed)
	ix.enqueue(ref, k1, 100)
	ix.enqueue(ref, k2, 200)
	ix.enqueue(ref, k3, 300)

	// Root removal is physical.
	ix.invalidate(ref, k1)
	assert.Equal(t, 2, ix.size(ref))

	// Deep removal is deferred: the entry stays until it surfaces.
	ix.invalidate(ref, k3)
	assert.Equal(t, 2, ix.size(ref))

	got, ok := ix.peekEarliest(ref, 0, recs.lookup)
	require.True(t, ok)
	assert.Equal(t, k2, got)
}

func TestPayoutQueuePopEligible(t *testing.T) {
	recs := testRecords{}
	live := map[model.ReservationKey]bool{}
	ix := newActiveIndex(live)
	q := newPayoutQueue(live)
	ref := trackingRef{labID: 1, tkey: model.ResolveTrackingKey("alice", "")}

	k1 := recs.add(1, "alice", 100, 200, model.StatusConfirmed)
	k2 := recs.add(1, "alice", 300, 400, model.StatusConfirmed)
	k3 := recs.add(1, "alice", 500, 600, model.StatusConfirmed)
	for _, k := range []model.ReservationKey{k1, k2, k3} {
		ix.enqueue(ref, k, recs[k].Start)
		q.enqueue(1, k, recs[k].End)
	}

	// Nothing matured yet.
	_, ok := q.popEligible(1, 150, recs.lookup)
	assert.False(t, ok)

	got, ok := q.popEligible(1, 450, recs.lookup)
	require.True(t, ok)
	assert.Equal(t, k1, got)
	recs[k1].Status = model.StatusCollected

	got, ok = q.popEligible(1, 450, recs.lookup)
	require.True(t, ok)
	assert.Equal(t, k2, got)
	recs[k2].Status = model.StatusCollected

	// k3 has not matured; it stays on the heap.
	_, ok = q.popEligible(1, 450, recs.lookup)
	assert.False(t, ok)
	end, ok := q.peekNext(1, recs.lookup)
	require.True(t, ok)
	assert.Equal(t, uint32(600), end)
}

func TestPayoutQueuePruneIsBounded(t *testing.T) {
	recs := testRecords{}
	live := map[model.ReservationKey]bool{}
	ix := newActiveIndex(live)
	q := newPayoutQueue(live)
	ref := trackingRef{labID: 1, tkey: model.ResolveTrackingKey("alice", "")}

	var keys []model.ReservationKey
	for i := 0; i < 8; i++ {
		k := recs.add(1, "alice", uint32(100*i+100), uint32(100*i+150), model.StatusConfirmed)
		ix.enqueue(ref, k, recs[k].Start)
		q.enqueue(1, k, recs[k].End)
		keys = append(keys, k)
	}
	// Cancel the five earliest; their payout entries go stale in place.
	for _, k := range keys[:5] {
		recs[k].Status = model.StatusCancelled
		delete(live, k)
	}
	require.Equal(t, 8, q.size(1))

	assert.Equal(t, 3, q.prune(1, 3, recs.lookup), "prune stops at the iteration bound")
	assert.Equal(t, 5, q.size(1))
	assert.Equal(t, 2, q.prune(1, 100, recs.lookup), "prune stops at the first live root")
	assert.Equal(t, 3, q.size(1))
}
