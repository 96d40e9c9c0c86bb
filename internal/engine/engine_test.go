package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decentralabs/lab-reservation/internal/model"
)

// --- in-memory collaborators -------------------------------------------------

type fakeLabs struct {
	labs map[uint64]*model.Lab
}

func (f *fakeLabs) Lab(_ context.Context, labID uint64) (*model.Lab, error) {
	l, ok := f.labs[labID]
	if !ok {
		return nil, errors.New("no such lab")
	}
	return l, nil
}

func (f *fakeLabs) OwnerOf(_ context.Context, labID uint64) (string, error) {
	l, ok := f.labs[labID]
	if !ok {
		return "", errors.New("no such lab")
	}
	return l.OwnerAccount, nil
}

func (f *fakeLabs) CanFulfill(_ context.Context, owner string, labID uint64) (bool, error) {
	l, ok := f.labs[labID]
	return ok && l.IsListed && l.OwnerAccount == owner, nil
}

type transfer struct {
	to     string
	amount uint64
}

type fakeWallet struct {
	balances  map[string]uint64
	escrow    uint64
	pulls     []transfer // TransferFrom calls (payer -> escrow)
	payouts   []transfer // Transfer calls (escrow -> recipient)
	failPulls bool
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{balances: map[string]uint64{}}
}

func (w *fakeWallet) Available(_ context.Context, payer string, amount uint64) (bool, error) {
	return w.balances[payer] >= amount, nil
}

func (w *fakeWallet) TransferFrom(_ context.Context, payer string, amount uint64) error {
	if w.failPulls || w.balances[payer] < amount {
		return errors.New("transfer_from failed")
	}
	w.balances[payer] -= amount
	w.escrow += amount
	w.pulls = append(w.pulls, transfer{to: "escrow", amount: amount})
	return nil
}

func (w *fakeWallet) Transfer(_ context.Context, recipient string, amount uint64) error {
	if w.escrow < amount {
		return errors.New("escrow underflow")
	}
	w.escrow -= amount
	w.balances[recipient] += amount
	w.payouts = append(w.payouts, transfer{to: recipient, amount: amount})
	return nil
}

type fakeBudgets struct {
	wallet  *fakeWallet
	budgets map[string]*model.Budget
	now     func() uint32
}

func budgetKey(delegator, subID string) string { return delegator + "\x00" + subID }

func (b *fakeBudgets) CheckAvailability(_ context.Context, delegator, subID string, amount uint64) (uint32, uint32, bool, error) {
	bd, ok := b.budgets[budgetKey(delegator, subID)]
	if !ok {
		return 0, 0, false, nil
	}
	cur := bd.CurrentPeriodStart(b.now())
	spent := bd.SpentCents
	if cur != bd.PeriodStart {
		spent = 0
	}
	ok = spent+amount <= bd.LimitCents && b.wallet.balances[delegator] >= amount
	return cur, bd.PeriodSeconds, ok, nil
}

func (b *fakeBudgets) Spend(ctx context.Context, delegator, subID string, amount uint64) error {
	bd := b.budgets[budgetKey(delegator, subID)]
	if bd == nil {
		return errors.New("no budget")
	}
	if cur := bd.CurrentPeriodStart(b.now()); cur != bd.PeriodStart {
		bd.PeriodStart = cur
		bd.SpentCents = 0
	}
	if bd.SpentCents+amount > bd.LimitCents {
		return errors.New("budget exceeded")
	}
	if err := b.wallet.TransferFrom(ctx, delegator, amount); err != nil {
		return err
	}
	bd.SpentCents += amount
	return nil
}

func (b *fakeBudgets) Refund(ctx context.Context, delegator, subID string, amount uint64) error {
	bd := b.budgets[budgetKey(delegator, subID)]
	if bd != nil && bd.SpentCents >= amount {
		bd.SpentCents -= amount
	}
	return b.wallet.Transfer(ctx, delegator, amount)
}

type fakeNotifier struct {
	notified []string
}

func (n *fakeNotifier) NotifyLastActivity(_ context.Context, owner string) {
	n.notified = append(n.notified, owner)
}

// --- harness -----------------------------------------------------------------

type harness struct {
	eng      *Engine
	labs     *fakeLabs
	wallet   *fakeWallet
	budgets  *fakeBudgets
	notifier *fakeNotifier
	now      uint32
}

func newHarness(t *testing.T, feeBPS uint32) *harness {
	t.Helper()
	h := &harness{now: 1_000_000}
	h.labs = &fakeLabs{labs: map[uint64]*model.Lab{
		1: {ID: 1, OwnerAccount: "owner-1", Name: "optics bench", HourlyRateCents: 3600, IsListed: true},
		2: {ID: 2, OwnerAccount: "owner-2", Name: "clean room", HourlyRateCents: 0, IsListed: true},
		3: {ID: 3, OwnerAccount: "owner-3", Name: "mothballed", HourlyRateCents: 3600, IsListed: false},
	}}
	h.wallet = newFakeWallet()
	h.wallet.balances["alice"] = 1_000_000
	h.wallet.balances["bob"] = 1_000_000
	h.wallet.balances["uni"] = 1_000_000
	h.budgets = &fakeBudgets{
		wallet: h.wallet,
		now:    func() uint32 { return h.now },
		budgets: map[string]*model.Budget{
			budgetKey("uni", "student-7"): {
				Delegator: "uni", SubID: "student-7",
				PeriodStart: 900_000, PeriodSeconds: 1_000_000, LimitCents: 50_000,
			},
		},
	}
	h.notifier = &fakeNotifier{}
	h.eng = New(Deps{
		Labs:     h.labs,
		Wallet:   h.wallet,
		Budgets:  h.budgets,
		Notifier: h.notifier,
		Clock:    func() uint32 { return h.now },
		FeeBPS:   feeBPS,
		Treasury: "treasury",
	})
	return h
}

func (h *harness) at(offset uint32) uint32 { return 1_000_000 + offset }

func (h *harness) book(t *testing.T, labID uint64, start, end uint32, payer, subID string) model.ReservationKey {
	t.Helper()
	key, _, err := h.eng.Request(context.Background(), labID, start, end, payer, subID)
	require.NoError(t, err)
	res, err := h.eng.Confirm(context.Background(), key)
	require.NoError(t, err)
	require.False(t, res.Denied, "confirmation denied: %s", res.Reason)
	return key
}

// --- scenarios ---------------------------------------------------------------

func TestRequestThenConfirmBlocksSlot(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	key, r, err := h.eng.Request(ctx, 1, h.at(1000), h.at(2000), "alice", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Equal(t, uint64(1000), r.PriceCents, "1000s at 3600 cents/h, rounded up")

	// Lazy payment: nothing moved, slot not yet blocked.
	assert.Empty(t, h.wallet.pulls)
	assert.True(t, h.eng.CheckAvailable(1, h.at(1500), h.at(1800)))

	res, err := h.eng.Confirm(ctx, key)
	require.NoError(t, err)
	require.False(t, res.Denied)
	assert.Equal(t, model.StatusConfirmed, res.Reservation.Status)
	assert.Equal(t, "owner-1", res.Reservation.OwnerAtBooking)

	assert.False(t, h.eng.CheckAvailable(1, h.at(1000), h.at(2000)))
	assert.True(t, h.eng.CheckAvailable(1, h.at(2000), h.at(3000)))
	assert.Equal(t, []string{"owner-1"}, h.notifier.notified)
}

func TestSecondOverlappingRequestRejected(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	h.book(t, 1, h.at(1000), h.at(2000), "alice", "")

	// Same start collides on the reservation key, different start on the
	// calendar interval.
	_, _, err := h.eng.Request(ctx, 1, h.at(1000), h.at(2000), "bob", "")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	_, _, err = h.eng.Request(ctx, 1, h.at(1500), h.at(2500), "bob", "")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestCompetingPendingLosesAtConfirmation(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	k1, _, err := h.eng.Request(ctx, 1, h.at(1000), h.at(2000), "alice", "")
	require.NoError(t, err)
	// Pending reservations do not block the calendar, so an overlapping
	// request with a different start is still accepted.
	k2, _, err := h.eng.Request(ctx, 1, h.at(1500), h.at(2500), "bob", "")
	require.NoError(t, err)

	res, err := h.eng.Confirm(ctx, k1)
	require.NoError(t, err)
	require.False(t, res.Denied)

	// The loser is auto-denied, not errored.
	res, err = h.eng.Confirm(ctx, k2)
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Equal(t, model.StatusCancelled, res.Reservation.Status)
	assert.Empty(t, h.wallet.payouts, "denial of an unfunded reservation never refunds")
}

func TestCapEnforcementWithAutoRelease(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	for i := uint32(0); i < maxActivePerTracking; i++ {
		h.book(t, 1, h.at(1000+i*1000), h.at(1500+i*1000), "alice", "")
	}
	assert.Equal(t, maxActivePerTracking, h.eng.ActiveCount(1, "alice", ""))

	// Nothing has expired: the 11th request must fail.
	_, _, err := h.eng.Request(ctx, 1, h.at(50_000), h.at(51_000), "alice", "")
	assert.ErrorIs(t, err, ErrCapExceeded)

	// Advance past the earliest end: one auto-release frees one slot.
	h.now = h.at(1600)
	_, _, err = h.eng.Request(ctx, 1, h.at(50_000), h.at(51_000), "alice", "")
	require.NoError(t, err)
	assert.Equal(t, maxActivePerTracking, h.eng.ActiveCount(1, "alice", ""))

	// The released reservation completed but stays payable.
	released, ok := h.eng.GetReservation(model.KeyFor(1, h.at(1000)))
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, released.Status)
	end, ok := h.eng.NextExpiration(1)
	require.True(t, ok)
	assert.Equal(t, h.at(1500), end)
}

func TestConfirmWithoutFundsAutoDenies(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	key, _, err := h.eng.Request(ctx, 1, h.at(1000), h.at(2000), "alice", "")
	require.NoError(t, err)

	// Funds vanish between request and confirmation.
	h.wallet.balances["alice"] = 0
	res, err := h.eng.Confirm(ctx, key)
	require.NoError(t, err, "a failed payment is a denial outcome, not an error")
	assert.True(t, res.Denied)
	assert.Equal(t, "payment failed", res.Reason)
	assert.Equal(t, model.StatusCancelled, res.Reservation.Status)

	// No calendar interval, no heap entries, cap slot given back.
	assert.True(t, h.eng.CheckAvailable(1, h.at(1000), h.at(2000)))
	_, ok := h.eng.NextExpiration(1)
	assert.False(t, ok)
	assert.Equal(t, 0, h.eng.ActiveCount(1, "alice", ""))
	assert.Empty(t, h.wallet.payouts, "PENDING -> CANCELLED never triggers a refund")
}

func TestCollectSettlesMaturedBatch(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	for i := uint32(0); i < 3; i++ {
		h.book(t, 1, h.at(1000+i*1000), h.at(1500+i*1000), "alice", "")
	}
	h.book(t, 1, h.at(90_000), h.at(91_000), "alice", "")

	h.now = h.at(10_000)
	res, err := h.eng.Collect(ctx, 1, "owner-1", false, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Collected)
	assert.Equal(t, uint64(3*500), res.OwnerAmountCents)

	// One batched transfer for the summed price.
	require.Len(t, h.wallet.payouts, 1)
	assert.Equal(t, transfer{to: "owner-1", amount: 1500}, h.wallet.payouts[0])

	// Queue drained of matured entries; the future booking remains.
	res, err = h.eng.Collect(ctx, 1, "owner-1", false, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Collected)
	end, ok := h.eng.NextExpiration(1)
	require.True(t, ok)
	assert.Equal(t, h.at(91_000), end)
}

func TestCollectAuthorization(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	h.book(t, 1, h.at(1000), h.at(2000), "alice", "")
	h.now = h.at(3000)

	_, err := h.eng.Collect(ctx, 1, "bob", false, 10)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := h.eng.Collect(ctx, 1, "operator", true, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Collected)
	assert.Equal(t, "owner-1", res.Owner, "admin collects on the owner's behalf")
}

func TestPlatformFeeSplit(t *testing.T) {
	h := newHarness(t, 1000) // 10%
	ctx := context.Background()

	key := h.book(t, 1, h.at(1000), h.at(2000), "alice", "")
	r, ok := h.eng.GetReservation(key)
	require.True(t, ok)
	assert.Equal(t, uint64(100), r.PlatformShareCents)
	assert.Equal(t, uint64(900), r.OwnerShareCents)

	h.now = h.at(3000)
	res, err := h.eng.Collect(ctx, 1, "owner-1", false, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), res.OwnerAmountCents)
	assert.Equal(t, uint64(100), res.PlatformAmountCents)
	require.Len(t, h.wallet.payouts, 2)
	assert.Equal(t, transfer{to: "treasury", amount: 100}, h.wallet.payouts[1])
}

func TestCancelConfirmedRefundsAndFreesSlot(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	key := h.book(t, 1, h.at(1000), h.at(2000), "alice", "")
	balanceAfterBooking := h.wallet.balances["alice"]

	_, err := h.eng.CancelConfirmed(ctx, key, "bob", false)
	assert.ErrorIs(t, err, ErrForbidden)

	r, err := h.eng.CancelConfirmed(ctx, key, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, r.Status)
	assert.Equal(t, balanceAfterBooking+r.PriceCents, h.wallet.balances["alice"])

	// Slot reopens and the payout entry dies.
	assert.True(t, h.eng.CheckAvailable(1, h.at(1000), h.at(2000)))
	h.now = h.at(5000)
	res, err := h.eng.Collect(ctx, 1, "owner-1", false, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Collected)
	assert.Equal(t, 0, h.eng.ActiveCount(1, "alice", ""))
}

func TestCancelPendingNeverRefunds(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	key, _, err := h.eng.Request(ctx, 1, h.at(1000), h.at(2000), "alice", "")
	require.NoError(t, err)

	r, err := h.eng.CancelPending(ctx, key, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, r.Status)
	assert.Empty(t, h.wallet.payouts)
	assert.Empty(t, h.wallet.pulls)

	// The freed key is rebookable.
	_, _, err = h.eng.Request(ctx, 1, h.at(1000), h.at(2000), "bob", "")
	assert.NoError(t, err)
}

func TestReleaseExpiredFreesCapKeepsPayout(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	h.book(t, 1, h.at(1000), h.at(1500), "alice", "")
	h.book(t, 1, h.at(2000), h.at(2500), "alice", "")
	require.Equal(t, 2, h.eng.ActiveCount(1, "alice", ""))

	h.now = h.at(3000)
	assert.Equal(t, 2, h.eng.ReleaseExpired(1, "alice", "", 10))
	assert.Equal(t, 0, h.eng.ActiveCount(1, "alice", ""))

	// The owner can still collect both.
	res, err := h.eng.Collect(ctx, 1, "owner-1", false, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Collected)
	assert.Equal(t, 0, h.eng.ActiveCount(1, "alice", ""), "collect after release does not double-decrement")
}

func TestDelegatedBudgetFlow(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	key, r, err := h.eng.Request(ctx, 2, h.at(1000), h.at(2000), "uni", "student-7")
	require.NoError(t, err)
	assert.Equal(t, uint32(900_000), r.PeriodStart, "period snapshot taken at request time")

	// Wallet and delegated requesters index under different tracking keys.
	assert.Equal(t, 1, h.eng.ActiveCount(2, "uni", "student-7"))
	assert.Equal(t, 0, h.eng.ActiveCount(2, "uni", ""))

	res, err := h.eng.Confirm(ctx, key)
	require.NoError(t, err)
	require.False(t, res.Denied)

	r2, err := h.eng.CancelConfirmed(ctx, key, "uni", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, r2.Status)
	assert.Equal(t, uint64(0), h.budgets.budgets[budgetKey("uni", "student-7")].SpentCents)
}

func TestDelegatedStalePeriodDenied(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	// Price must be nonzero for the budget to matter; lab 1 charges.
	key, _, err := h.eng.Request(ctx, 1, h.at(1000), h.at(2000), "uni", "student-7")
	require.NoError(t, err)

	// The spending period rolls over before confirmation.
	h.now = 1_900_001
	res, err := h.eng.Confirm(ctx, key)
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Equal(t, "spending period rolled over", res.Reason)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, _, err := h.eng.Request(ctx, 1, h.at(2000), h.at(1000), "alice", "")
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, _, err = h.eng.Request(ctx, 1, h.now-10, h.now+10, "alice", "")
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, _, err = h.eng.Request(ctx, 99, h.at(1000), h.at(2000), "alice", "")
	assert.ErrorIs(t, err, ErrLabNotFound)
	_, _, err = h.eng.Request(ctx, 3, h.at(1000), h.at(2000), "alice", "")
	assert.ErrorIs(t, err, ErrLabNotListed)
	h.wallet.balances["alice"] = 10
	_, _, err = h.eng.Request(ctx, 1, h.at(1000), h.at(2000), "alice", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestUsageTransitions(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	key := h.book(t, 1, h.at(1000), h.at(2000), "alice", "")

	// Too early to check in.
	_, err := h.eng.MarkInUse(ctx, key, "alice", false)
	assert.ErrorIs(t, err, ErrWrongStatus)

	h.now = h.at(1200)
	r, err := h.eng.MarkInUse(ctx, key, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInUse, r.Status)

	r, err = h.eng.MarkCompleted(ctx, key, "owner-1", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, r.Status)

	// Completed records remain collectible.
	h.now = h.at(3000)
	res, err := h.eng.Collect(ctx, 1, "owner-1", false, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Collected)
}

func TestHistoryBuffers(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	k1 := h.book(t, 1, h.at(1000), h.at(1500), "alice", "")
	h.book(t, 1, h.at(2000), h.at(2500), "alice", "")
	h.book(t, 1, h.at(3000), h.at(3500), "bob", "")

	recent := h.eng.RecentReservations(1)
	require.Len(t, recent, 3)
	assert.Equal(t, h.at(3000), recent[0].Start, "recent is newest-first")

	up := h.eng.UpcomingReservations(1)
	require.Len(t, up, 3)
	assert.Equal(t, h.at(1000), up[0].Start, "upcoming is soonest-first")

	mine := h.eng.UpcomingReservationsFor(1, "alice", "")
	require.Len(t, mine, 2)

	// A cancellation is filtered from upcoming at read time and lands in
	// past.
	_, err := h.eng.CancelConfirmed(ctx, k1, "alice", false)
	require.NoError(t, err)
	up = h.eng.UpcomingReservations(1)
	require.Len(t, up, 2)
	assert.Equal(t, h.at(2000), up[0].Start)
	past := h.eng.PastReservations(1)
	require.Len(t, past, 1)
	assert.Equal(t, model.StatusCancelled, past[0].Status)
}

func TestQueriesOverCalendar(t *testing.T) {
	h := newHarness(t, 0)

	h.book(t, 1, h.at(1000), h.at(2000), "alice", "")
	h.book(t, 1, h.at(3000), h.at(4000), "bob", "")

	assert.Equal(t, h.at(2000), h.eng.NextAvailableSlot(1, h.at(1500), 500))
	assert.Equal(t, h.at(4000), h.eng.NextAvailableSlot(1, h.at(1500), 1500))

	slots := h.eng.FindAvailableSlots(1, h.at(0), h.at(5000), 500, 10)
	require.Len(t, slots, 3)
	assert.Equal(t, model.Interval{Start: h.at(0), End: h.at(1000)}, slots[0])
	assert.Equal(t, model.Interval{Start: h.at(2000), End: h.at(3000)}, slots[1])
	assert.Equal(t, model.Interval{Start: h.at(4000), End: h.at(5000)}, slots[2])

	assert.True(t, h.eng.IsBusy(1, h.at(1500)))
	assert.False(t, h.eng.IsBusy(1, h.at(2500)))

	r, ok := h.eng.FindReservationAt(1, h.at(3500))
	require.True(t, ok)
	assert.Equal(t, "bob", r.Payer)

	stats := h.eng.ReservationStats(1)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, uint64(2000), stats.BookedSeconds)

	booked := h.eng.BookedSlots(1)
	require.Len(t, booked, 2)
	assert.Equal(t, h.at(1000), booked[0].Start)
}

func TestHeapLivenessAfterChurn(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	var keys []model.ReservationKey
	for i := uint32(0); i < 8; i++ {
		keys = append(keys, h.book(t, 1, h.at(1000+i*1000), h.at(1500+i*1000), "alice", ""))
	}
	for _, k := range keys[:4] {
		_, err := h.eng.CancelConfirmed(ctx, k, "alice", false)
		require.NoError(t, err)
	}

	r, ok := h.eng.NextActiveReservation(1, "alice", "")
	require.True(t, ok)
	assert.Equal(t, h.at(5000), r.Start, "cancelled entries never surface")
	assert.Equal(t, model.StatusConfirmed, r.Status)

	pruned := h.eng.PrunePayouts(1, 2)
	assert.Equal(t, 2, pruned)
}

func TestZeroPriceReservation(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	// Lab 2 is free of charge; no wallet interaction at all.
	key := h.book(t, 2, h.at(1000), h.at(2000), "alice", "")
	assert.Empty(t, h.wallet.pulls)

	h.now = h.at(3000)
	res, err := h.eng.Collect(ctx, 2, "owner-2", false, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Collected)
	assert.Empty(t, h.wallet.payouts, "nothing to transfer for a free slot")

	r, _ := h.eng.GetReservation(key)
	assert.Equal(t, model.StatusCollected, r.Status)
}
