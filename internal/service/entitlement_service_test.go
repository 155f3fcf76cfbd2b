package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SmachnoBot/internal/models"
)

func completePayment(t *testing.T, f *fixture, telegramID int64) string {
	t.Helper()
	ctx := context.Background()
	p, err := f.ledger.CreateIntent(ctx, telegramID, 3000, "UAH")
	require.NoError(t, err)
	_, _, err = f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: p.Reference, Status: models.PaymentCompleted, Amount: 3000})
	require.NoError(t, err)
	return p.Reference
}

func TestUnknownUserHasFullFreeQuota(t *testing.T) {
	f := newFixture(t)
	snap, err := f.entitlements.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.FreeRemaining)
	assert.Equal(t, 0, snap.PaidAvailable)
	assert.Equal(t, 2, snap.Total())
}

func TestConsumeChargesFreeThenPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		cost, _, err := f.entitlements.ConsumeOne(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, models.CostTypeFree, cost)
	}
	_, snap, err := f.entitlements.ConsumeOne(ctx, 42)
	require.ErrorIs(t, err, ErrNoCredits)
	assert.Equal(t, 0, snap.Total())

	completePayment(t, f, 42)
	total, err := f.entitlements.TotalAvailable(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	cost, snap, err := f.entitlements.ConsumeOne(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.CostTypePaid, cost)
	assert.Equal(t, 0, snap.PaidAvailable)

	_, _, err = f.entitlements.ConsumeOne(ctx, 42)
	assert.ErrorIs(t, err, ErrNoCredits)

	u, err := f.store.Users().FindByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, u.FreeGenerationsUsed)
	assert.Equal(t, 1, u.PaidGenerationsUsed)
	assert.Equal(t, 3, u.TotalGenerations)
	assert.Equal(t, 2.0, f.counter(t, "smachno_credits_consumed_total", map[string]string{"source": "free"}))
	assert.Equal(t, 1.0, f.counter(t, "smachno_credits_consumed_total", map[string]string{"source": "paid"}))
}

func TestCreditsPerPaymentMultiplies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.entitlements = NewEntitlementService(f.store, discardLogger(), 0, 3, WithClock(f.clock.Now))

	completePayment(t, f, 42)
	paid, err := f.entitlements.AvailablePaid(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 3, paid)
	free, err := f.entitlements.AvailableFree(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, free)
}

func TestRefundAfterUseIsClampedAndCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ref := completePayment(t, f, 42)
	for i := 0; i < 3; i++ {
		_, _, err := f.entitlements.ConsumeOne(ctx, 42)
		require.NoError(t, err)
	}

	_, _, err := f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: ref, Status: models.PaymentRefunded})
	require.NoError(t, err)

	snap, err := f.entitlements.Snapshot(ctx, 42)
	require.NoError(t, err)
	assert.True(t, snap.Corrected)
	assert.Equal(t, 0, snap.PaidAvailable)
	assert.Equal(t, 1.0, f.counter(t, "smachno_entitlement_corrections_total", nil))
}

func TestConcurrentConsumeNeverOvercharges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	completePayment(t, f, 42)

	var charged, refused int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.entitlements.ConsumeOne(ctx, 42)
			switch {
			case err == nil:
				atomic.AddInt32(&charged, 1)
			case errors.Is(err, ErrNoCredits):
				atomic.AddInt32(&refused, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), charged)
	assert.Equal(t, int32(7), refused)
	total, err := f.entitlements.TotalAvailable(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}
