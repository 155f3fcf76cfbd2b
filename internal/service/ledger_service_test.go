package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SmachnoBot/internal/models"
)

func totalPaid(t *testing.T, f *fixture, telegramID int64) int64 {
	t.Helper()
	u, err := f.store.Users().FindByTelegramID(context.Background(), telegramID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.TotalPaid
}

func TestCreateIntentRecordsPendingPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p1, err := f.ledger.CreateIntent(ctx, 42, 3000, "")
	require.NoError(t, err)
	p2, err := f.ledger.CreateIntent(ctx, 42, 3000, "UAH")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(p1.Reference, "creative_42_"))
	assert.NotEqual(t, p1.Reference, p2.Reference, "same clock tick must still yield distinct references")
	assert.Equal(t, models.PaymentPending, p1.Status)
	assert.Equal(t, "UAH", p1.Currency)

	stored, err := f.ledger.Payment(ctx, p1.Reference)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(3000), stored.Amount)
	assert.Nil(t, stored.CompletedAt)
	assert.Equal(t, "create_intent", f.opLog.last().Operation)

	_, err = f.ledger.CreateIntent(ctx, 42, 0, "UAH")
	assert.Error(t, err)
}

func TestApplyStatusCompletesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.ledger.CreateIntent(ctx, 42, 3000, "UAH")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	got, tr, err := f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: p.Reference, Status: models.PaymentCompleted, Amount: 3000})
	require.NoError(t, err)
	assert.True(t, tr.Completed())
	assert.Equal(t, models.PaymentPending, tr.From)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, int64(3000), totalPaid(t, f, 42))
	assert.Equal(t, 1.0, f.counter(t, "smachno_payment_transitions_total", map[string]string{"from": "pending", "to": "completed"}))

	_, tr, err = f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: p.Reference, Status: models.PaymentCompleted, Amount: 3000})
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	assert.False(t, tr.Completed())
	assert.Equal(t, int64(3000), totalPaid(t, f, 42))
	assert.Equal(t, "ok", f.opLog.last().Status)
}

func TestApplyStatusRefundReversesTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.ledger.CreateIntent(ctx, 42, 3000, "UAH")
	require.NoError(t, err)

	_, _, err = f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: p.Reference, Status: models.PaymentCompleted})
	require.NoError(t, err)
	_, tr, err := f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: p.Reference, Status: models.PaymentRefunded})
	require.NoError(t, err)
	assert.True(t, tr.Changed)
	assert.Equal(t, int64(0), totalPaid(t, f, 42))

	stored, err := f.ledger.Payment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, stored.Status)
	assert.NotNil(t, stored.CompletedAt, "completion time survives a refund")
}

func TestApplyStatusRejectsTransitionOutsideTable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.ledger.CreateIntent(ctx, 42, 3000, "UAH")
	require.NoError(t, err)
	_, _, err = f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: p.Reference, Status: models.PaymentFailed})
	require.NoError(t, err)

	_, _, err = f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: p.Reference, Status: models.PaymentCompleted, Amount: 3000})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "error", f.opLog.last().Status)

	stored, err := f.ledger.Payment(ctx, p.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, stored.Status)
	assert.Equal(t, int64(0), totalPaid(t, f, 42))

	_, _, err = f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: p.Reference, Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1.0, f.counter(t, "smachno_payment_refused_transitions_total", nil))
}

func TestApplyStatusHealsMissingIntentFromReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	got, tr, err := f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: "creative_777_1700000000000", Status: models.PaymentCompleted, Amount: 3000, Currency: "UAH"})
	require.NoError(t, err)
	assert.True(t, tr.Created)
	assert.True(t, tr.Completed())
	assert.Equal(t, models.PaymentCompleted, got.Status)
	assert.Equal(t, int64(3000), totalPaid(t, f, 777))
	assert.Equal(t, 1.0, f.counter(t, "smachno_payment_transitions_total", map[string]string{"from": "none", "to": "completed"}))

	_, tr, err = f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: "creative_777_1700000000000", Status: models.PaymentCompleted, Amount: 3000})
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	assert.Equal(t, int64(3000), totalPaid(t, f, 777))
}

func TestApplyStatusHealsWithExplicitUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, tr, err := f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: "legacy-order-1", Status: models.PaymentFailed, TelegramID: 55})
	require.NoError(t, err)
	assert.True(t, tr.Created)
	assert.Equal(t, int64(0), totalPaid(t, f, 55))
}

func TestApplyStatusUnresolvableUserIsLoud(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: "order-xyz", Status: models.PaymentCompleted, Amount: 3000})
	require.ErrorIs(t, err, ErrUserUnresolvable)

	p, err := f.ledger.Payment(ctx, "order-xyz")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestConcurrentDuplicateNotificationsCreditOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p, err := f.ledger.CreateIntent(ctx, 42, 3000, "UAH")
	require.NoError(t, err)

	var changed int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, tr, err := f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: p.Reference, Status: models.PaymentCompleted, Amount: 3000})
			assert.NoError(t, err)
			if tr.Changed {
				atomic.AddInt32(&changed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), changed)
	assert.Equal(t, int64(3000), totalPaid(t, f, 42))
	paid, err := f.entitlements.AvailablePaid(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, paid)
}

func TestConcurrentHealsInsertOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var created int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, tr, err := f.ledger.ApplyStatus(ctx, StatusUpdate{Reference: "creative_9_1700000000000", Status: models.PaymentCompleted, Amount: 3000})
			assert.NoError(t, err)
			if tr.Created {
				atomic.AddInt32(&created, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created)
	assert.Equal(t, int64(3000), totalPaid(t, f, 9))
}
