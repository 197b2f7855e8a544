package compensation

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledgercore/internal/domain/identity"
	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"
	"ledgercore/internal/resilience"
	"ledgercore/internal/services/audit"
	"ledgercore/internal/services/wallet"
	"ledgercore/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	operator    = identity.Actor{ActorID: "ops-1", UserID: "ops-1", Role: "admin"}
	errLedgerUp = resilience.Transient(errors.New("ledger database unavailable"))
)

// flakyLedger fails the next n calls, then delegates.
type flakyLedger struct {
	Ledger
	failures int
	err      error
	calls    int
}

func (f *flakyLedger) fail() error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return nil
}

func (f *flakyLedger) Debit(ctx context.Context, req wallet.Request) (*wallet.Result, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Ledger.Debit(ctx, req)
}

func (f *flakyLedger) Credit(ctx context.Context, req wallet.Request) (*wallet.Result, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Ledger.Credit(ctx, req)
}

func (f *flakyLedger) Refund(ctx context.Context, req wallet.Request) (*wallet.Result, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Ledger.Refund(ctx, req)
}

type MockLabels struct {
	mock.Mock
}

func (m *MockLabels) CancelLabel(ctx context.Context, shipmentID string) error {
	return m.Called(ctx, shipmentID).Error(0)
}

type fixture struct {
	db     *gorm.DB
	wallet wallet.Service
	ledger *flakyLedger
	svc    *service
	clock  time.Time
}

func newFixture(t *testing.T, cfg Config, labels LabelCanceller) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	auditSvc := audit.NewService(db, nil, nil)
	w := wallet.NewService(repositories.NewAccountRepository(db), auditSvc, wallet.WalletConfig{}, nil, nil)
	ledger := &flakyLedger{Ledger: w, err: errLedgerUp}

	f := &fixture{db: db, wallet: w, ledger: ledger, clock: time.Now().UTC()}
	f.svc = NewService(repositories.NewCompensationRepository(db), ledger, labels, auditSvc, cfg, nil, nil).(*service)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) balance(t *testing.T, id string) string {
	t.Helper()
	var acc models.Account
	require.NoError(t, f.db.First(&acc, "id = ?", id).Error)
	return acc.Balance.StringFixed(2)
}

func (f *fixture) backdate(t *testing.T, entryID string, age time.Duration) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.CompensationEntry{}).Where("id = ?", entryID).
		UpdateColumn("created_at", f.clock.Add(-age)).Error)
}

func refundAction(accountID, entityID, amount string) Action {
	return Action{
		Type:      models.CompensationActionRefund,
		AccountID: accountID,
		EntityID:  entityID,
		Amount:    testutil.Money(amount),
		Reason:    "shipment cancelled",
		Actor:     identity.Actor{ActorID: "user-42", UserID: "user-42"},
	}
}

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{models.CompensationActionRefund, "cancel-ship-123"},
		{models.CompensationActionCredit, "credit-ship-123"},
		{models.CompensationActionDebit, "charge-ship-123"},
		{models.CompensationActionCancelLabel, "label-cancel-ship-123"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveKey(tt.action, "ship-123"))
			assert.Equal(t, DeriveKey(tt.action, "ship-123"), DeriveKey(tt.action, "ship-123"))
		})
	}
}

// Debit 20 from 80, fail the cancellation refund, then recover it by retry.
func TestShipmentCancellationScenario(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	acc := testutil.SeedAccount(t, f.db, "80.00")

	charged, err := f.wallet.Debit(ctx, wallet.Request{
		AccountID:      acc.ID,
		Amount:         testutil.Money("20"),
		IdempotencyKey: "ship-123",
		Reason:         "label purchase",
	})
	require.NoError(t, err)
	assert.Equal(t, "60.00", charged.BalanceAfter.StringFixed(2))

	f.ledger.failures = 1
	res, entry, err := f.svc.ExecuteOrEnqueue(ctx, refundAction(acc.ID, "ship-123", "20"))
	require.ErrorIs(t, err, apperrors.ErrDeferred)
	require.ErrorIs(t, err, errLedgerUp)
	assert.Nil(t, res)
	require.NotNil(t, entry)
	assert.Equal(t, models.CompensationPending, entry.Status)
	assert.Equal(t, "cancel-ship-123", entry.IdempotencyKey)
	assert.Equal(t, "ledger database unavailable", entry.ErrorContext["error"])
	assert.Equal(t, true, entry.ErrorContext["retryable"])
	assert.Equal(t, "60.00", f.balance(t, acc.ID))

	resolved, err := f.svc.Retry(ctx, entry.ID, operator)
	require.NoError(t, err)
	assert.Equal(t, models.CompensationResolved, resolved.Status)
	assert.Equal(t, "ops-1", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "80.00", f.balance(t, acc.ID))

	_, err = f.svc.Retry(ctx, entry.ID, operator)
	assert.ErrorIs(t, err, apperrors.ErrEntryResolved)

	replay, err := f.wallet.Refund(ctx, wallet.Request{AccountID: acc.ID, Amount: testutil.Money("20"), IdempotencyKey: "cancel-ship-123"})
	require.NoError(t, err)
	assert.True(t, replay.IdempotentReplay)
	assert.Equal(t, "80.00", f.balance(t, acc.ID))
}

func TestExecuteOrEnqueue_SuccessQueuesNothing(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	acc := testutil.SeedAccount(t, f.db, "10.00")

	res, entry, err := f.svc.ExecuteOrEnqueue(context.Background(), refundAction(acc.ID, "ship-9", "5"))
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, "15.00", res.BalanceAfter.StringFixed(2))

	_, total, err := f.svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

// Every failure of a dependent action leaves exactly one entry behind,
// whatever the failure class.
func TestCompensationCompleteness(t *testing.T) {
	failures := map[string]error{
		"transient":         errLedgerUp,
		"lock contention":   apperrors.ErrLockContention,
		"terminal domain":   apperrors.ErrAmountOutOfRange,
		"deadline exceeded": context.DeadlineExceeded,
		"plain error":       errors.New("boom"),
	}
	for name, cause := range failures {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, Config{}, nil)
			acc := testutil.SeedAccount(t, f.db, "10.00")
			f.ledger.failures = 1
			f.ledger.err = cause

			_, entry, err := f.svc.ExecuteOrEnqueue(context.Background(), refundAction(acc.ID, "ship-1", "3"))
			require.ErrorIs(t, err, apperrors.ErrDeferred)
			require.ErrorIs(t, err, cause)
			require.NotNil(t, entry)

			stored, err := f.svc.Get(context.Background(), entry.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CompensationPending, stored.Status)
			assert.Equal(t, acc.ID, stored.AccountID)
			assert.Equal(t, "3.00", stored.Amount.StringFixed(2))
		})
	}
}

func TestExecuteOrEnqueue_LedgerRejectionIsQueued(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	acc := testutil.SeedAccount(t, f.db, "1.00")

	_, entry, err := f.svc.ExecuteOrEnqueue(context.Background(), Action{
		Type:      models.CompensationActionDebit,
		AccountID: acc.ID,
		EntityID:  "ship-5",
		Amount:    testutil.Money("2"),
	})
	require.ErrorIs(t, err, apperrors.ErrInsufficientBalance)
	require.NotNil(t, entry)
	assert.Equal(t, "charge-ship-5", entry.IdempotencyKey)
	assert.Equal(t, string(apperrors.CodeInsufficientBalance), entry.ErrorContext["error_kind"])
}

func TestEnqueueIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	acc := testutil.SeedAccount(t, f.db, "10.00")
	ctx := context.Background()

	first, err := f.svc.Enqueue(ctx, refundAction(acc.ID, "ship-2", "4"), errLedgerUp)
	require.NoError(t, err)
	second, err := f.svc.Enqueue(ctx, refundAction(acc.ID, "ship-2", "4"), errLedgerUp)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, total, err := f.svc.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	var logs []models.AuditLog
	require.NoError(t, f.db.Where("action = ?", audit.ActionCompensationQueued).Find(&logs).Error)
	assert.Len(t, logs, 1)
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	_, err := f.svc.Enqueue(ctx, Action{Type: "TELEPORT", EntityID: "x"}, errLedgerUp)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedAction)

	_, err = f.svc.Enqueue(ctx, Action{Type: models.CompensationActionRefund, EntityID: "x", AccountID: "a"}, errLedgerUp)
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	_, err = f.svc.Enqueue(ctx, Action{Type: models.CompensationActionCredit, AccountID: "a", Amount: testutil.Money("1")}, errLedgerUp)
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	_, _, err = f.svc.ExecuteOrEnqueue(ctx, Action{Type: models.CompensationActionRefund, EntityID: "x", AccountID: "a", Amount: testutil.Money("0.004")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidAmount)

	var n int64
	require.NoError(t, f.db.Model(&models.CompensationEntry{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestProcessPending_RetriesOnBackoffThenResolves(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	acc := testutil.SeedAccount(t, f.db, "50.00")
	ctx := context.Background()

	f.ledger.failures = 2
	_, entry, err := f.svc.ExecuteOrEnqueue(ctx, refundAction(acc.ID, "ship-3", "10"))
	require.ErrorIs(t, err, apperrors.ErrDeferred)

	// not due yet
	res, err := f.svc.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	f.advance(2 * time.Minute)
	res, err = f.svc.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Processed: 1, Retried: 1}, *res)

	stored, err := f.svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.NextRetryAt)
	assert.WithinDuration(t, f.clock.Add(5*time.Minute), *stored.NextRetryAt, time.Second)
	assert.Equal(t, "ledger database unavailable", stored.ErrorContext["last_error"])

	f.advance(6 * time.Minute)
	res, err = f.svc.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	assert.Equal(t, "60.00", f.balance(t, acc.ID))

	stored, err = f.svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompensationResolved, stored.Status)
	assert.Equal(t, identity.SystemCompensation, stored.ResolvedBy)
}

func TestProcessPending_ExhaustedRetriesNeedManualReview(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 2}, nil)
	acc := testutil.SeedAccount(t, f.db, "50.00")
	ctx := context.Background()

	f.ledger.failures = 100
	_, entry, err := f.svc.ExecuteOrEnqueue(ctx, refundAction(acc.ID, "ship-4", "10"))
	require.Error(t, err)

	for i := 0; i < 4; i++ {
		f.advance(13 * time.Hour)
		_, err := f.svc.ProcessPending(ctx)
		require.NoError(t, err)
	}

	stored, err := f.svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompensationPending, stored.Status)
	assert.True(t, stored.ManualReview)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Nil(t, stored.NextRetryAt)
	// initial attempt plus two automatic retries
	assert.Equal(t, 3, f.ledger.calls)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ManualReview)

	// an operator can still push it through
	f.ledger.failures = 0
	resolved, err := f.svc.Retry(ctx, entry.ID, operator)
	require.NoError(t, err)
	assert.Equal(t, models.CompensationResolved, resolved.Status)
}

func TestProcessPending_ExpiresStaleEntries(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	acc := testutil.SeedAccount(t, f.db, "50.00")
	ctx := context.Background()

	stale, err := f.svc.Enqueue(ctx, refundAction(acc.ID, "ship-old", "7"), errLedgerUp)
	require.NoError(t, err)
	fresh, err := f.svc.Enqueue(ctx, refundAction(acc.ID, "ship-new", "3"), errLedgerUp)
	require.NoError(t, err)
	f.backdate(t, stale.ID, 8*24*time.Hour)

	f.ledger.failures = 100
	res, err := f.svc.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	stored, err := f.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompensationExpired, stored.Status)
	assert.NotEmpty(t, stored.ExpiredReason)

	stored, err = f.svc.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CompensationPending, stored.Status)

	var logs []models.AuditLog
	require.NoError(t, f.db.Where("action = ?", audit.ActionCompensationExpired).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.SeverityCritical, logs[0].Severity)

	f.ledger.failures = 0
	resolved, err := f.svc.Retry(ctx, stale.ID, operator)
	require.NoError(t, err)
	assert.Equal(t, models.CompensationResolved, resolved.Status)
	assert.Equal(t, "57.00", f.balance(t, acc.ID))
}

func TestMarkResolved(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	acc := testutil.SeedAccount(t, f.db, "50.00")
	ctx := context.Background()

	entry, err := f.svc.Enqueue(ctx, refundAction(acc.ID, "ship-6", "7"), errLedgerUp)
	require.NoError(t, err)

	_, err = f.svc.MarkResolved(ctx, entry.ID, operator, " ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	resolved, err := f.svc.MarkResolved(ctx, entry.ID, operator, "refunded by bank transfer")
	require.NoError(t, err)
	assert.Equal(t, models.CompensationResolved, resolved.Status)
	assert.Equal(t, "refunded by bank transfer", resolved.ResolutionNotes)
	assert.Equal(t, "50.00", f.balance(t, acc.ID), "out of band resolution moves no money")

	_, err = f.svc.MarkResolved(ctx, entry.ID, operator, "again")
	assert.ErrorIs(t, err, apperrors.ErrEntryResolved)

	_, err = f.svc.MarkResolved(ctx, "missing", operator, "x")
	assert.ErrorIs(t, err, apperrors.ErrEntryNotFound)
}

func TestCancelLabelDispatch(t *testing.T) {
	labels := new(MockLabels)
	labels.On("CancelLabel", mock.Anything, "ship-8").Return(errors.New("courier timeout")).Once()
	labels.On("CancelLabel", mock.Anything, "ship-8").Return(nil).Once()

	f := newFixture(t, Config{}, labels)
	ctx := context.Background()

	_, entry, err := f.svc.ExecuteOrEnqueue(ctx, Action{Type: models.CompensationActionCancelLabel, EntityID: "ship-8"})
	require.ErrorIs(t, err, apperrors.ErrDeferred)
	assert.Equal(t, "label-cancel-ship-8", entry.IdempotencyKey)

	f.advance(2 * time.Minute)
	res, err := f.svc.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resolved)
	labels.AssertExpectations(t)
}

func TestStats(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	acc := testutil.SeedAccount(t, f.db, "50.00")
	ctx := context.Background()

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, SeverityHealthy, stats.Severity)

	young, err := f.svc.Enqueue(ctx, refundAction(acc.ID, "s-1", "1.50"), errLedgerUp)
	require.NoError(t, err)
	mid, err := f.svc.Enqueue(ctx, refundAction(acc.ID, "s-2", "2.50"), errLedgerUp)
	require.NoError(t, err)
	f.backdate(t, young.ID, time.Hour)
	f.backdate(t, mid.ID, 48*time.Hour)

	stats, err = f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, AgeBuckets{Healthy: 1, Warning: 1}, stats.Age)
	assert.Equal(t, "4.00", stats.PendingAmount.StringFixed(2))
	assert.Equal(t, SeverityWarning, stats.Severity)
	require.NotNil(t, stats.OldestPending)

	old, err := f.svc.Enqueue(ctx, refundAction(acc.ID, "s-3", "1"), errLedgerUp)
	require.NoError(t, err)
	f.backdate(t, old.ID, 8*24*time.Hour)

	stats, err = f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Age.Critical)
	assert.Equal(t, SeverityCritical, stats.Severity)

	_, err = f.svc.Retry(ctx, young.ID, operator)
	require.NoError(t, err)
	stats, err = f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Resolved)
	assert.Equal(t, 1, stats.Resolution.Samples)
	assert.InDelta(t, float64(time.Hour), float64(stats.Resolution.P50), float64(time.Minute))
}

func TestPercentiles(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Second)
	}
	p := percentiles(ds)
	assert.Equal(t, 100, p.Samples)
	assert.Equal(t, 50*time.Second, p.P50)
	assert.Equal(t, 95*time.Second, p.P95)
	assert.Equal(t, 99*time.Second, p.P99)

	assert.Equal(t, ResolutionTimes{}, percentiles(nil))
}
