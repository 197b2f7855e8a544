package wallet

import (
	"context"
	"sort"
	"sync"
	"testing"

	apperrors "ledgercore/internal/errors"
	"ledgercore/internal/models"
	"ledgercore/internal/repositories"
	"ledgercore/internal/services/audit"
	"ledgercore/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAccountRepository stands in for postgres, where NOWAIT and unique
// violations surface as driver errors.
type MockAccountRepository struct {
	mock.Mock
	repositories.AccountRepository
}

func (m *MockAccountRepository) FindTransaction(ctx context.Context, txType, key, accountID string) (*models.Transaction, error) {
	args := m.Called(txType, key, accountID)
	txn, _ := args.Get(0).(*models.Transaction)
	return txn, args.Error(1)
}

func (m *MockAccountRepository) ExecuteInTransaction(ctx context.Context, fn func(repositories.AccountRepository) error) error {
	m.Called()
	return fn(m)
}

func (m *MockAccountRepository) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	args := m.Called(id)
	acc, _ := args.Get(0).(*models.Account)
	return acc, args.Error(1)
}

func (m *MockAccountRepository) LockWorkspace(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *MockAccountRepository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return m.Called(txn.Type, txn.AccountID).Error(0)
}

func (m *MockAccountRepository) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	return m.Called(id, balance.StringFixed(2)).Error(0)
}

func (m *MockAccountRepository) ApplyWorkspaceDelta(ctx context.Context, id string, delta decimal.Decimal) error {
	return m.Called(id, delta.StringFixed(2)).Error(0)
}

func newMockedService(t *testing.T, repo repositories.AccountRepository) Service {
	t.Helper()
	return NewService(repo, audit.NewService(testutil.NewDB(t), nil, nil), WalletConfig{}, nil, nil)
}

func TestRowLockHeldIsContention(t *testing.T) {
	repo := new(MockAccountRepository)
	repo.On("FindTransaction", models.TransactionTypeDebit, "k-1", "acc-1").Return(nil, repositories.ErrTransactionNotFound)
	repo.On("ExecuteInTransaction").Return()
	repo.On("LockAccount", "acc-1").Return(nil, repositories.ErrLockNotAvailable)

	_, err := newMockedService(t, repo).Debit(context.Background(), debitReq("acc-1", "5", "k-1"))
	require.ErrorIs(t, err, apperrors.ErrLockContention)
	assert.True(t, apperrors.IsRetryable(err))
	repo.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "UpdateBalance", mock.Anything, mock.Anything)
}

func TestWorkspaceLockHeldIsContention(t *testing.T) {
	ws := "ws-1"
	repo := new(MockAccountRepository)
	repo.On("FindTransaction", models.TransactionTypeDebit, "k-1", "acc-1").Return(nil, repositories.ErrTransactionNotFound)
	repo.On("ExecuteInTransaction").Return()
	repo.On("LockAccount", "acc-1").Return(&models.Account{
		ID: "acc-1", Balance: testutil.Money("50"), Status: models.AccountStatusActive, WorkspaceID: &ws,
	}, nil)
	repo.On("LockWorkspace", ws).Return(repositories.ErrLockNotAvailable)

	_, err := newMockedService(t, repo).Debit(context.Background(), debitReq("acc-1", "5", "k-1"))
	require.ErrorIs(t, err, apperrors.ErrLockContention)
	repo.AssertNotCalled(t, "CreateTransaction", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "ApplyWorkspaceDelta", mock.Anything, mock.Anything)
}

func TestDuplicateKeyOnInsertIsReplay(t *testing.T) {
	prior := &models.Transaction{
		ID:             "tx-prior",
		AccountID:      "acc-1",
		Type:           models.TransactionTypeDebit,
		IdempotencyKey: "k-1",
		Amount:         testutil.Money("-5"),
		BalanceAfter:   testutil.Money("45"),
	}
	repo := new(MockAccountRepository)
	// both lookups miss, the concurrent winner commits before our insert
	repo.On("FindTransaction", models.TransactionTypeDebit, "k-1", "acc-1").Return(nil, repositories.ErrTransactionNotFound).Twice()
	repo.On("FindTransaction", models.TransactionTypeDebit, "k-1", "acc-1").Return(prior, nil).Once()
	repo.On("ExecuteInTransaction").Return()
	repo.On("LockAccount", "acc-1").Return(&models.Account{
		ID: "acc-1", Balance: testutil.Money("50"), Status: models.AccountStatusActive,
	}, nil)
	repo.On("CreateTransaction", models.TransactionTypeDebit, "acc-1").Return(repositories.ErrDuplicateKey)

	res, err := newMockedService(t, repo).Debit(context.Background(), debitReq("acc-1", "5", "k-1"))
	require.NoError(t, err)
	assert.True(t, res.IdempotentReplay)
	assert.Equal(t, "tx-prior", res.TransactionID)
	assert.True(t, testutil.Money("45").Equal(res.BalanceAfter))
	repo.AssertNotCalled(t, "UpdateBalance", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

// lockRecorder wraps a real repository and records row lock order.
type lockRecorder struct {
	repositories.AccountRepository
	mu    *sync.Mutex
	locks *[]string
}

func (r lockRecorder) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	r.mu.Lock()
	*r.locks = append(*r.locks, id)
	r.mu.Unlock()
	return r.AccountRepository.LockAccount(ctx, id)
}

func (r lockRecorder) LockWorkspace(ctx context.Context, id string) error {
	r.mu.Lock()
	*r.locks = append(*r.locks, "ws:"+id)
	r.mu.Unlock()
	return r.AccountRepository.LockWorkspace(ctx, id)
}

func (r lockRecorder) ExecuteInTransaction(ctx context.Context, fn func(repositories.AccountRepository) error) error {
	return r.AccountRepository.ExecuteInTransaction(ctx, func(tx repositories.AccountRepository) error {
		return fn(lockRecorder{AccountRepository: tx, mu: r.mu, locks: r.locks})
	})
}

func TestTransferLocksInStableOrder(t *testing.T) {
	db := testutil.NewDB(t)
	wsA := testutil.SeedWorkspace(t, db)
	wsB := testutil.SeedWorkspace(t, db)
	a := testutil.SeedAccount(t, db, "100.00", testutil.InWorkspace(wsA.ID))
	b := testutil.SeedAccount(t, db, "100.00", testutil.InWorkspace(wsB.ID))

	var (
		mu    sync.Mutex
		locks []string
	)
	svc := newMockedService(t, lockRecorder{
		AccountRepository: repositories.NewAccountRepository(db),
		mu:                &mu,
		locks:             &locks,
	})

	accounts := []string{a.ID, b.ID}
	sort.Strings(accounts)
	workspaces := []string{"ws:" + wsA.ID, "ws:" + wsB.ID}
	sort.Strings(workspaces)
	want := append(append([]string(nil), accounts...), workspaces...)

	for _, dir := range []struct{ from, to, key string }{
		{a.ID, b.ID, "a-to-b"},
		{b.ID, a.ID, "b-to-a"},
	} {
		locks = nil
		_, err := svc.Transfer(context.Background(), TransferRequest{
			FromAccountID:  dir.from,
			ToAccountID:    dir.to,
			Amount:         testutil.Money("10"),
			IdempotencyKey: dir.key,
			Actor:          testActor,
		})
		require.NoError(t, err)
		assert.Equal(t, want, locks, dir.key)
	}
}
