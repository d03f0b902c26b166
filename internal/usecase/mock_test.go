//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"marketplace-payments/internal/domain"
	"marketplace-payments/internal/domain/model"
	"marketplace-payments/internal/domain/ports/adapter"
	"marketplace-payments/internal/domain/ports/repository"
)

// =============================
// Repositories
// =============================

// MockTransactionRepo is an in-memory ledger. The conditional-update
// methods enforce the same status guards as the SQL implementation so
// race and idempotency tests mean something.
type MockTransactionRepo struct {
	mu    sync.Mutex
	store map[string]*model.Transaction

	SaveFunc         func(ctx context.Context, tx repository.Tx, t *model.Transaction) error
	MarkTerminalFunc func(ctx context.Context, tx repository.Tx, id string, status model.TransactionStatus, resultCode *int, resultDesc, receipt string) (bool, error)
	ClaimRetryFunc   func(ctx context.Context, tx repository.Tx, id, newCheckoutID string) (bool, error)
}

func NewMockTransactionRepo() *MockTransactionRepo {
	return &MockTransactionRepo{store: make(map[string]*model.Transaction)}
}

var _ repository.TransactionRepository = (*MockTransactionRepo)(nil)

func (m *MockTransactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, tx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.store[t.ID] = &cp
	return nil
}

func (m *MockTransactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockTransactionRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutID string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *model.Transaction
	for _, t := range m.store {
		if t.CheckoutRequestID != checkoutID {
			continue
		}
		if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
			newest = t
		}
	}
	if newest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *MockTransactionRepo) SetCheckoutID(ctx context.Context, tx repository.Tx, id, checkoutID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.CheckoutRequestID = checkoutID
	return nil
}

func (m *MockTransactionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transaction
	for _, t := range m.store {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockTransactionRepo) MarkTerminal(ctx context.Context, tx repository.Tx, id string, status model.TransactionStatus, resultCode *int, resultDesc, receipt string) (bool, error) {
	if m.MarkTerminalFunc != nil {
		return m.MarkTerminalFunc(ctx, tx, id, status, resultCode, resultDesc, receipt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok || t.Status.Terminal() {
		return false, nil
	}
	t.Status = status
	if resultCode != nil {
		t.ResultCode = resultCode
	}
	if resultDesc != "" {
		t.ResultDesc = resultDesc
	}
	if receipt != "" {
		t.MpesaReceipt = receipt
	}
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockTransactionRepo) MarkRetrying(ctx context.Context, tx repository.Tx, id string, resultCode *int, resultDesc string, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok || t.Status != model.TransactionStatusPending || t.RetryCount >= limit {
		return false, nil
	}
	t.Status = model.TransactionStatusRetrying
	t.RetryCount++
	now := time.Now()
	t.LastRetryAt = &now
	if resultCode != nil {
		t.ResultCode = resultCode
	}
	if resultDesc != "" {
		t.ResultDesc = resultDesc
	}
	return true, nil
}

func (m *MockTransactionRepo) ClaimRetry(ctx context.Context, tx repository.Tx, id, newCheckoutID string) (bool, error) {
	if m.ClaimRetryFunc != nil {
		return m.ClaimRetryFunc(ctx, tx, id, newCheckoutID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok || t.Status != model.TransactionStatusRetrying {
		return false, nil
	}
	t.Status = model.TransactionStatusPending
	t.CheckoutRequestID = newCheckoutID
	return true, nil
}

func (m *MockTransactionRepo) FailRetrying(ctx context.Context, tx repository.Tx, id, resultDesc string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok || t.Status != model.TransactionStatusRetrying {
		return false, nil
	}
	t.Status = model.TransactionStatusFailed
	if resultDesc != "" {
		t.ResultDesc = resultDesc
	}
	return true, nil
}

func (m *MockTransactionRepo) FailExhausted(ctx context.Context, tx repository.Tx, id string, resultCode *int, resultDesc string, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok || t.Status != model.TransactionStatusPending || t.RetryCount < limit {
		return false, nil
	}
	t.Status = model.TransactionStatusFailed
	if resultCode != nil {
		t.ResultCode = resultCode
	}
	if resultDesc != "" {
		t.ResultDesc = resultDesc
	}
	return true, nil
}

func (m *MockTransactionRepo) ListUnprocessedSuccess(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transaction
	for _, t := range m.store {
		if t.Status != model.TransactionStatusSuccess || t.Processed || t.Amount <= 0 || t.Tier == model.TierTrial {
			continue
		}
		if t.CreatedAt.Before(since) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockTransactionRepo) MarkProcessed(ctx context.Context, tx repository.Tx, id, prorationStatus string, prorationAmount int64, remainingDays int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Processed = true
	t.ProrationStatus = prorationStatus
	t.ProrationAmount = prorationAmount
	t.RemainingDays = remainingDays
	return nil
}

func (m *MockTransactionRepo) ClearQueuedProfile(ctx context.Context, tx repository.Tx, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.store[id]; ok {
		t.QueuedProfile = nil
	}
	return nil
}

func (m *MockTransactionRepo) HasPaidSuccess(ctx context.Context, tx repository.Tx, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.store {
		if t.UserID == userID && t.Status == model.TransactionStatusSuccess && t.Amount > 0 && t.Tier != model.TierTrial {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockTransactionRepo) SumByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, t := range m.store {
		if t.Status == model.TransactionStatusSuccess {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (m *MockTransactionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.TransactionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.TransactionStatus]int)
	for _, t := range m.store {
		out[t.Status]++
	}
	return out, nil
}

// Get returns the stored transaction for assertions.
func (m *MockTransactionRepo) Get(id string) *model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.store[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// ---- Mock EntitlementRepo ----

type MockEntitlementRepo struct {
	mu    sync.Mutex
	store map[string]*model.Entitlement // keyed by userID

	UpsertFunc func(ctx context.Context, tx repository.Tx, e *model.Entitlement) error
}

func NewMockEntitlementRepo() *MockEntitlementRepo {
	return &MockEntitlementRepo{store: make(map[string]*model.Entitlement)}
}

var _ repository.EntitlementRepository = (*MockEntitlementRepo)(nil)

func (m *MockEntitlementRepo) Upsert(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, tx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.store[e.UserID] = &cp
	return nil
}

func (m *MockEntitlementRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MockEntitlementRepo) DeactivateExpired(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Entitlement
	for _, e := range m.store {
		if e.Active && e.ExpiryDate != nil && !e.ExpiryDate.After(cutoff) {
			e.Active = false
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockEntitlementRepo) Deactivate(ctx context.Context, tx repository.Tx, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.store[userID]; ok {
		e.Active = false
	}
	return nil
}

func (m *MockEntitlementRepo) ApplyUpgrade(ctx context.Context, tx repository.Tx, userID string, tier model.Tier, amount int64, durationDays int, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[userID]
	if !ok {
		return domain.ErrNotFound
	}
	e.Tier = tier
	e.TierAmount = amount
	e.DurationDays = durationDays
	exp := expiry
	e.ExpiryDate = &exp
	e.Active = true
	e.IsTrial = false
	return nil
}

func (m *MockEntitlementRepo) CountActiveByTier(ctx context.Context, tx repository.Tx) (map[model.Tier]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.Tier]int)
	for _, e := range m.store {
		if e.Active {
			out[e.Tier]++
		}
	}
	return out, nil
}

func (m *MockEntitlementRepo) CountActiveTrials(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.store {
		if e.Active && e.IsTrial {
			n++
		}
	}
	return n, nil
}

// Get returns the stored entitlement for assertions.
func (m *MockEntitlementRepo) Get(userID string) *model.Entitlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.store[userID]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// ---- Mock UserRepo ----

type MockUserRepo struct {
	mu    sync.Mutex
	store map[string]*model.User
}

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{store: make(map[string]*model.User)}
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func (m *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockUserRepo) AdjustBalance(ctx context.Context, tx repository.Tx, id string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Balance += delta
	return nil
}

func (m *MockUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store), nil
}

// Balance returns the stored balance for assertions.
func (m *MockUserRepo) GetBalance(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.store[id]; ok {
		return u.Balance
	}
	return 0
}

// ---- Mock TxManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx provides a way to control transaction behavior during tests.
// By default, it runs the function immediately without a real transaction.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockGateway struct {
	mu     sync.Mutex
	seq    int
	Pushes []string // checkout ids handed out, in order

	PushFunc func(ctx context.Context, phone string, amount int64, accountRef, description string) (string, error)
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) Push(ctx context.Context, phone string, amount int64, accountRef, description string) (string, error) {
	if g.PushFunc != nil {
		return g.PushFunc(ctx, phone, amount, accountRef, description)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("ws_CO_%d", g.seq)
	g.Pushes = append(g.Pushes, id)
	return id, nil
}

// ---- Mock Notifier ----

type MockNotifier struct {
	mu         sync.Mutex
	Trials     []string // user ids getting trial-expired notices
	Shortfalls []adapter.UpgradePrompt

	UpgradeShortfallFunc func(ctx context.Context, u *model.User, p adapter.UpgradePrompt) error
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) TrialExpired(ctx context.Context, u *model.User, e *model.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trials = append(m.Trials, u.ID)
	return nil
}

func (m *MockNotifier) UpgradeShortfall(ctx context.Context, u *model.User, p adapter.UpgradePrompt) error {
	if m.UpgradeShortfallFunc != nil {
		return m.UpgradeShortfallFunc(ctx, u, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Shortfalls = append(m.Shortfalls, p)
	return nil
}

// ---- Mock RetryScheduler ----

type MockRetryScheduler struct {
	mu        sync.Mutex
	Scheduled []string
}

func (m *MockRetryScheduler) Schedule(transactionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Scheduled = append(m.Scheduled, transactionID)
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
// It writes to io.Discard to prevent logs from cluttering test output.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
