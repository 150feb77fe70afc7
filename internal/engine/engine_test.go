package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"testing"

	"botmarket-backend/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	ownerAddr    = "0x00000000000000000000000000000000000000a1"
	treasuryAddr = "0x00000000000000000000000000000000000000b2"
	buyerAddr    = "0x00000000000000000000000000000000000000c3"
	sellerAddr   = "0x00000000000000000000000000000000000000d4"
	tokenAddr    = "0x00000000000000000000000000000000000000e5"
	otherAddr    = "0x00000000000000000000000000000000000000f6"
)

// ============================================================================
// In-memory fakes
// ============================================================================

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[uint64]*models.Order
	nextID uint64
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[uint64]*models.Order), nextID: 1}
}

func (s *fakeOrderStore) Create(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.ID = s.nextID
	s.nextID++
	stored := *order
	s.orders[order.ID] = &stored
	return nil
}

func (s *fakeOrderStore) GetByID(ctx context.Context, id uint64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *fakeOrderStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.orders)), nil
}

func (s *fakeOrderStore) TransitionFromCreated(ctx context.Context, id uint64, to models.OrderStatus, updates map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok || order.Status != models.OrderStatusCreated {
		return false, nil
	}
	order.Status = to
	if v, ok := updates["fee_bps"]; ok {
		order.FeeBps = v.(int64)
	}
	if v, ok := updates["fee_amount"]; ok {
		order.FeeAmount = v.(string)
	}
	if v, ok := updates["seller_amount"]; ok {
		order.SellerAmount = v.(string)
	}
	return true, nil
}

func (s *fakeOrderStore) UpdatePayoutStatus(ctx context.Context, id uint64, status models.PayoutStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	order.PayoutStatus = status
	return nil
}

type fakeTokenStore struct {
	mu     sync.Mutex
	tokens map[string]bool
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]bool)}
}

func (s *fakeTokenStore) SetSupported(ctx context.Context, address string, supported bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[address] = supported
	return nil
}

func (s *fakeTokenStore) IsSupported(ctx context.Context, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[address], nil
}

func (s *fakeTokenStore) List(ctx context.Context) ([]*models.SupportedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*models.SupportedToken, 0, len(s.tokens))
	for address, supported := range s.tokens {
		list = append(list, &models.SupportedToken{Address: address, Supported: supported})
	}
	return list, nil
}

type fakeConfigStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{values: make(map[string]string)}
}

func (s *fakeConfigStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", gorm.ErrRecordNotFound
	}
	return value, nil
}

func (s *fakeConfigStore) Set(ctx context.Context, key, value, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// fakeLedger tracks balances per account and token and counts transfer calls.
// failNext rejects the next transfer; onTransferSplit lets a test re-enter
// the engine from inside a payout.
type fakeLedger struct {
	mu              sync.Mutex
	balances        map[string]*big.Int
	transferCalls   int
	splitCalls      int
	failNext        bool
	onTransferSplit func()
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]*big.Int)}
}

func (l *fakeLedger) key(account, token string) string { return account + "|" + token }

func (l *fakeLedger) seed(account, token string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[l.key(account, token)] = big.NewInt(amount)
}

func (l *fakeLedger) balance(account, token string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[l.key(account, token)]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func (l *fakeLedger) move(token, from, to string, amount *big.Int) error {
	fromBal, ok := l.balances[l.key(from, token)]
	if !ok || fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance for %s", from)
	}
	fromBal.Sub(fromBal, amount)
	toBal, ok := l.balances[l.key(to, token)]
	if !ok {
		toBal = big.NewInt(0)
		l.balances[l.key(to, token)] = toBal
	}
	toBal.Add(toBal, amount)
	return nil
}

func (l *fakeLedger) Transfer(ctx context.Context, token, from, to string, amount *big.Int) error {
	l.mu.Lock()
	l.transferCalls++
	if l.failNext {
		l.failNext = false
		l.mu.Unlock()
		return errors.New("transfer rejected")
	}
	err := l.move(token, from, to, amount)
	l.mu.Unlock()
	return err
}

func (l *fakeLedger) TransferSplit(ctx context.Context, token, from string, legs []TransferLeg) error {
	l.mu.Lock()
	l.splitCalls++
	if l.failNext {
		l.failNext = false
		l.mu.Unlock()
		return errors.New("transfer rejected")
	}
	total := big.NewInt(0)
	for _, leg := range legs {
		total.Add(total, leg.Amount)
	}
	fromBal, ok := l.balances[l.key(from, token)]
	if !ok || fromBal.Cmp(total) < 0 {
		l.mu.Unlock()
		return fmt.Errorf("insufficient balance for %s", from)
	}
	for _, leg := range legs {
		_ = l.move(token, from, leg.To, leg.Amount)
	}
	callback := l.onTransferSplit
	l.mu.Unlock()
	if callback != nil {
		callback()
	}
	return nil
}

type fakeEventSink struct {
	mu        sync.Mutex
	created   int
	completed int
	cancelled int
	refunded  int
}

func (s *fakeEventSink) OrderCreated(order *models.Order) { s.mu.Lock(); s.created++; s.mu.Unlock() }
func (s *fakeEventSink) OrderCompleted(orderID uint64, feeAmount, sellerAmount *big.Int) {
	s.mu.Lock()
	s.completed++
	s.mu.Unlock()
}
func (s *fakeEventSink) OrderCancelled(orderID uint64) { s.mu.Lock(); s.cancelled++; s.mu.Unlock() }
func (s *fakeEventSink) OrderRefunded(orderID uint64)  { s.mu.Lock(); s.refunded++; s.mu.Unlock() }
func (s *fakeEventSink) TokenAdded(token string)       {}
func (s *fakeEventSink) TokenRemoved(token string)     {}
func (s *fakeEventSink) FeeUpdated(bps int64)          {}
func (s *fakeEventSink) OwnershipTransferred(previousOwner, newOwner string) {}

type testEnv struct {
	engine *Engine
	orders *fakeOrderStore
	tokens *fakeTokenStore
	config *fakeConfigStore
	ledger *fakeLedger
	events *fakeEventSink
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{
		orders: newFakeOrderStore(),
		tokens: newFakeTokenStore(),
		config: newFakeConfigStore(),
		ledger: newFakeLedger(),
		events: &fakeEventSink{},
	}
	eng, err := New(context.Background(), env.orders, env.tokens, env.config, env.ledger, env.events,
		logger, ownerAddr, treasuryAddr, 0)
	require.NoError(t, err)
	env.engine = eng
	return env
}

// openOrder registers the token, funds the buyer and creates one order
func (env *testEnv) openOrder(t *testing.T, amount int64) *models.Order {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.engine.AddToken(ctx, ownerAddr, tokenAddr))
	env.ledger.seed(buyerAddr, tokenAddr, amount)
	order, err := env.engine.CreateOrder(ctx, buyerAddr, sellerAddr, 42, big.NewInt(amount), tokenAddr)
	require.NoError(t, err)
	return order
}

// ============================================================================
// Token registry
// ============================================================================

func TestAddRemoveTokenIdempotent(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, env.engine.AddToken(ctx, ownerAddr, tokenAddr))
	require.NoError(t, env.engine.AddToken(ctx, ownerAddr, tokenAddr))

	supported, err := env.engine.IsSupported(ctx, tokenAddr)
	require.NoError(t, err)
	assert.True(t, supported)

	require.NoError(t, env.engine.RemoveToken(ctx, ownerAddr, tokenAddr))
	require.NoError(t, env.engine.RemoveToken(ctx, ownerAddr, tokenAddr))

	supported, err = env.engine.IsSupported(ctx, tokenAddr)
	require.NoError(t, err)
	assert.False(t, supported)
}

func TestTokenRegistryOwnerOnly(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	err := env.engine.AddToken(ctx, buyerAddr, tokenAddr)
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = env.engine.RemoveToken(ctx, buyerAddr, tokenAddr)
	assert.ErrorIs(t, err, ErrUnauthorized)

	supported, err := env.engine.IsSupported(ctx, tokenAddr)
	require.NoError(t, err)
	assert.False(t, supported)
}

func TestRemoveTokenLeavesOpenOrdersSettleable(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	order := env.openOrder(t, 1_000_000)

	require.NoError(t, env.engine.RemoveToken(ctx, ownerAddr, tokenAddr))

	// The open order still settles even though the token no longer accepts
	// new orders.
	require.NoError(t, env.engine.CompleteOrder(ctx, buyerAddr, order.ID))

	_, err := env.engine.CreateOrder(ctx, buyerAddr, sellerAddr, 43, big.NewInt(100), tokenAddr)
	assert.ErrorIs(t, err, ErrUnsupportedToken)
}

// ============================================================================
// Fee policy
// ============================================================================

func TestSetPlatformFeeCeiling(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, env.engine.SetPlatformFee(ctx, ownerAddr, 500))
	assert.Equal(t, int64(500), env.engine.CurrentFee())

	// Highest accepted value is one below the ceiling
	require.NoError(t, env.engine.SetPlatformFee(ctx, ownerAddr, 1999))
	assert.Equal(t, int64(1999), env.engine.CurrentFee())

	err := env.engine.SetPlatformFee(ctx, ownerAddr, 2000)
	assert.ErrorIs(t, err, ErrFeeTooHigh)
	assert.Equal(t, int64(1999), env.engine.CurrentFee())

	err = env.engine.SetPlatformFee(ctx, ownerAddr, -1)
	assert.ErrorIs(t, err, ErrFeeTooHigh)

	err = env.engine.SetPlatformFee(ctx, buyerAddr, 100)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int64(1999), env.engine.CurrentFee())
}

func TestFeePersistsAcrossRestart(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, env.engine.SetPlatformFee(ctx, ownerAddr, 750))
	require.NoError(t, env.engine.TransferOwnership(ctx, ownerAddr, otherAddr))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	// A second engine over the same config store picks up persisted values
	// rather than the configured defaults.
	restarted, err := New(ctx, env.orders, env.tokens, env.config, env.ledger, env.events,
		logger, ownerAddr, treasuryAddr, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(750), restarted.CurrentFee())
	assert.Equal(t, otherAddr, restarted.Owner())
}

// ============================================================================
// Order creation
// ============================================================================

func TestCreateOrderSequentialIDs(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, env.engine.AddToken(ctx, ownerAddr, tokenAddr))
	env.ledger.seed(buyerAddr, tokenAddr, 300)

	for i := uint64(1); i <= 3; i++ {
		order, err := env.engine.CreateOrder(ctx, buyerAddr, sellerAddr, i, big.NewInt(100), tokenAddr)
		require.NoError(t, err)
		assert.Equal(t, i, order.ID)
	}

	count, err := env.engine.OrderCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestCreateOrderEscrowsFunds(t *testing.T) {
	env := newTestEngine(t)
	order := env.openOrder(t, 1_000_000)

	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.Equal(t, models.PayoutStatusNone, order.PayoutStatus)
	assert.Equal(t, "1000000", order.Amount)
	assert.Equal(t, int64(0), env.ledger.balance(buyerAddr, tokenAddr).Int64())
	assert.Equal(t, int64(1_000_000), env.ledger.balance(EscrowAccount, tokenAddr).Int64())
	assert.Equal(t, 1, env.events.created)
}

func TestCreateOrderRejectsInvalidInput(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, env.engine.AddToken(ctx, ownerAddr, tokenAddr))
	env.ledger.seed(buyerAddr, tokenAddr, 100)

	_, err := env.engine.CreateOrder(ctx, buyerAddr, sellerAddr, 1, big.NewInt(0), tokenAddr)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.engine.CreateOrder(ctx, buyerAddr, sellerAddr, 1, big.NewInt(-5), tokenAddr)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.engine.CreateOrder(ctx, buyerAddr, sellerAddr, 1, big.NewInt(100), otherAddr)
	assert.ErrorIs(t, err, ErrUnsupportedToken)

	_, err = env.engine.CreateOrder(ctx, "not-an-address", sellerAddr, 1, big.NewInt(100), tokenAddr)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	// No order escaped the validations
	count, err := env.engine.OrderCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, int64(100), env.ledger.balance(buyerAddr, tokenAddr).Int64())
}

func TestCreateOrderInsufficientFunds(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, env.engine.AddToken(ctx, ownerAddr, tokenAddr))
	env.ledger.seed(buyerAddr, tokenAddr, 50)

	_, err := env.engine.CreateOrder(ctx, buyerAddr, sellerAddr, 1, big.NewInt(100), tokenAddr)
	assert.ErrorIs(t, err, ErrTransferFailed)

	count, err := env.engine.OrderCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

// ============================================================================
// Settlement
// ============================================================================

func TestCompleteOrderConservesFunds(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, env.engine.SetPlatformFee(ctx, ownerAddr, 500))
	order := env.openOrder(t, 10_000_000)

	require.NoError(t, env.engine.CompleteOrder(ctx, buyerAddr, order.ID))

	assert.Equal(t, int64(500_000), env.ledger.balance(treasuryAddr, tokenAddr).Int64())
	assert.Equal(t, int64(9_500_000), env.ledger.balance(sellerAddr, tokenAddr).Int64())
	assert.Equal(t, int64(0), env.ledger.balance(EscrowAccount, tokenAddr).Int64())

	settled, err := env.engine.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, settled.Status)
	assert.Equal(t, models.PayoutStatusReleased, settled.PayoutStatus)
	assert.Equal(t, int64(500), settled.FeeBps)
	assert.Equal(t, "500000", settled.FeeAmount)
	assert.Equal(t, "9500000", settled.SellerAmount)
	assert.Equal(t, 1, env.events.completed)
}

func TestCompleteOrderZeroFeeSkipsTreasuryLeg(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	order := env.openOrder(t, 1000)

	require.NoError(t, env.engine.CompleteOrder(ctx, buyerAddr, order.ID))

	assert.Equal(t, int64(0), env.ledger.balance(treasuryAddr, tokenAddr).Int64())
	assert.Equal(t, int64(1000), env.ledger.balance(sellerAddr, tokenAddr).Int64())
}

func TestCompleteOrderSnapshotsFeeAtSettlement(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, env.engine.SetPlatformFee(ctx, ownerAddr, 100))
	order := env.openOrder(t, 10_000)

	// Fee change before settlement applies to the settlement
	require.NoError(t, env.engine.SetPlatformFee(ctx, ownerAddr, 1000))
	require.NoError(t, env.engine.CompleteOrder(ctx, buyerAddr, order.ID))

	settled, err := env.engine.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), settled.FeeBps)
	assert.Equal(t, "1000", settled.FeeAmount)
	assert.Equal(t, "9000", settled.SellerAmount)
}

func TestCompleteOrderAuthorization(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	order := env.openOrder(t, 1000)

	err := env.engine.CompleteOrder(ctx, sellerAddr, order.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Owner may settle as arbiter
	require.NoError(t, env.engine.CompleteOrder(ctx, ownerAddr, order.ID))
}

func TestCancelOrderReturnsEscrow(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	order := env.openOrder(t, 5000)

	err := env.engine.CancelOrder(ctx, sellerAddr, order.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, env.engine.CancelOrder(ctx, buyerAddr, order.ID))

	// Full amount back to the buyer, no fee on reversal
	assert.Equal(t, int64(5000), env.ledger.balance(buyerAddr, tokenAddr).Int64())
	assert.Equal(t, int64(0), env.ledger.balance(EscrowAccount, tokenAddr).Int64())
	assert.Equal(t, int64(0), env.ledger.balance(treasuryAddr, tokenAddr).Int64())

	cancelled, err := env.engine.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 1, env.events.cancelled)
}

func TestRefundOrderAuthorization(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	order := env.openOrder(t, 5000)

	err := env.engine.RefundOrder(ctx, buyerAddr, order.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, env.engine.RefundOrder(ctx, sellerAddr, order.ID))
	assert.Equal(t, int64(5000), env.ledger.balance(buyerAddr, tokenAddr).Int64())

	refunded, err := env.engine.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusRefunded, refunded.Status)
}

func TestTerminalStatesAreExclusive(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	order := env.openOrder(t, 1000)

	require.NoError(t, env.engine.CompleteOrder(ctx, buyerAddr, order.ID))

	sellerBefore := env.ledger.balance(sellerAddr, tokenAddr).String()
	buyerBefore := env.ledger.balance(buyerAddr, tokenAddr).String()

	assert.ErrorIs(t, env.engine.CompleteOrder(ctx, buyerAddr, order.ID), ErrInvalidState)
	assert.ErrorIs(t, env.engine.CancelOrder(ctx, buyerAddr, order.ID), ErrInvalidState)
	assert.ErrorIs(t, env.engine.RefundOrder(ctx, sellerAddr, order.ID), ErrInvalidState)

	// Rejected settlements moved nothing
	assert.Equal(t, sellerBefore, env.ledger.balance(sellerAddr, tokenAddr).String())
	assert.Equal(t, buyerBefore, env.ledger.balance(buyerAddr, tokenAddr).String())
	assert.Equal(t, 1, env.events.completed+env.events.cancelled+env.events.refunded)
}

func TestSettleUnknownOrder(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.engine.CompleteOrder(ctx, buyerAddr, 99), ErrOrderNotFound)
	assert.ErrorIs(t, env.engine.CancelOrder(ctx, buyerAddr, 99), ErrOrderNotFound)
	_, err := env.engine.GetOrder(ctx, 99)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// A transferor that re-enters the engine during the payout observes the
// already-committed terminal state and is turned away without moving funds
// a second time.
func TestReentrantSettlementRejected(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, env.engine.SetPlatformFee(ctx, ownerAddr, 500))
	order := env.openOrder(t, 10_000)

	var reentrantErr error
	env.ledger.onTransferSplit = func() {
		env.ledger.onTransferSplit = nil
		reentrantErr = env.engine.CompleteOrder(ctx, buyerAddr, order.ID)
	}

	require.NoError(t, env.engine.CompleteOrder(ctx, buyerAddr, order.ID))
	assert.ErrorIs(t, reentrantErr, ErrInvalidState)

	// Exactly one payout happened
	assert.Equal(t, 1, env.ledger.splitCalls)
	assert.Equal(t, int64(9500), env.ledger.balance(sellerAddr, tokenAddr).Int64())
	assert.Equal(t, int64(500), env.ledger.balance(treasuryAddr, tokenAddr).Int64())
}

// ============================================================================
// Stuck payouts
// ============================================================================

func TestPayoutFailureLeavesOrderTerminal(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, env.engine.SetPlatformFee(ctx, ownerAddr, 500))
	order := env.openOrder(t, 10_000)

	env.ledger.failNext = true
	err := env.engine.CompleteOrder(ctx, buyerAddr, order.ID)
	assert.ErrorIs(t, err, ErrTransferFailed)

	stuck, err := env.engine.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, stuck.Status)
	assert.Equal(t, models.PayoutStatusFailed, stuck.PayoutStatus)

	// Escrow untouched, nothing paid out
	assert.Equal(t, int64(10_000), env.ledger.balance(EscrowAccount, tokenAddr).Int64())
	assert.Equal(t, int64(0), env.ledger.balance(sellerAddr, tokenAddr).Int64())
}

func TestRetryPayoutReplaysRecordedSplit(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, env.engine.SetPlatformFee(ctx, ownerAddr, 500))
	order := env.openOrder(t, 10_000)

	env.ledger.failNext = true
	require.Error(t, env.engine.CompleteOrder(ctx, buyerAddr, order.ID))

	// Fee change after settlement must not alter the stuck split
	require.NoError(t, env.engine.SetPlatformFee(ctx, ownerAddr, 1500))

	err := env.engine.RetryPayout(ctx, buyerAddr, order.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, env.engine.RetryPayout(ctx, ownerAddr, order.ID))

	assert.Equal(t, int64(500), env.ledger.balance(treasuryAddr, tokenAddr).Int64())
	assert.Equal(t, int64(9500), env.ledger.balance(sellerAddr, tokenAddr).Int64())

	released, err := env.engine.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusReleased, released.PayoutStatus)

	// A released payout cannot be retried again
	err = env.engine.RetryPayout(ctx, ownerAddr, order.ID)
	assert.ErrorIs(t, err, ErrPayoutNotRetryable)
}

func TestRetryPayoutAfterFailedReversal(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()
	order := env.openOrder(t, 5000)

	env.ledger.failNext = true
	require.Error(t, env.engine.CancelOrder(ctx, buyerAddr, order.ID))

	stuck, err := env.engine.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stuck.Status)
	assert.Equal(t, models.PayoutStatusFailed, stuck.PayoutStatus)

	require.NoError(t, env.engine.RetryPayout(ctx, ownerAddr, order.ID))
	assert.Equal(t, int64(5000), env.ledger.balance(buyerAddr, tokenAddr).Int64())
}

func TestRetryPayoutRejectsOpenOrder(t *testing.T) {
	env := newTestEngine(t)
	order := env.openOrder(t, 1000)

	err := env.engine.RetryPayout(context.Background(), ownerAddr, order.ID)
	assert.ErrorIs(t, err, ErrPayoutNotRetryable)
}

// ============================================================================
// Ownership
// ============================================================================

func TestTransferOwnership(t *testing.T) {
	env := newTestEngine(t)
	ctx := context.Background()

	err := env.engine.TransferOwnership(ctx, buyerAddr, otherAddr)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, env.engine.TransferOwnership(ctx, ownerAddr, otherAddr))
	assert.Equal(t, otherAddr, env.engine.Owner())

	// Old owner lost its privileges, new owner gained them
	assert.ErrorIs(t, env.engine.SetPlatformFee(ctx, ownerAddr, 100), ErrUnauthorized)
	require.NoError(t, env.engine.SetPlatformFee(ctx, otherAddr, 100))
}
