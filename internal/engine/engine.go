// Package engine implements the marketplace settlement engine: token
// registry, fee policy and the escrow order state machine.
//
// Every mutating operation takes the caller address explicitly and runs its
// checks before any state write, and commits all state writes before any
// fund transfer is issued. A transfer implementation that calls back into
// the engine observes the already-committed state and is rejected by the
// state-machine guard, so no lock is needed around the external calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"botmarket-backend/internal/metrics"
	"botmarket-backend/internal/models"
	"botmarket-backend/internal/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EscrowAccount internal custody account holding funds of open orders
const EscrowAccount = "escrow"

// TransferLeg one destination of a settlement split
type TransferLeg struct {
	To     string
	Amount *big.Int
}

// FundTransferor moves funds between custody accounts. The engine treats it
// as untrusted: results are checked and the implementation may re-enter the
// engine from within a transfer.
type FundTransferor interface {
	// Transfer moves amount of token from one account to another
	Transfer(ctx context.Context, token, from, to string, amount *big.Int) error
	// TransferSplit moves funds from one account to several destinations
	// atomically: either every leg lands or none does
	TransferSplit(ctx context.Context, token, from string, legs []TransferLeg) error
}

// OrderStore persistence surface the order ledger needs
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uint64) (*models.Order, error)
	Count(ctx context.Context) (int64, error)
	// TransitionFromCreated atomically moves an order out of the created
	// state, applying the extra column updates in the same statement. It
	// returns false when the order was no longer in the created state, which
	// is how repeated and reentrant settlement attempts are rejected.
	TransitionFromCreated(ctx context.Context, id uint64, to models.OrderStatus, updates map[string]interface{}) (bool, error)
	UpdatePayoutStatus(ctx context.Context, id uint64, status models.PayoutStatus) error
}

// TokenStore persistence surface of the token registry
type TokenStore interface {
	SetSupported(ctx context.Context, address string, supported bool) error
	IsSupported(ctx context.Context, address string) (bool, error)
	List(ctx context.Context) ([]*models.SupportedToken, error)
}

// ConfigStore persistence surface for platform configuration rows
type ConfigStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value, updatedBy string) error
}

// EventSink receives settlement notifications. Implementations must not
// block and must not fail the triggering operation.
type EventSink interface {
	OrderCreated(order *models.Order)
	OrderCompleted(orderID uint64, feeAmount, sellerAmount *big.Int)
	OrderCancelled(orderID uint64)
	OrderRefunded(orderID uint64)
	TokenAdded(token string)
	TokenRemoved(token string)
	FeeUpdated(bps int64)
	OwnershipTransferred(previousOwner, newOwner string)
}

// Engine the settlement engine. One instance per process; all state lives
// in the backing stores, the struct only caches the owner and fee.
type Engine struct {
	orders     OrderStore
	tokens     TokenStore
	platform   ConfigStore
	transferor FundTransferor
	events     EventSink
	logger     *logrus.Logger

	treasury string

	mu     sync.RWMutex // guards owner and feeBps cache
	owner  string
	feeBps int64
}

// New constructs the engine. The configured owner becomes the initial
// Principal and the fee starts at defaultFeeBps (0 in the default config)
// unless previously persisted values exist, which always win.
func New(ctx context.Context, orders OrderStore, tokens TokenStore, platform ConfigStore,
	transferor FundTransferor, events EventSink, logger *logrus.Logger,
	ownerAddress, treasuryAddress string, defaultFeeBps int64) (*Engine, error) {

	owner, err := utils.NormalizeAddress(ownerAddress)
	if err != nil {
		return nil, fmt.Errorf("owner address: %w", err)
	}
	treasury, err := utils.NormalizeAddress(treasuryAddress)
	if err != nil {
		return nil, fmt.Errorf("treasury address: %w", err)
	}
	if defaultFeeBps < 0 || defaultFeeBps >= FeeCeiling {
		return nil, fmt.Errorf("default fee %d bps: %w", defaultFeeBps, ErrFeeTooHigh)
	}

	e := &Engine{
		orders:     orders,
		tokens:     tokens,
		platform:   platform,
		transferor: transferor,
		events:     events,
		logger:     logger,
		treasury:   treasury,
		owner:      owner,
		feeBps:     defaultFeeBps,
	}

	if err := e.restore(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// restore loads persisted owner/fee, seeding the rows on first start
func (e *Engine) restore(ctx context.Context) error {
	if value, err := e.platform.Get(ctx, models.ConfigKeyOwnerAddress); err == nil {
		e.owner = value
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := e.platform.Set(ctx, models.ConfigKeyOwnerAddress, e.owner, "system"); err != nil {
			return fmt.Errorf("seed owner config: %w", err)
		}
	} else {
		return fmt.Errorf("load owner config: %w", err)
	}

	if value, err := e.platform.Get(ctx, models.ConfigKeyPlatformFeeBps); err == nil {
		bps, parseErr := strconv.ParseInt(value, 10, 64)
		if parseErr != nil {
			return fmt.Errorf("corrupt fee config %q: %w", value, parseErr)
		}
		e.feeBps = bps
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := e.platform.Set(ctx, models.ConfigKeyPlatformFeeBps, strconv.FormatInt(e.feeBps, 10), "system"); err != nil {
			return fmt.Errorf("seed fee config: %w", err)
		}
	} else {
		return fmt.Errorf("load fee config: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"owner":   e.owner,
		"fee_bps": e.feeBps,
	}).Info("Settlement engine initialized")
	return nil
}

// ============================================================================
// Access control
// ============================================================================

// Owner returns the current administrative principal
func (e *Engine) Owner() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.owner
}

// Treasury returns the platform fee destination account
func (e *Engine) Treasury() string {
	return e.treasury
}

func (e *Engine) requireOwner(caller string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !utils.SameAddress(caller, e.owner) {
		return ErrUnauthorized
	}
	return nil
}

// TransferOwnership hands the Principal role to a new address
func (e *Engine) TransferOwnership(ctx context.Context, caller, newOwner string) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	normalized, err := utils.NormalizeAddress(newOwner)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, newOwner)
	}

	if err := e.platform.Set(ctx, models.ConfigKeyOwnerAddress, normalized, caller); err != nil {
		return fmt.Errorf("persist owner: %w", err)
	}

	e.mu.Lock()
	previous := e.owner
	e.owner = normalized
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"previous_owner": previous,
		"new_owner":      normalized,
	}).Warn("Ownership transferred")
	e.events.OwnershipTransferred(previous, normalized)
	return nil
}

// ============================================================================
// Token registry
// ============================================================================

// AddToken registers a payment token. Owner-gated, idempotent: re-adding a
// supported token succeeds without effect.
func (e *Engine) AddToken(ctx context.Context, caller, token string) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	normalized, err := utils.NormalizeAddress(token)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, token)
	}

	if err := e.tokens.SetSupported(ctx, normalized, true); err != nil {
		return fmt.Errorf("register token: %w", err)
	}

	e.logger.WithField("token", normalized).Info("Token added to registry")
	e.events.TokenAdded(normalized)
	return nil
}

// RemoveToken unregisters a payment token. Owner-gated, idempotent: removing
// an absent token succeeds. Existing orders in that token are unaffected.
func (e *Engine) RemoveToken(ctx context.Context, caller, token string) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	normalized, err := utils.NormalizeAddress(token)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, token)
	}

	if err := e.tokens.SetSupported(ctx, normalized, false); err != nil {
		return fmt.Errorf("unregister token: %w", err)
	}

	e.logger.WithField("token", normalized).Info("Token removed from registry")
	e.events.TokenRemoved(normalized)
	return nil
}

// IsSupported reports whether a token is accepted for new orders
func (e *Engine) IsSupported(ctx context.Context, token string) (bool, error) {
	normalized, err := utils.NormalizeAddress(token)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidAddress, token)
	}
	return e.tokens.IsSupported(ctx, normalized)
}

// ListTokens returns every token the registry has ever known with its flag
func (e *Engine) ListTokens(ctx context.Context) ([]*models.SupportedToken, error) {
	return e.tokens.List(ctx)
}

// ============================================================================
// Fee policy
// ============================================================================

// CurrentFee returns the platform fee in basis points
func (e *Engine) CurrentFee() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.feeBps
}

// SetPlatformFee updates the platform fee. Owner-gated; values at or above
// the ceiling are rejected and leave the fee unchanged.
func (e *Engine) SetPlatformFee(ctx context.Context, caller string, bps int64) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if bps < 0 || bps >= FeeCeiling {
		return fmt.Errorf("%w: %d bps (ceiling %d)", ErrFeeTooHigh, bps, FeeCeiling)
	}

	if err := e.platform.Set(ctx, models.ConfigKeyPlatformFeeBps, strconv.FormatInt(bps, 10), caller); err != nil {
		return fmt.Errorf("persist fee: %w", err)
	}

	e.mu.Lock()
	e.feeBps = bps
	e.mu.Unlock()

	e.logger.WithField("fee_bps", bps).Info("Platform fee updated")
	e.events.FeeUpdated(bps)
	return nil
}

// ============================================================================
// Order ledger
// ============================================================================

// CreateOrder escrows the payment and opens an order. Funds move at creation
// time: the buyer's custody balance is debited into escrow before the order
// row exists, and a rejected deposit aborts the operation with no order.
func (e *Engine) CreateOrder(ctx context.Context, buyer, seller string, itemID uint64, amount *big.Int, token string) (*models.Order, error) {
	buyerAddr, err := utils.NormalizeAddress(buyer)
	if err != nil {
		return nil, fmt.Errorf("%w: buyer %s", ErrInvalidAddress, buyer)
	}
	sellerAddr, err := utils.NormalizeAddress(seller)
	if err != nil {
		return nil, fmt.Errorf("%w: seller %s", ErrInvalidAddress, seller)
	}
	tokenAddr, err := utils.NormalizeAddress(token)
	if err != nil {
		return nil, fmt.Errorf("%w: token %s", ErrInvalidAddress, token)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	supported, err := e.tokens.IsSupported(ctx, tokenAddr)
	if err != nil {
		return nil, fmt.Errorf("registry lookup: %w", err)
	}
	if !supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedToken, tokenAddr)
	}

	// Escrow deposit. The transfer result is checked, never assumed.
	if err := e.transferor.Transfer(ctx, tokenAddr, buyerAddr, EscrowAccount, amount); err != nil {
		return nil, fmt.Errorf("%w: escrow deposit: %v", ErrTransferFailed, err)
	}

	order := &models.Order{
		Buyer:        buyerAddr,
		Seller:       sellerAddr,
		ItemID:       itemID,
		Amount:       amount.String(),
		Token:        tokenAddr,
		Status:       models.OrderStatusCreated,
		PayoutStatus: models.PayoutStatusNone,
	}
	if err := e.orders.Create(ctx, order); err != nil {
		// Funds already moved; hand them back rather than strand them.
		if refundErr := e.transferor.Transfer(ctx, tokenAddr, EscrowAccount, buyerAddr, amount); refundErr != nil {
			e.logger.WithFields(logrus.Fields{
				"buyer":  buyerAddr,
				"token":  tokenAddr,
				"amount": amount.String(),
				"error":  refundErr.Error(),
			}).Error("Escrow deposit stranded after failed order insert")
		}
		return nil, fmt.Errorf("store order: %w", err)
	}

	metrics.OrdersCreated.Inc()
	e.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"buyer":    order.Buyer,
		"seller":   order.Seller,
		"item_id":  order.ItemID,
		"amount":   order.Amount,
		"token":    order.Token,
	}).Info("Order created")
	e.events.OrderCreated(order)
	return order, nil
}

// GetOrder returns an order by id
func (e *Engine) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	order, err := e.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
		}
		return nil, err
	}
	return order, nil
}

// OrderCount returns the number of orders ever created, which equals the
// highest assigned order id
func (e *Engine) OrderCount(ctx context.Context) (int64, error) {
	return e.orders.Count(ctx)
}

// CompleteOrder settles an order: the escrowed amount is split into platform
// fee and seller payout under the fee in force right now. The buyer confirms
// receipt, or the owner settles as arbiter.
//
// The terminal-state write commits before any transfer. A transfer failure
// after that point leaves the order completed with payout_status=failed; the
// payout is re-issued via RetryPayout, never reversed.
func (e *Engine) CompleteOrder(ctx context.Context, caller string, id uint64) error {
	order, err := e.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if !utils.SameAddress(caller, order.Buyer) && e.requireOwner(caller) != nil {
		return ErrUnauthorized
	}
	if order.Status != models.OrderStatusCreated {
		return fmt.Errorf("%w: order %d is %s", ErrInvalidState, id, order.Status)
	}

	amount, err := utils.ParseAmount(order.Amount)
	if err != nil {
		return fmt.Errorf("corrupt order amount: %w", err)
	}

	// Fee snapshot: the split is fixed here and persisted with the state
	// transition so no later fee change (or reentrant read) can alter it.
	feeBps := e.CurrentFee()
	feeAmount, sellerAmount := ComputeSplit(amount, feeBps)

	transitioned, err := e.orders.TransitionFromCreated(ctx, id, models.OrderStatusCompleted, map[string]interface{}{
		"fee_bps":       feeBps,
		"fee_amount":    feeAmount.String(),
		"seller_amount": sellerAmount.String(),
	})
	if err != nil {
		return fmt.Errorf("transition order: %w", err)
	}
	if !transitioned {
		return fmt.Errorf("%w: order %d already settled", ErrInvalidState, id)
	}

	metrics.OrdersSettled.WithLabelValues(string(models.OrderStatusCompleted)).Inc()

	if err := e.payoutCompletion(ctx, order.Token, order.Seller, feeAmount, sellerAmount); err != nil {
		e.markPayoutFailed(ctx, id, err)
		return fmt.Errorf("%w: completion payout: %v", ErrTransferFailed, err)
	}
	if err := e.orders.UpdatePayoutStatus(ctx, id, models.PayoutStatusReleased); err != nil {
		return fmt.Errorf("record payout: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"order_id":      id,
		"fee_bps":       feeBps,
		"fee_amount":    feeAmount.String(),
		"seller_amount": sellerAmount.String(),
	}).Info("Order completed")
	e.events.OrderCompleted(id, feeAmount, sellerAmount)
	return nil
}

// payoutCompletion releases the escrowed amount as fee + seller payout in
// one atomic split, so a retry never double-pays a single leg
func (e *Engine) payoutCompletion(ctx context.Context, token, seller string, feeAmount, sellerAmount *big.Int) error {
	legs := make([]TransferLeg, 0, 2)
	if feeAmount.Sign() > 0 {
		legs = append(legs, TransferLeg{To: e.treasury, Amount: feeAmount})
	}
	if sellerAmount.Sign() > 0 {
		legs = append(legs, TransferLeg{To: seller, Amount: sellerAmount})
	}
	if len(legs) == 0 {
		return nil
	}
	return e.transferor.TransferSplit(ctx, token, EscrowAccount, legs)
}

// CancelOrder is the buyer-initiated reversal before completion: the order
// goes terminal and the full escrowed amount returns to the buyer, no fee.
func (e *Engine) CancelOrder(ctx context.Context, caller string, id uint64) error {
	return e.reverseOrder(ctx, caller, id, models.OrderStatusCancelled)
}

// RefundOrder is the seller- or owner-initiated reversal before completion;
// same effect as cancellation, recorded distinctly for audit.
func (e *Engine) RefundOrder(ctx context.Context, caller string, id uint64) error {
	return e.reverseOrder(ctx, caller, id, models.OrderStatusRefunded)
}

func (e *Engine) reverseOrder(ctx context.Context, caller string, id uint64, to models.OrderStatus) error {
	order, err := e.GetOrder(ctx, id)
	if err != nil {
		return err
	}

	switch to {
	case models.OrderStatusCancelled:
		if !utils.SameAddress(caller, order.Buyer) {
			return ErrUnauthorized
		}
	case models.OrderStatusRefunded:
		if !utils.SameAddress(caller, order.Seller) && e.requireOwner(caller) != nil {
			return ErrUnauthorized
		}
	default:
		return fmt.Errorf("%w: %s is not a reversal state", ErrInvalidState, to)
	}

	if order.Status != models.OrderStatusCreated {
		return fmt.Errorf("%w: order %d is %s", ErrInvalidState, id, order.Status)
	}

	amount, err := utils.ParseAmount(order.Amount)
	if err != nil {
		return fmt.Errorf("corrupt order amount: %w", err)
	}

	transitioned, err := e.orders.TransitionFromCreated(ctx, id, to, nil)
	if err != nil {
		return fmt.Errorf("transition order: %w", err)
	}
	if !transitioned {
		return fmt.Errorf("%w: order %d already settled", ErrInvalidState, id)
	}

	metrics.OrdersSettled.WithLabelValues(string(to)).Inc()

	if err := e.transferor.Transfer(ctx, order.Token, EscrowAccount, order.Buyer, amount); err != nil {
		e.markPayoutFailed(ctx, id, err)
		return fmt.Errorf("%w: escrow return: %v", ErrTransferFailed, err)
	}
	if err := e.orders.UpdatePayoutStatus(ctx, id, models.PayoutStatusReleased); err != nil {
		return fmt.Errorf("record payout: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"order_id": id,
		"status":   to,
		"amount":   order.Amount,
	}).Info("Order reversed")
	if to == models.OrderStatusCancelled {
		e.events.OrderCancelled(id)
	} else {
		e.events.OrderRefunded(id)
	}
	return nil
}

// markPayoutFailed records a stuck payout; the terminal state stands
func (e *Engine) markPayoutFailed(ctx context.Context, id uint64, cause error) {
	metrics.PayoutFailures.Inc()
	e.logger.WithFields(logrus.Fields{
		"order_id": id,
		"error":    cause.Error(),
	}).Error("Payout transfer failed after terminal transition, marked for retry")
	if err := e.orders.UpdatePayoutStatus(ctx, id, models.PayoutStatusFailed); err != nil {
		e.logger.WithFields(logrus.Fields{
			"order_id": id,
			"error":    err.Error(),
		}).Error("Failed to record payout failure")
	}
}

// RetryPayout re-issues the fund release of a terminal order whose payout
// previously failed. Owner-gated. The recorded split amounts are replayed
// verbatim; nothing is recomputed.
func (e *Engine) RetryPayout(ctx context.Context, caller string, id uint64) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	order, err := e.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if !order.Status.IsTerminal() || order.PayoutStatus != models.PayoutStatusFailed {
		return fmt.Errorf("%w: order %d (%s/%s)", ErrPayoutNotRetryable, id, order.Status, order.PayoutStatus)
	}

	switch order.Status {
	case models.OrderStatusCompleted:
		feeAmount, err := utils.ParseAmount(order.FeeAmount)
		if err != nil {
			return fmt.Errorf("corrupt fee amount: %w", err)
		}
		sellerAmount, err := utils.ParseAmount(order.SellerAmount)
		if err != nil {
			return fmt.Errorf("corrupt seller amount: %w", err)
		}
		if err := e.payoutCompletion(ctx, order.Token, order.Seller, feeAmount, sellerAmount); err != nil {
			return fmt.Errorf("%w: payout retry: %v", ErrTransferFailed, err)
		}
	default: // cancelled or refunded: return the full escrow to the buyer
		amount, err := utils.ParseAmount(order.Amount)
		if err != nil {
			return fmt.Errorf("corrupt order amount: %w", err)
		}
		if err := e.transferor.Transfer(ctx, order.Token, EscrowAccount, order.Buyer, amount); err != nil {
			return fmt.Errorf("%w: payout retry: %v", ErrTransferFailed, err)
		}
	}

	if err := e.orders.UpdatePayoutStatus(ctx, id, models.PayoutStatusReleased); err != nil {
		return fmt.Errorf("record payout: %w", err)
	}
	e.logger.WithField("order_id", id).Info("Stuck payout released on retry")
	return nil
}
