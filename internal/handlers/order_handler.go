package handlers

import (
	"context"
	"net/http"
	"time"

	"botmarket-backend/internal/engine"
	"botmarket-backend/internal/metrics"
	"botmarket-backend/internal/models"
	"botmarket-backend/internal/repository"
	"botmarket-backend/internal/services"
	"botmarket-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// OrderHandler handles escrow order operations and queries
type OrderHandler struct {
	engine  *engine.Engine
	repo    repository.OrderRepository
	custody *services.CustodyService
	logger  *logrus.Logger
}

// NewOrderHandler creates a new OrderHandler instance
func NewOrderHandler(eng *engine.Engine, repo repository.OrderRepository, custody *services.CustodyService, logger *logrus.Logger) *OrderHandler {
	return &OrderHandler{engine: eng, repo: repo, custody: custody, logger: logger}
}

// CreateOrderRequest order creation payload. The buyer is the authenticated
// caller; amount is in token smallest units.
type CreateOrderRequest struct {
	Seller string `json:"seller" binding:"required"`
	ItemID uint64 `json:"item_id" binding:"required"`
	Amount string `json:"amount" binding:"required"`
	Token  string `json:"token" binding:"required"`
}

// CreateOrderHandler escrows funds and opens an order
// POST /api/orders
func (h *OrderHandler) CreateOrderHandler(c *gin.Context) {
	buyer, ok := callerAddress(c)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid amount: must be a non-negative integer in token smallest units",
			"code":    "INVALID_AMOUNT",
		})
		return
	}

	order, err := h.engine.CreateOrder(c.Request.Context(), buyer, req.Seller, req.ItemID, amount, req.Token)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"order":   order,
	})
}

// GetOrderHandler returns one order
// GET /api/orders/:id
func (h *OrderHandler) GetOrderHandler(c *gin.Context) {
	id, ok := parseOrderID(c)
	if !ok {
		return
	}
	order, err := h.engine.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListOrdersHandler returns paginated orders, newest first
// GET /api/orders
func (h *OrderHandler) ListOrdersHandler(c *gin.Context) {
	page, pageSize := pagination(c)
	orders, total, err := h.repo.List(c.Request.Context(), page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list orders",
			"code":    "INTERNAL_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":    orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListMyOrdersHandler returns orders where the caller is buyer or seller
// GET /api/my/orders
func (h *OrderHandler) ListMyOrdersHandler(c *gin.Context) {
	address, ok := callerAddress(c)
	if !ok {
		return
	}
	page, pageSize := pagination(c)
	orders, total, err := h.repo.FindByParticipant(c.Request.Context(), address, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list orders",
			"code":    "INTERNAL_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":    orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// OrderCountHandler returns the number of orders ever created
// GET /api/orders/count
func (h *OrderHandler) OrderCountHandler(c *gin.Context) {
	count, err := h.engine.OrderCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to count orders",
			"code":    "INTERNAL_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_count": count})
}

// CompleteOrderHandler settles an order into fee + seller payout
// POST /api/orders/:id/complete
func (h *OrderHandler) CompleteOrderHandler(c *gin.Context) {
	h.settle(c, h.engine.CompleteOrder, "completed")
}

// CancelOrderHandler buyer-initiated reversal
// POST /api/orders/:id/cancel
func (h *OrderHandler) CancelOrderHandler(c *gin.Context) {
	h.settle(c, h.engine.CancelOrder, "cancelled")
}

// RefundOrderHandler seller/owner-initiated reversal
// POST /api/orders/:id/refund
func (h *OrderHandler) RefundOrderHandler(c *gin.Context) {
	h.settle(c, h.engine.RefundOrder, "refunded")
}

func (h *OrderHandler) settle(c *gin.Context, op func(ctx context.Context, caller string, id uint64) error, result string) {
	caller, ok := callerAddress(c)
	if !ok {
		return
	}
	id, ok := parseOrderID(c)
	if !ok {
		return
	}

	start := time.Now()
	err := op(c.Request.Context(), caller, id)
	metrics.SettlementDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"order_id": id,
		"status":   result,
	})
}

// RetryPayoutHandler re-issues a stuck payout (admin only)
// POST /api/orders/:id/retry-payout
func (h *OrderHandler) RetryPayoutHandler(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		return
	}
	id, ok := parseOrderID(c)
	if !ok {
		return
	}

	if err := h.engine.RetryPayout(c.Request.Context(), caller, id); err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"order_id": id,
	})
}

// ListFailedPayoutsHandler returns terminal orders with a stuck payout, the
// candidates for retry-payout (admin only)
// GET /api/admin/payouts/failed
func (h *OrderHandler) ListFailedPayoutsHandler(c *gin.Context) {
	orders, err := h.repo.FindByPayoutStatus(c.Request.Context(), models.PayoutStatusFailed)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list stuck payouts")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list stuck payouts",
			"code":    "INTERNAL_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": len(orders)})
}

// GetBalanceHandler returns a custody balance. Users may read their own
// balances; admins may read any account including escrow and treasury.
// GET /api/balances/:account/:token
func (h *OrderHandler) GetBalanceHandler(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		return
	}

	account := c.Param("account")
	if account != engine.EscrowAccount {
		normalized, err := utils.NormalizeAddress(account)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid account address",
				"code":    "INVALID_ADDRESS",
			})
			return
		}
		account = normalized
	}

	token, err := utils.NormalizeAddress(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid token address",
			"code":    "INVALID_ADDRESS",
		})
		return
	}

	if !isAdmin(c) && !utils.SameAddress(caller, account) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Cannot read another account's balance",
			"code":    "UNAUTHORIZED",
		})
		return
	}

	balance, err := h.custody.GetBalance(c.Request.Context(), account, token)
	if err != nil {
		h.logger.WithError(err).Error("Balance lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to read balance",
			"code":    "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account": account,
		"token":   token,
		"balance": balance.String(),
	})
}
