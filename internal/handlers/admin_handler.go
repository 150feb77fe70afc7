package handlers

import (
	"net/http"

	"botmarket-backend/internal/engine"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler drives the engine's administrative surface: token registry,
// fee policy and ownership. Every route sits behind the admin JWT, and the
// engine re-checks the caller against the Principal on top of that.
type AdminHandler struct {
	engine *engine.Engine
	logger *logrus.Logger
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(eng *engine.Engine, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{engine: eng, logger: logger}
}

// TokenRequest add/remove token payload
type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// AddTokenHandler registers a payment token
// POST /api/admin/tokens
func (h *AdminHandler) AddTokenHandler(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		return
	}

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	if err := h.engine.AddToken(c.Request.Context(), caller, req.Token); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": req.Token})
}

// RemoveTokenHandler unregisters a payment token
// DELETE /api/admin/tokens/:token
func (h *AdminHandler) RemoveTokenHandler(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		return
	}

	token := c.Param("token")
	if err := h.engine.RemoveToken(c.Request.Context(), caller, token); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// ListTokensHandler returns the full registry with membership flags
// GET /api/admin/tokens
func (h *AdminHandler) ListTokensHandler(c *gin.Context) {
	tokens, err := h.engine.ListTokens(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list tokens",
			"code":    "INTERNAL_ERROR",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// FeeRequest fee update payload
type FeeRequest struct {
	FeeBps *int64 `json:"fee_bps" binding:"required"`
}

// SetFeeHandler updates the platform fee
// PUT /api/admin/fee
func (h *AdminHandler) SetFeeHandler(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		return
	}

	var req FeeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FeeBps == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: fee_bps is required",
			"code":    "INVALID_REQUEST",
		})
		return
	}

	if err := h.engine.SetPlatformFee(c.Request.Context(), caller, *req.FeeBps); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "fee_bps": *req.FeeBps})
}

// GetFeeHandler returns the platform fee and its ceiling
// GET /api/admin/fee
func (h *AdminHandler) GetFeeHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"fee_bps":     h.engine.CurrentFee(),
		"fee_ceiling": engine.FeeCeiling,
	})
}

// OwnershipRequest ownership transfer payload
type OwnershipRequest struct {
	NewOwner string `json:"new_owner" binding:"required"`
}

// TransferOwnershipHandler hands the Principal role to a new address.
// Existing admin tokens keep working until expiry but no longer pass the
// engine's owner check.
// POST /api/admin/transfer-ownership
func (h *AdminHandler) TransferOwnershipHandler(c *gin.Context) {
	caller, ok := callerAddress(c)
	if !ok {
		return
	}

	var req OwnershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	if err := h.engine.TransferOwnership(c.Request.Context(), caller, req.NewOwner); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "new_owner": req.NewOwner})
}
