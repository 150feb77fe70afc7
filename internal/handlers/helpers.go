// Package handlers contains the gin HTTP handlers of the settlement API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"botmarket-backend/internal/engine"
	"botmarket-backend/internal/middleware"

	"github.com/gin-gonic/gin"
)

// respondEngineError maps settlement errors to HTTP status + stable codes
func respondEngineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"

	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		status, code = http.StatusForbidden, "UNAUTHORIZED"
	case errors.Is(err, engine.ErrUnsupportedToken):
		status, code = http.StatusBadRequest, "UNSUPPORTED_TOKEN"
	case errors.Is(err, engine.ErrInvalidAmount):
		status, code = http.StatusBadRequest, "INVALID_AMOUNT"
	case errors.Is(err, engine.ErrInvalidAddress):
		status, code = http.StatusBadRequest, "INVALID_ADDRESS"
	case errors.Is(err, engine.ErrFeeTooHigh):
		status, code = http.StatusBadRequest, "FEE_TOO_HIGH"
	case errors.Is(err, engine.ErrOrderNotFound):
		status, code = http.StatusNotFound, "ORDER_NOT_FOUND"
	case errors.Is(err, engine.ErrInvalidState):
		status, code = http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, engine.ErrPayoutNotRetryable):
		status, code = http.StatusConflict, "PAYOUT_NOT_RETRYABLE"
	case errors.Is(err, engine.ErrTransferFailed):
		status, code = http.StatusUnprocessableEntity, "TRANSFER_FAILED"
	}

	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}

// callerAddress returns the authenticated address set by the auth middleware
func callerAddress(c *gin.Context) (string, bool) {
	value, exists := c.Get(middleware.ContextUserAddress)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "User not authenticated",
			"code":    "NOT_AUTHENTICATED",
		})
		return "", false
	}
	address, ok := value.(string)
	if !ok || address == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "User not authenticated",
			"code":    "NOT_AUTHENTICATED",
		})
		return "", false
	}
	return address, true
}

// isAdmin reports whether the authenticated caller holds the admin role
func isAdmin(c *gin.Context) bool {
	value, exists := c.Get(middleware.ContextUserRole)
	if !exists {
		return false
	}
	role, ok := value.(string)
	return ok && role == middleware.RoleAdmin
}

// pagination reads page/page_size query parameters with sane bounds
func pagination(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// parseOrderID reads the :id path parameter
func parseOrderID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid order id",
			"code":    "INVALID_ORDER_ID",
		})
		return 0, false
	}
	return id, true
}
