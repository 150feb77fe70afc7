package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"botmarket-backend/internal/engine"
	"botmarket-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRespondEngineError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{engine.ErrUnauthorized, http.StatusForbidden, "UNAUTHORIZED"},
		{engine.ErrUnsupportedToken, http.StatusBadRequest, "UNSUPPORTED_TOKEN"},
		{engine.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
		{engine.ErrInvalidAddress, http.StatusBadRequest, "INVALID_ADDRESS"},
		{engine.ErrFeeTooHigh, http.StatusBadRequest, "FEE_TOO_HIGH"},
		{engine.ErrOrderNotFound, http.StatusNotFound, "ORDER_NOT_FOUND"},
		{engine.ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
		{engine.ErrPayoutNotRetryable, http.StatusConflict, "PAYOUT_NOT_RETRYABLE"},
		{engine.ErrTransferFailed, http.StatusUnprocessableEntity, "TRANSFER_FAILED"},
		{fmt.Errorf("database exploded"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		// Wrapped sentinels still map
		{fmt.Errorf("order 7: %w", engine.ErrInvalidState), http.StatusConflict, "INVALID_STATE"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			respondEngineError(c, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}

func TestCallerAddress(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set(middleware.ContextUserAddress, "0x00000000000000000000000000000000000000c3")
	address, ok := callerAddress(c)
	assert.True(t, ok)
	assert.Equal(t, "0x00000000000000000000000000000000000000c3", address)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	_, ok = callerAddress(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		query    string
		page     int
		pageSize int
	}{
		{"", 1, 20},
		{"?page=3&page_size=50", 3, 50},
		{"?page=0&page_size=0", 1, 20},
		{"?page=-1&page_size=1000", 1, 20},
		{"?page=abc&page_size=xyz", 1, 20},
	}

	for _, tt := range tests {
		t.Run("query"+tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/orders"+tt.query, nil)
			page, pageSize := pagination(c)
			assert.Equal(t, tt.page, page)
			assert.Equal(t, tt.pageSize, pageSize)
		})
	}
}

func TestParseOrderID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	id, ok := parseOrderID(c)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)

	for _, bad := range []string{"0", "-1", "abc", ""} {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Params = gin.Params{{Key: "id", Value: bad}}
		_, ok := parseOrderID(c)
		assert.False(t, ok, "expected %q to be rejected", bad)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}
