package handlers

import (
	"net/http"

	"botmarket-backend/internal/config"
	"botmarket-backend/internal/engine"

	"github.com/gin-gonic/gin"
)

// PaymentHandler serves payment metadata for storefront clients
type PaymentHandler struct {
	engine *engine.Engine
}

// NewPaymentHandler creates a new PaymentHandler instance
func NewPaymentHandler(eng *engine.Engine) *PaymentHandler {
	return &PaymentHandler{engine: eng}
}

// CurrencyInfo one accepted payment currency
type CurrencyInfo struct {
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	Decimals int      `json:"decimals"`
	Networks []string `json:"networks,omitempty"`
}

// GetCurrenciesHandler lists the currently accepted payment tokens enriched
// with configured metadata. Tokens removed from the registry disappear from
// the list even when still configured.
// GET /api/payments/currencies
func (h *PaymentHandler) GetCurrenciesHandler(c *gin.Context) {
	tokens, err := h.engine.ListTokens(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list currencies",
			"code":    "INTERNAL_ERROR",
		})
		return
	}

	currencies := make([]CurrencyInfo, 0, len(tokens))
	for _, token := range tokens {
		if !token.Supported {
			continue
		}
		info := CurrencyInfo{Address: token.Address}
		if meta, ok := config.FindToken(token.Address); ok {
			info.Symbol = meta.Symbol
			info.Name = meta.Name
			info.Decimals = meta.Decimals
			info.Networks = meta.Networks
		}
		currencies = append(currencies, info)
	}

	c.JSON(http.StatusOK, gin.H{"currencies": currencies})
}
