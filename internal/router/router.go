package router

import (
	"net/http"
	"strconv"
	"strings"

	"botmarket-backend/internal/config"
	"botmarket-backend/internal/handlers"
	"botmarket-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware CORS middleware
// Origins come from config (env override handled at load time); empty config
// means allow-all.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowedOrigins := []string{"*"}
		allowCredentials := false
		maxAge := 3600
		if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
			if config.AppConfig.CORS.MaxAge > 0 {
				maxAge = config.AppConfig.CORS.MaxAge
			}
		}

		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if strings.TrimSpace(allowedOrigin) == origin {
					allowed = true
					break
				}
			}
			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
			} else {
				logrus.WithFields(logrus.Fields{
					"request_origin": origin,
					"path":           c.Request.URL.Path,
					"method":         c.Request.Method,
				}).Warn("CORS: Request blocked - Origin not in whitelist")
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		if allowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Handlers groups everything the router wires up
type Handlers struct {
	Auth      *handlers.AuthHandler
	Order     *handlers.OrderHandler
	Admin     *handlers.AdminHandler
	Payment   *handlers.PaymentHandler
	WebSocket *handlers.WebSocketHandler
}

// SetupRouter builds the gin engine with all routes and middleware
func SetupRouter(h Handlers, auth *middleware.AuthMiddleware) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware())

	// ============ Check ============
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// ============ Health Check ============
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "botmarket-backend",
		})
	})

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ WebSocket Event Feed ============
	r.GET("/ws", h.WebSocket.HandleWebSocket)

	// ============ API Routes ============
	api := r.Group("/api")
	{
		// Authentication
		api.POST("/auth/web3", h.Auth.Web3LoginHandler)
		api.POST("/admin/login", h.Auth.AdminLoginHandler)

		// Payment metadata (public)
		api.GET("/payments/currencies", h.Payment.GetCurrenciesHandler)

		// Orders
		orders := api.Group("/orders", auth.RequireAuth())
		{
			orders.POST("", h.Order.CreateOrderHandler)
			orders.GET("", h.Order.ListOrdersHandler)
			orders.GET("/count", h.Order.OrderCountHandler)
			orders.GET("/:id", h.Order.GetOrderHandler)
			orders.POST("/:id/complete", h.Order.CompleteOrderHandler)
			orders.POST("/:id/cancel", h.Order.CancelOrderHandler)
			orders.POST("/:id/refund", h.Order.RefundOrderHandler)
			orders.POST("/:id/retry-payout", auth.RequireAdmin(), h.Order.RetryPayoutHandler)
		}

		api.GET("/my/orders", auth.RequireAuth(), h.Order.ListMyOrdersHandler)
		api.GET("/balances/:account/:token", auth.RequireAuth(), h.Order.GetBalanceHandler)

		// Admin
		admin := api.Group("/admin", auth.RequireAdmin())
		{
			admin.GET("/tokens", h.Admin.ListTokensHandler)
			admin.POST("/tokens", h.Admin.AddTokenHandler)
			admin.DELETE("/tokens/:token", h.Admin.RemoveTokenHandler)
			admin.GET("/fee", h.Admin.GetFeeHandler)
			admin.PUT("/fee", h.Admin.SetFeeHandler)
			admin.POST("/transfer-ownership", h.Admin.TransferOwnershipHandler)
			admin.GET("/payouts/failed", h.Order.ListFailedPayoutsHandler)
		}
	}

	// ============ NoRoute handler for 404 ============
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message":    "Endpoint not found",
			"path":       c.Request.URL.Path,
			"suggestion": "Check /api endpoints for available APIs",
		})
	})

	return r
}
