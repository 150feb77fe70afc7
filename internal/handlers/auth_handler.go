package handlers

import (
	"net/http"

	"botmarket-backend/internal/config"
	"botmarket-backend/internal/engine"
	"botmarket-backend/internal/middleware"
	"botmarket-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler handles wallet and admin authentication
type AuthHandler struct {
	engine *engine.Engine
	logger *logrus.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(eng *engine.Engine, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{engine: eng, logger: logger}
}

// Web3LoginRequest wallet-signature login payload
type Web3LoginRequest struct {
	Address   string `json:"address" binding:"required"`
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// Web3LoginHandler authenticates a wallet by signature and issues a user JWT
// POST /api/auth/web3
func (h *AuthHandler) Web3LoginHandler(c *gin.Context) {
	var req Web3LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	address, err := utils.NormalizeAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid wallet address",
			"code":    "INVALID_ADDRESS",
		})
		return
	}

	valid, err := utils.VerifyPersonalSignature(address, req.Message, req.Signature)
	if err != nil || !valid {
		h.logger.WithFields(logrus.Fields{
			"address": address,
		}).Warn("Web3 login failed - invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid signature",
			"code":    "INVALID_SIGNATURE",
		})
		return
	}

	token, err := middleware.IssueToken(address, middleware.RoleUser)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to issue token",
			"code":    "TOKEN_ISSUE_FAILED",
		})
		return
	}

	h.logger.WithField("address", address).Info("Wallet authenticated")
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"access_token": token,
		"token_type":   "bearer",
		"address":      address,
	})
}

// AdminLoginRequest admin login payload: password plus TOTP code
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginHandler authenticates the platform operator and issues an admin
// JWT bound to the engine owner address
// POST /api/admin/login
func (h *AuthHandler) AdminLoginHandler(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request body: " + err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	cfg := config.AppConfig
	if cfg == nil || cfg.Admin.PasswordHash == "" || cfg.Admin.TOTPSecret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Admin login not configured",
			"code":    "ADMIN_NOT_CONFIGURED",
		})
		return
	}

	if req.Username != cfg.Admin.Username ||
		bcrypt.CompareHashAndPassword([]byte(cfg.Admin.PasswordHash), []byte(req.Password)) != nil {
		h.logger.WithField("username", req.Username).Warn("Admin login failed - bad credentials")
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid credentials",
			"code":    "INVALID_CREDENTIALS",
		})
		return
	}

	if !totp.Validate(req.TOTPCode, cfg.Admin.TOTPSecret) {
		h.logger.WithField("username", req.Username).Warn("Admin login failed - bad TOTP code")
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid TOTP code",
			"code":    "INVALID_TOTP",
		})
		return
	}

	// The admin token acts as the current Principal, which may have moved
	// since startup via ownership transfer.
	token, err := middleware.IssueToken(h.engine.Owner(), middleware.RoleAdmin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to issue token",
			"code":    "TOKEN_ISSUE_FAILED",
		})
		return
	}

	h.logger.WithField("username", req.Username).Info("Admin authenticated")
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"access_token": token,
		"token_type":   "bearer",
	})
}
