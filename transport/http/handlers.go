package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/otpgate/core"
	"github.com/layer-3/otpgate/service"
	"go.uber.org/zap"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// CookieConfig controls the session cookies set on login and refresh
type CookieConfig struct {
	Domain     string
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	cookies     CookieConfig
	logger      *zap.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, cookies CookieConfig, logger *zap.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		cookies:     cookies,
		logger:      logger,
	}
}

type registrationRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber"`
	Country     string `json:"country"`
	OTP         string `json:"otp"`
}

func (r registrationRequest) registration(role string) core.Registration {
	return core.Registration{
		Role:        role,
		Name:        r.Name,
		Email:       r.Email,
		Password:    r.Password,
		PhoneNumber: r.PhoneNumber,
		Country:     r.Country,
	}
}

type codeRequest struct {
	Email string `json:"email" binding:"required"`
	OTP   string `json:"otp" binding:"required"`
}

// Health reports that the service is up
func (h *AuthHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Register starts a sign-up and sends the activation code
func (h *AuthHandlers) Register(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registrationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		challenge, err := h.authService.StartRegistration(c.Request.Context(), req.registration(role))
		if err != nil {
			h.writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, challengeResponse("OTP sent to your email", challenge))
	}
}

// CompleteRegistration verifies the activation code and creates the account
func (h *AuthHandlers) CompleteRegistration(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registrationRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.OTP == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		account, err := h.authService.CompleteRegistration(c.Request.Context(), req.registration(role), req.OTP)
		if err != nil {
			h.writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": "Registration successful",
			role:      accountResponse(account),
		})
	}
}

// Login checks the password and sets the session cookies
func (h *AuthHandlers) Login(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		pair, account, err := h.authService.Login(c.Request.Context(), role, req.Email, req.Password)
		if err != nil {
			h.writeError(c, err)
			return
		}

		h.setCookie(c, accessCookie, pair.AccessToken, h.cookies.AccessTTL)
		h.setCookie(c, refreshCookie, pair.RefreshToken, h.cookies.RefreshTTL)

		c.JSON(http.StatusOK, gin.H{
			"message":       "Login successful",
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
			"token_type":    "Bearer",
			"expires_in":    int(h.cookies.AccessTTL.Seconds()),
			role:            accountResponse(account),
		})
	}
}

// Refresh mints a new access token from the refresh_token cookie or body
func (h *AuthHandlers) Refresh(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(refreshCookie)
		if err != nil || token == "" {
			var req struct {
				RefreshToken string `json:"refresh_token"`
			}
			_ = c.ShouldBindJSON(&req)
			token = req.RefreshToken
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing refresh token"})
			return
		}

		access, _, err := h.authService.Refresh(c.Request.Context(), token, role)
		if err != nil {
			h.writeError(c, err)
			return
		}

		h.setCookie(c, accessCookie, access, h.cookies.AccessTTL)

		c.JSON(http.StatusOK, gin.H{
			"access_token": access,
			"token_type":   "Bearer",
			"expires_in":   int(h.cookies.AccessTTL.Seconds()),
		})
	}
}

// ForgotPassword sends a password reset code
func (h *AuthHandlers) ForgotPassword(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email string `json:"email" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		challenge, err := h.authService.StartPasswordReset(c.Request.Context(), role, req.Email)
		if err != nil {
			h.writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, challengeResponse("OTP sent to your email", challenge))
	}
}

// VerifyForgotPassword checks the reset code
func (h *AuthHandlers) VerifyForgotPassword(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.authService.VerifyPasswordReset(c.Request.Context(), req.Email, req.OTP); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "OTP verified"})
}

// ResetPassword stores a new password after a verified reset code
func (h *AuthHandlers) ResetPassword(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		if err := h.authService.ResetPassword(c.Request.Context(), role, req.Email, req.Password); err != nil {
			h.writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Password reset successful"})
	}
}

// RequestVerification sends a generic verification code
func (h *AuthHandlers) RequestVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		Name  string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	challenge, err := h.authService.RequestVerification(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, challengeResponse("OTP sent to your email", challenge))
}

// ConfirmVerification checks a generic verification code
func (h *AuthHandlers) ConfirmVerification(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.authService.ConfirmVerification(c.Request.Context(), req.Email, req.OTP); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Verified"})
}

// Me returns the account behind the access token
func (h *AuthHandlers) Me(c *gin.Context) {
	// Claims are set by the auth middleware
	value, exists := c.Get(claimsKey)
	claims, ok := value.(core.Claims)
	if !exists || !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Claims not found in context"})
		return
	}

	account, err := h.authService.CurrentAccount(c.Request.Context(), claims)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{claims.Role: accountResponse(account)})
}

func (h *AuthHandlers) setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(name, value, int(ttl.Seconds()), "/", h.cookies.Domain, h.cookies.Secure, true)
}

// writeError maps service errors onto status codes
func (h *AuthHandlers) writeError(c *gin.Context, err error) {
	var limited *core.RateLimitedError
	var invalid *core.InvalidCodeError

	switch {
	case errors.As(err, &limited):
		retryAfter := int(math.Ceil(limited.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "Too many requests",
			"reason":      string(limited.Reason),
			"retry_after": retryAfter,
		})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":              "Invalid OTP",
			"remaining_attempts": invalid.Remaining,
		})
	case errors.Is(err, core.ErrChallengeExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "OTP expired or not found"})
	case errors.Is(err, core.ErrAccountLocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "Too many failed attempts, try again later"})
	case errors.Is(err, core.ErrExpiredToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
	case errors.Is(err, core.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	case errors.Is(err, core.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
	case errors.Is(err, core.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrSamePassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "New password must differ from the old password"})
	case errors.Is(err, core.ErrIdentityNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
	case errors.Is(err, core.ErrIdentityExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Account already exists"})
	case errors.Is(err, core.ErrResetNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "Verify the reset code first"})
	default:
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func challengeResponse(message string, challenge core.Challenge) gin.H {
	return gin.H{
		"message":    message,
		"expires_at": challenge.ExpiresAt,
	}
}

func accountResponse(a *core.Account) gin.H {
	out := gin.H{
		"id":        a.ID,
		"name":      a.Name,
		"email":     a.Email,
		"createdAt": a.CreatedAt,
	}
	if a.Role == core.RoleSeller {
		out["phoneNumber"] = a.PhoneNumber
		out["country"] = a.Country
	}
	return out
}
