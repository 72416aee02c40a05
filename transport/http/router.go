package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/otpgate/core"
	"github.com/layer-3/otpgate/service"
	"go.uber.org/zap"
)

// RouterConfig carries the transport settings that are not part of the services
type RouterConfig struct {
	Logger  *zap.Logger
	Cookies CookieConfig
	Metrics http.Handler // served on /metrics when set
}

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Logger))

	handlers := NewAuthHandlers(authService, cfg.Cookies, cfg.Logger)

	auth := router.Group("/auth")
	{
		auth.GET("/health", handlers.Health)
		auth.POST("/request-verification", handlers.RequestVerification)
		auth.POST("/confirm-verification", handlers.ConfirmVerification)

		for _, role := range []string{core.RoleUser, core.RoleSeller} {
			auth.POST("/"+role+"-registration", handlers.Register(role))
			auth.POST("/verify-"+role, handlers.CompleteRegistration(role))
			auth.POST("/login-"+role, handlers.Login(role))
			auth.POST("/refresh-token-"+role, handlers.Refresh(role))
			auth.POST("/forgot-password-"+role, handlers.ForgotPassword(role))
			auth.POST("/verify-forgot-password-"+role, handlers.VerifyForgotPassword)
			auth.POST("/reset-password-"+role, handlers.ResetPassword(role))
			auth.GET("/logged-in-"+role, AuthMiddleware(authService, role), handlers.Me)
		}
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	return router
}
