package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passport/service"
)

// SetupRouter sets up the Gin router. metrics may be nil.
func SetupRouter(authService *service.AuthService, metrics http.Handler) *gin.Engine {
	router := gin.Default()

	// Create handlers
	handlers := NewAuthHandlers(authService)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/register", handlers.Register)
		auth.POST("/login", handlers.Login)
		auth.POST("/refresh", handlers.Refresh)
		auth.POST("/logout", handlers.Logout)

		contract := auth.Group("/contract")
		contract.POST("/register", handlers.ContractRegister)
		contract.POST("/login", handlers.ContractLogin)

		webauthn := auth.Group("/webauthn")
		webauthn.POST("/register/begin", handlers.BeginBiometricRegistration)
		webauthn.POST("/register/finish", handlers.FinishBiometricRegistration)
		webauthn.POST("/login/begin", handlers.BeginBiometricLogin)
		webauthn.POST("/login/finish", handlers.FinishBiometricLogin)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(authService))
	{
		api.GET("/me", handlers.Me)
		api.GET("/authorize", handlers.Authorize)
		api.GET("/methods", handlers.Methods)
		api.GET("/sessions", handlers.Sessions)
		api.DELETE("/sessions", handlers.LogoutAll)
		api.POST("/password", handlers.ChangePassword)
	}

	return router
}
