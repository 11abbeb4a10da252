package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/service"
)

// Context keys set by AuthMiddleware
const (
	ctxUserID    = "userID"
	ctxSessionID = "sessionID"
	ctxClaims    = "claims"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

// Register handles password registration
func (h *AuthHandlers) Register(c *gin.Context) {
	var req service.PasswordRegistration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	auth, err := h.authService.RegisterWithPassword(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Registration failed")
		return
	}

	c.JSON(http.StatusCreated, sessionResponse(auth))
}

// Login handles password login
func (h *AuthHandlers) Login(c *gin.Context) {
	var req service.PasswordLogin
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	auth, err := h.authService.LoginWithPassword(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Authentication failed")
		return
	}

	c.JSON(http.StatusOK, sessionResponse(auth))
}

// ContractRegister handles registration against the identity registry
func (h *AuthHandlers) ContractRegister(c *gin.Context) {
	var req service.ContractRegistration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	auth, err := h.authService.RegisterWithContract(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Registration failed")
		return
	}

	c.JSON(http.StatusCreated, sessionResponse(auth))
}

// ContractLogin handles login against the identity registry
func (h *AuthHandlers) ContractLogin(c *gin.Context) {
	var req service.ContractLogin
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	auth, err := h.authService.LoginWithContract(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Authentication failed")
		return
	}

	c.JSON(http.StatusOK, sessionResponse(auth))
}

// BeginBiometricRegistration returns credential creation options
func (h *AuthHandlers) BeginBiometricRegistration(c *gin.Context) {
	var req struct {
		Email         string `json:"email" binding:"required"`
		DisplayName   string `json:"display_name"`
		Authenticator string `json:"authenticator"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	kind := core.KindPlatform
	if req.Authenticator == string(core.KindCrossPlatform) {
		kind = core.KindCrossPlatform
	}

	options, err := h.authService.BeginBiometricRegistration(c.Request.Context(), req.Email, req.DisplayName, kind)
	if err != nil {
		respondError(c, err, "Failed to begin registration")
		return
	}

	c.JSON(http.StatusOK, options)
}

// FinishBiometricRegistration verifies an attestation
func (h *AuthHandlers) FinishBiometricRegistration(c *gin.Context) {
	var req struct {
		Email      string          `json:"email" binding:"required"`
		Credential json.RawMessage `json:"credential" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	attestation, err := protocol.ParseCredentialCreationResponseBytes(req.Credential)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed credential"})
		return
	}

	result, err := h.authService.CompleteBiometricRegistration(c.Request.Context(), req.Email, attestation)
	if err != nil {
		respondError(c, err, "Failed to finish registration")
		return
	}

	respondCeremony(c, result, http.StatusCreated)
}

// BeginBiometricLogin returns assertion options
func (h *AuthHandlers) BeginBiometricLogin(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	options, err := h.authService.BeginBiometricLogin(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, err, "Failed to begin login")
		return
	}

	c.JSON(http.StatusOK, options)
}

// FinishBiometricLogin verifies an assertion
func (h *AuthHandlers) FinishBiometricLogin(c *gin.Context) {
	var req struct {
		Email      string          `json:"email" binding:"required"`
		Credential json.RawMessage `json:"credential" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	assertion, err := protocol.ParseCredentialRequestResponseBytes(req.Credential)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed credential"})
		return
	}

	result, err := h.authService.CompleteBiometricLogin(c.Request.Context(), req.Email, assertion)
	if err != nil {
		respondError(c, err, "Failed to finish login")
		return
	}

	respondCeremony(c, result, http.StatusOK)
}

// Refresh handles token refresh
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err, "Failed to refresh tokens")
		return
	}

	c.JSON(http.StatusOK, tokenResponse(pair))
}

// Logout handles session logout
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		respondError(c, err, "Failed to logout")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// LogoutAll revokes every session of the authenticated user
func (h *AuthHandlers) LogoutAll(c *gin.Context) {
	n, err := h.authService.LogoutAll(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, err, "Failed to logout")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out", "revoked": n})
}

// Sessions lists the active sessions of the authenticated user
func (h *AuthHandlers) Sessions(c *gin.Context) {
	sessions, err := h.authService.GetSessions(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, err, "Failed to list sessions")
		return
	}

	current := c.GetString(ctxSessionID)
	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{
			"id":         s.ID,
			"created_at": s.CreatedAt,
			"updated_at": s.UpdatedAt,
			"expires_at": s.ExpiresAt,
			"current":    s.ID == current,
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// ChangePassword replaces the password of the authenticated user
func (h *AuthHandlers) ChangePassword(c *gin.Context) {
	var req struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), c.GetString(ctxUserID), req.OldPassword, req.NewPassword); err != nil {
		respondError(c, err, "Failed to change password")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password changed"})
}

// Methods lists the authentication methods of the authenticated user
func (h *AuthHandlers) Methods(c *gin.Context) {
	methods, err := h.authService.AuthMethods(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, err, "Failed to list methods")
		return
	}

	c.JSON(http.StatusOK, gin.H{"methods": methods})
}

// Me returns information about the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	user, err := h.authService.User(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		respondError(c, err, "Failed to load user")
		return
	}

	c.JSON(http.StatusOK, userResponse(user))
}

// Authorize checks if a user is authorized
func (h *AuthHandlers) Authorize(c *gin.Context) {
	// Reaching this handler means the middleware accepted the token
	c.JSON(http.StatusOK, gin.H{
		"authorized": true,
		"user_id":    c.GetString(ctxUserID),
		"session_id": c.GetString(ctxSessionID),
	})
}

func respondCeremony(c *gin.Context, result *service.BiometricResult, status int) {
	if !result.Verified {
		msg := "Verification failed"
		if errors.Is(result.Failure, core.ErrReplayDetected) {
			msg = "Credential counter replayed"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": msg, "verified": false})
		return
	}

	resp := sessionResponse(result.Session)
	resp["verified"] = true
	c.JSON(status, resp)
}

// respondError maps service errors to status codes
func respondError(c *gin.Context, err error, fallback string) {
	statusCode := http.StatusInternalServerError
	errorMsg := fallback

	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrWeakPassword):
		statusCode = http.StatusBadRequest
		errorMsg = err.Error()
	case errors.Is(err, core.ErrAlreadyExists):
		statusCode = http.StatusConflict
		errorMsg = "Account already exists"
	case errors.Is(err, core.ErrInvalidCredentials):
		statusCode = http.StatusUnauthorized
		errorMsg = "Invalid credentials"
	case errors.Is(err, core.ErrChallengeExpired):
		statusCode = http.StatusBadRequest
		errorMsg = "Challenge expired"
	case errors.Is(err, core.ErrNoCredentials):
		statusCode = http.StatusNotFound
		errorMsg = "No credentials registered"
	case errors.Is(err, core.ErrCredentialNotFound):
		statusCode = http.StatusUnauthorized
		errorMsg = "Unknown credential"
	case errors.Is(err, core.ErrTokenExpired):
		statusCode = http.StatusUnauthorized
		errorMsg = "Token expired"
	case errors.Is(err, core.ErrInvalidToken):
		statusCode = http.StatusUnauthorized
		errorMsg = "Invalid token"
	case errors.Is(err, core.ErrSessionNotFound):
		statusCode = http.StatusUnauthorized
		errorMsg = "Session has been invalidated"
	case errors.Is(err, core.ErrUserNotFound):
		statusCode = http.StatusNotFound
		errorMsg = "User not found"
	}

	if statusCode == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(statusCode, gin.H{"error": errorMsg})
}

func tokenResponse(pair core.TokenPair) gin.H {
	return gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"session_id":    pair.SessionID,
		"token_type":    "Bearer",
		"expires_in":    int(time.Until(pair.AccessExpiresAt).Seconds()),
	}
}

func sessionResponse(auth *core.AuthSession) gin.H {
	resp := tokenResponse(auth.Tokens)
	resp["user"] = userResponse(auth.User)
	resp["degraded"] = auth.Degraded
	return resp
}

func userResponse(user *core.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"username":       user.Username,
		"wallet_address": user.WalletAddress,
		"created_at":     user.CreatedAt,
	}
}
