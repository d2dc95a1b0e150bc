package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/escra-platform/portal/internal/identity"
	"github.com/escra-platform/portal/internal/model"
	"github.com/gin-gonic/gin"
)

// AuthHandler serves the identity endpoints.
type AuthHandler struct {
	svc        *identity.Service
	cookieName string
}

// NewAuthHandler creates a new AuthHandler. cookieName is accepted as a
// credential source next to bearer tokens.
func NewAuthHandler(svc *identity.Service, cookieName string) *AuthHandler {
	return &AuthHandler{svc: svc, cookieName: cookieName}
}

// TokenResponse is returned by register and login.
type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	User        *model.User `json:"user"`
}

func toTokenResponse(r *identity.AuthResult) *TokenResponse {
	return &TokenResponse{
		AccessToken: r.Token,
		TokenType:   "bearer",
		ExpiresAt:   r.ExpiresAt,
		User:        r.User,
	}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if req.Role == model.RoleAdmin {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "The admin role cannot be self-assigned")
		return
	}

	result, err := h.svc.Register(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrValidation):
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, model.ErrEmailTaken):
			sendError(c, http.StatusBadRequest, "EMAIL_TAKEN", "Email already registered")
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to register: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, toTokenResponse(result))
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidCredentials):
			sendError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		case errors.Is(err, model.ErrAccountDisabled):
			sendError(c, http.StatusForbidden, "ACCOUNT_DISABLED", "User account is deactivated")
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to log in: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, toTokenResponse(result))
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// Logout handles POST /api/auth/logout. It always succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := requestToken(c, h.cookieName); token != "" {
		// Revocation failures were logged by the service.
		_ = h.svc.Logout(c.Request.Context(), token)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}

// UpdateProfile handles PUT /api/auth/update-profile.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var update model.ProfileUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	user, err := h.svc.UpdateProfile(c.Request.Context(), currentUser(c).ID, update)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNothingToUpdate):
			sendError(c, http.StatusBadRequest, "NOTHING_TO_UPDATE", "No fields to update")
		case errors.Is(err, model.ErrValidation):
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, model.ErrUserNotFound):
			sendError(c, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update profile: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, user)
}

// RegisterRoutes registers the auth handler routes on a Gin router group.
func (h *AuthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)

		authed := auth.Group("", RequireToken(h.svc, h.cookieName))
		authed.GET("/me", h.Me)
		authed.PUT("/update-profile", h.UpdateProfile)
	}
}
