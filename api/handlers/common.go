// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/escra-platform/portal/internal/identity"
	"github.com/escra-platform/portal/internal/model"
	"github.com/gin-gonic/gin"
)

// Context keys set by RequireToken.
const (
	userKey  = "auth.user"
	tokenKey = "auth.token"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// requestToken returns the bearer token, falling back to the credential cookie.
func requestToken(c *gin.Context, cookieName string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookieName != "" {
		if token, err := c.Cookie(cookieName); err == nil {
			return token
		}
	}
	return ""
}

// RequireToken authenticates API requests with a bearer token or the
// credential cookie and stores the user on the context.
func RequireToken(svc *identity.Service, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := requestToken(c, cookieName)
		if token == "" {
			sendError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
			c.Abort()
			return
		}

		user, _, err := svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, model.ErrInvalidToken) {
				sendError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Could not validate credentials")
			} else {
				log.Printf("Failed to authenticate request: %v", err)
				sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to authenticate")
			}
			c.Abort()
			return
		}

		c.Set(userKey, user)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// currentUser returns the user set by RequireToken.
func currentUser(c *gin.Context) *model.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}
