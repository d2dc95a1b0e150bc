// Package api assembles the gateway's HTTP surface.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/escra-platform/portal/api/handlers"
	"github.com/escra-platform/portal/internal/gate"
	"github.com/escra-platform/portal/internal/identity"
	"github.com/escra-platform/portal/internal/session"
	"github.com/escra-platform/portal/internal/status"
	"github.com/escra-platform/portal/internal/ws"
	"github.com/gin-gonic/gin"
)

// Dependencies are the services the router serves.
type Dependencies struct {
	Policy      *gate.Policy
	Identity    *identity.Service
	Status      *status.Service
	Realtime    *ws.Service
	TokenTTL    time.Duration
	CORSOrigins []string
}

// NewRouter builds the gin engine: edge gate, identity and status APIs,
// the status channel and the portal pages.
func NewRouter(d Dependencies) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware(d.CORSOrigins))
	r.Use(gate.EdgeMiddleware(d.Policy))

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		handlers.NewAuthHandler(d.Identity, d.Policy.CookieName).RegisterRoutes(api)

		secured := api.Group("", handlers.RequireToken(d.Identity, d.Policy.CookieName))
		handlers.NewStatusHandler(d.Status).RegisterRoutes(secured)
		handlers.NewWebSocketHandler(d.Realtime.Handler()).RegisterRoutes(secured)
	}

	pages := handlers.NewPageHandler(d.Policy, session.NewLocalAuthenticator(d.Identity), d.TokenTTL)
	pages.RegisterRoutes(r)

	return r
}

// corsMiddleware allows the configured origins, or any origin when none
// are configured.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(allowed) == 0:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
