package gate

import (
	"log"
	"net/http"

	"github.com/escra-platform/portal/internal/session"
	"github.com/gin-gonic/gin"
)

// Context keys set by the gate middlewares.
const (
	AdminPathKey = "gate.admin_path"
	StoreKey     = "gate.session_store"
)

// EdgeMiddleware runs before page handlers. It only checks that the
// credential cookie is present; the token itself is never verified here.
func EdgeMiddleware(p *Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqPath := c.Request.URL.Path

		if p.Excluded(reqPath) || p.IsPublic(reqPath) {
			c.Next()
			return
		}

		if token, err := c.Cookie(p.CookieName); err != nil || token == "" {
			c.Redirect(http.StatusFound, p.LoginURL(reqPath))
			c.Abort()
			return
		}

		if p.IsAdminPath(reqPath) {
			c.Set(AdminPathKey, true)
		}
		c.Next()
	}
}

// HTTPNavigator turns navigations into a single HTTP redirect on c.
type HTTPNavigator struct {
	c      *gin.Context
	target string
}

// NewHTTPNavigator creates a navigator for one request.
func NewHTTPNavigator(c *gin.Context) *HTTPNavigator {
	return &HTTPNavigator{c: c}
}

// Navigate writes a redirect unless a response was already started.
// Redirects answering a non-GET request use 303.
func (n *HTTPNavigator) Navigate(target string) {
	if n.target != "" || n.c.Writer.Written() {
		return
	}
	n.target = target
	status := http.StatusFound
	if n.c.Request.Method != http.MethodGet && n.c.Request.Method != http.MethodHead {
		status = http.StatusSeeOther
	}
	n.c.Redirect(status, target)
}

// Target returns the redirect written, if any.
func (n *HTTPNavigator) Target() string {
	return n.target
}

// StoreFactory creates the session store of one request.
type StoreFactory func(c *gin.Context, nav session.Navigator) *session.Store

// RequireRoute is the in-page gate. It resolves a request-scoped session
// store, evaluates route and either continues with the store available
// through StoreFrom or aborts with the guard's redirect.
func RequireRoute(p *Policy, route Route, newStore StoreFactory) gin.HandlerFunc {
	return func(c *gin.Context) {
		nav := NewHTTPNavigator(c)
		store := newStore(c, nav)
		defer store.Close()

		if err := store.Init(c.Request.Context()); err != nil {
			log.Printf("Session init for %s: %v", c.Request.URL.Path, err)
		}

		guard := NewGuard(p, store, nav, route, c.Request.URL.Path)
		d := guard.Start()
		// The handler's own navigations (login, logout) take over from here.
		guard.Stop()
		if d.Outcome != Authorized {
			c.Abort()
			return
		}

		c.Set(StoreKey, store)
		c.Next()
	}
}

// StoreFrom returns the store installed by RequireRoute.
func StoreFrom(c *gin.Context) *session.Store {
	v, ok := c.Get(StoreKey)
	if !ok {
		return nil
	}
	store, _ := v.(*session.Store)
	return store
}
