package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/escra-platform/portal/internal/gate"
	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/session"
	"github.com/gin-gonic/gin"
)

// Page paths served by the portal.
var (
	publicPages = map[string]string{
		"/":                "Escra",
		"/login":           "Sign in",
		"/register":        "Create account",
		"/pricing":         "Pricing",
		"/forgot-password": "Reset password",
	}
	protectedPages = map[string]string{
		"/dashboard":  "Dashboard",
		"/contracts":  "Contracts",
		"/signatures": "Signatures",
		"/workflows":  "Workflows",
		"/tasks":      "Tasks",
		"/profile":    "Profile",
	}
	adminPages = map[string]string{
		"/admin-settings": "Admin settings",
	}
)

// PageResponse describes a rendered portal page.
type PageResponse struct {
	Path   string         `json:"path"`
	Title  string         `json:"title"`
	Public bool           `json:"public"`
	Admin  bool           `json:"admin,omitempty"`
	User   *model.Session `json:"user,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// PageHandler serves the portal pages behind the route gate.
type PageHandler struct {
	policy *gate.Policy
	auth   session.Authenticator
	ttl    time.Duration
}

// NewPageHandler creates a new PageHandler. Sessions are verified with auth
// and persisted in the policy's credential cookie.
func NewPageHandler(policy *gate.Policy, auth session.Authenticator, ttl time.Duration) *PageHandler {
	return &PageHandler{policy: policy, auth: auth, ttl: ttl}
}

// NewStore creates the request-scoped session store backed by the
// credential cookie.
func (h *PageHandler) NewStore(c *gin.Context, nav session.Navigator) *session.Store {
	creds := session.NewCookieCredentials(c, h.policy.CookieName, h.policy.CookieSecure)
	return session.NewStore(h.auth, creds, nav, session.Options{
		TTL:         h.ttl,
		LandingPath: h.policy.LandingPath,
		LoginPath:   h.policy.LoginPath,
	})
}

func (h *PageHandler) publicPage(c *gin.Context) {
	c.JSON(http.StatusOK, PageResponse{
		Path:   c.FullPath(),
		Title:  publicPages[c.FullPath()],
		Public: true,
	})
}

func (h *PageHandler) protectedPage(title string, admin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, PageResponse{
			Path:  c.FullPath(),
			Title: title,
			Admin: admin,
			User:  gate.StoreFrom(c).Session(),
		})
	}
}

// Login handles POST /login from the sign-in form.
func (h *PageHandler) Login(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")
	if email == "" || password == "" {
		c.JSON(http.StatusBadRequest, PageResponse{
			Path:   h.policy.LoginPath,
			Title:  publicPages["/login"],
			Public: true,
			Error:  "Email and password are required",
		})
		return
	}

	nav := gate.NewHTTPNavigator(c)
	store := h.NewStore(c, nav)
	defer store.Close()

	redirect := c.Query(h.policy.RedirectParam)
	if _, err := store.LoginWithRedirect(c.Request.Context(), email, password, redirect); err != nil {
		status := http.StatusUnauthorized
		message := "Invalid email or password"
		if errors.Is(err, model.ErrNetworkFailure) {
			status = http.StatusBadGateway
			message = "Sign-in is unavailable, try again later"
			log.Printf("Login failed for %s: %v", email, err)
		}
		c.JSON(status, PageResponse{
			Path:   h.policy.LoginPath,
			Title:  publicPages["/login"],
			Public: true,
			Error:  message,
		})
	}
}

// Logout handles POST on the policy's logout path.
func (h *PageHandler) Logout(c *gin.Context) {
	nav := gate.NewHTTPNavigator(c)
	store := h.NewStore(c, nav)
	defer store.Close()

	store.Logout(c.Request.Context())
	if nav.Target() == "" {
		c.Redirect(http.StatusSeeOther, h.policy.LoginPath)
	}
}

// RegisterRoutes registers the page routes on the engine.
func (h *PageHandler) RegisterRoutes(r gin.IRoutes) {
	for path := range publicPages {
		r.GET(path, h.publicPage)
	}
	protected := gate.RequireRoute(h.policy, gate.ProtectedRoute(), h.NewStore)
	for path, title := range protectedPages {
		r.GET(path, protected, h.protectedPage(title, false))
	}
	admin := gate.RequireRoute(h.policy, gate.AdminRoute(), h.NewStore)
	for path, title := range adminPages {
		r.GET(path, admin, h.protectedPage(title, true))
	}

	r.POST("/login", h.Login)
	r.POST(h.policy.LogoutPath, h.Logout)
}
