package gate

import (
	"time"

	"github.com/escra-platform/portal/internal/session"
)

// Outcome is the state of one gate evaluation.
type Outcome int

const (
	Loading Outcome = iota
	Authorized
	Redirecting
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Authorized:
		return "authorized"
	case Redirecting:
		return "redirecting"
	}
	return "unknown"
}

// Route is the gate metadata of a page.
type Route struct {
	RequireAuth  bool
	RequireAdmin bool
	// RedirectTo defaults to the login page.
	RedirectTo string
}

// ProtectedRoute is a page that needs any session.
func ProtectedRoute() Route {
	return Route{RequireAuth: true}
}

// AdminRoute is a page that needs an admin session.
func AdminRoute() Route {
	return Route{RequireAuth: true, RequireAdmin: true}
}

// Decision is the derived result of an evaluation. Target is set only when
// redirecting.
type Decision struct {
	Outcome Outcome
	Target  string
}

// Evaluate decides whether path may render for the given store state.
func (p *Policy) Evaluate(st session.State, route Route, reqPath string, now time.Time) Decision {
	if st.Loading {
		return Decision{Outcome: Loading}
	}

	if route.RequireAuth && !st.IsAuthenticated(now) {
		target := route.RedirectTo
		if target == "" || target == p.LoginPath {
			target = p.LoginURL(reqPath)
		}
		return Decision{Outcome: Redirecting, Target: target}
	}

	if route.RequireAdmin && !st.Session.IsAdmin() {
		return Decision{Outcome: Redirecting, Target: p.LandingPath}
	}

	return Decision{Outcome: Authorized}
}
