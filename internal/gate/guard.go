package gate

import (
	"sync"
	"time"

	"github.com/escra-platform/portal/internal/session"
)

// Guard keeps one page's decision in step with a session store and issues
// its redirects. A redirect to the target already navigated to is skipped.
type Guard struct {
	policy *Policy
	store  *session.Store
	nav    session.Navigator
	route  Route
	path   string
	now    func() time.Time

	mu          sync.Mutex
	decision    Decision
	lastTarget  string
	unsubscribe func()
}

// NewGuard binds route at path to store.
func NewGuard(policy *Policy, store *session.Store, nav session.Navigator, route Route, reqPath string) *Guard {
	return &Guard{
		policy: policy,
		store:  store,
		nav:    nav,
		route:  route,
		path:   reqPath,
		now:    time.Now,
	}
}

// Start evaluates against the current state and re-evaluates on every
// store change until Stop.
func (g *Guard) Start() Decision {
	g.mu.Lock()
	if g.unsubscribe == nil {
		g.unsubscribe = g.store.Subscribe(g.apply)
	}
	g.mu.Unlock()

	g.apply(g.store.State())
	return g.Decision()
}

// Stop detaches the guard from the store.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
}

// Decision returns the latest evaluation.
func (g *Guard) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision
}

func (g *Guard) apply(st session.State) {
	d := g.policy.Evaluate(st, g.route, g.path, g.now())

	g.mu.Lock()
	g.decision = d
	navigate := false
	switch {
	case d.Outcome != Redirecting:
		g.lastTarget = ""
	case d.Target != g.lastTarget:
		g.lastTarget = d.Target
		navigate = true
	}
	g.mu.Unlock()

	if navigate {
		g.nav.Navigate(d.Target)
	}
}
