// Package gate decides whether a navigation may render. One Policy feeds
// both the edge middleware, which only checks that a credential cookie is
// present, and the in-page gate, which evaluates the verified session.
package gate

import (
	"net/url"
	"path"
	"strings"

	"github.com/escra-platform/portal/internal/config"
)

// Policy is the route allow-list shared by every gate layer.
type Policy struct {
	publicPaths      []string
	adminPrefixes    []string
	excludedPrefixes []string

	LoginPath     string
	LogoutPath    string
	LandingPath   string
	RedirectParam string
	CookieName    string
	CookieSecure  bool
}

// NewPolicy builds a policy from the routes and auth configuration.
func NewPolicy(routes config.RoutesConfig, auth config.AuthConfig) *Policy {
	if routes.LogoutPath == "" {
		routes.LogoutPath = "/logout"
	}
	return &Policy{
		publicPaths:      clone(routes.PublicPaths),
		adminPrefixes:    clone(routes.AdminPrefixes),
		excludedPrefixes: clone(routes.ExcludedPrefixes),
		LoginPath:        routes.LoginPath,
		LogoutPath:       routes.LogoutPath,
		LandingPath:      routes.LandingPath,
		RedirectParam:    routes.RedirectParam,
		CookieName:       auth.CookieName,
		CookieSecure:     auth.CookieSecure,
	}
}

// DefaultPolicy is the policy of the default configuration.
func DefaultPolicy() *Policy {
	cfg := config.Default()
	return NewPolicy(cfg.Routes, cfg.Auth)
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}

// PublicPaths returns the allow-list.
func (p *Policy) PublicPaths() []string {
	return clone(p.publicPaths)
}

// IsPublic reports whether path needs no session. A public entry matches
// itself and everything below it; "/" matches only the root. The logout
// path is always public so signing out never bounces through the login page.
func (p *Policy) IsPublic(reqPath string) bool {
	if p.LogoutPath != "" && reqPath == p.LogoutPath {
		return true
	}
	for _, pub := range p.publicPaths {
		if pub == "/" {
			if reqPath == "/" {
				return true
			}
			continue
		}
		if underPrefix(reqPath, pub) {
			return true
		}
	}
	return false
}

// IsAdminPath reports whether path requires the admin role.
func (p *Policy) IsAdminPath(reqPath string) bool {
	for _, prefix := range p.adminPrefixes {
		if underPrefix(reqPath, prefix) {
			return true
		}
	}
	return false
}

// Excluded reports whether the edge check skips path entirely: API routes,
// build assets and any path whose last segment has a file extension.
func (p *Policy) Excluded(reqPath string) bool {
	for _, prefix := range p.excludedPrefixes {
		if underPrefix(reqPath, prefix) {
			return true
		}
	}
	return path.Ext(path.Base(reqPath)) != ""
}

// underPrefix matches prefix on whole segments: "/api" covers "/api" and
// "/api/x" but not "/apix".
func underPrefix(reqPath, prefix string) bool {
	return reqPath == prefix || strings.HasPrefix(reqPath, prefix+"/")
}

// LoginURL is the login page carrying original as the return target.
func (p *Policy) LoginURL(original string) string {
	if original == "" || original == p.LoginPath {
		return p.LoginPath
	}
	return p.LoginPath + "?" + url.Values{p.RedirectParam: []string{original}}.Encode()
}

// RouteFor returns the in-page gate route for a request path.
func (p *Policy) RouteFor(reqPath string) Route {
	if p.IsPublic(reqPath) {
		return Route{RequireAuth: false, RedirectTo: p.LoginPath}
	}
	return Route{
		RequireAuth:  true,
		RequireAdmin: p.IsAdminPath(reqPath),
		RedirectTo:   p.LoginPath,
	}
}
