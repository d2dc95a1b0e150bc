package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "auth_token", cfg.Auth.CookieName)
	assert.Equal(t, DefaultTokenTTL, cfg.Auth.TokenTTL)
	assert.Equal(t, []string{"/", "/login", "/register", "/pricing", "/forgot-password"}, cfg.Routes.PublicPaths)
	assert.Equal(t, []string{"/admin-settings"}, cfg.Routes.AdminPrefixes)
	assert.Equal(t, "/dashboard", cfg.Routes.LandingPath)
	assert.Equal(t, "/logout", cfg.Routes.LogoutPath)
}

func TestLoad_FileOverridesAndEnvExpansion(t *testing.T) {
	t.Setenv("PORTAL_TEST_SECRET", "s3cret")

	path := writeConfig(t, `
server:
  port: "9090"
auth:
  jwt_secret: ${PORTAL_TEST_SECRET}
  token_ttl: 2h
routes:
  public_paths: ["/", "/login/", "/pricing"]
  login_path: /login
  landing_path: /contracts
  redirect_param: next
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, []string{"/", "/login", "/pricing"}, cfg.Routes.PublicPaths)
	assert.Equal(t, "/contracts", cfg.Routes.LandingPath)
	assert.Equal(t, "next", cfg.Routes.RedirectParam)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("DB_PATH", "/tmp/x.db")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad duration", "auth:\n  token_ttl: soon\n"},
		{"login not public", "routes:\n  public_paths: [\"/\"]\n"},
		{"relative public path", "routes:\n  public_paths: [\"/login\", \"pricing\"]\n"},
		{"malformed yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
