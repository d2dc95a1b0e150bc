package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/escra-platform/portal/internal/db"
	"github.com/escra-platform/portal/internal/gate"
	"github.com/escra-platform/portal/internal/identity"
	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/repository"
	"github.com/escra-platform/portal/internal/session"
	"github.com/escra-platform/portal/internal/status"
	"github.com/escra-platform/portal/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestRouter(t *testing.T, origins []string) (*gin.Engine, *identity.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	users := repository.NewUserRepository(database)
	idSvc, err := identity.NewService(users, identity.NewTokenIssuer([]byte("router-test-secret"), time.Hour), nil, identity.Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	statusRepo := repository.NewStatusRepository(database)
	realtime := ws.NewService(statusRepo, nil)
	t.Cleanup(realtime.Close)

	r := NewRouter(Dependencies{
		Policy:      gate.DefaultPolicy(),
		Identity:    idSvc,
		Status:      status.NewService(statusRepo, realtime),
		Realtime:    realtime,
		TokenTTL:    time.Hour,
		CORSOrigins: origins,
	})
	return r, idSvc
}

func serve(r *gin.Engine, method, path, cookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "auth_token", Value: cookie})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_EdgeRedirects(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	tests := []struct {
		path     string
		wantCode int
		wantLoc  string
	}{
		{"/dashboard", http.StatusFound, "/login?redirect=%2Fdashboard"},
		{"/admin-settings", http.StatusFound, "/login?redirect=%2Fadmin-settings"},
		{"/login", http.StatusOK, ""},
		{"/", http.StatusOK, ""},
		{"/api/health", http.StatusOK, ""},
		{"/api/auth/me", http.StatusUnauthorized, ""},
		{"/assets/app.js", http.StatusNotFound, ""},
		{"/logo.png", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := serve(r, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantLoc, w.Header().Get("Location"))
		})
	}
}

func TestRouter_LogoutWithoutCookie(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := serve(r, http.MethodPost, "/logout", "")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestRouter_PresenceThenVerification(t *testing.T) {
	r, idSvc := newTestRouter(t, nil)

	// The edge only checks presence; the in-page gate rejects the forgery.
	w := serve(r, http.MethodGet, "/dashboard", "forged")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?redirect=%2Fdashboard", w.Header().Get("Location"))

	res, err := idSvc.Register(context.Background(), &model.RegisterRequest{
		Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Password: "secret123",
	})
	require.NoError(t, err)

	w = serve(r, http.MethodGet, "/dashboard", res.Token)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "/dashboard", body["path"])

	w = serve(r, http.MethodGet, "/admin-settings", res.Token)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))
}

func TestRouter_LoginThroughHTTPAuthenticator(t *testing.T) {
	r, idSvc := newTestRouter(t, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	_, err := idSvc.Register(context.Background(), &model.RegisterRequest{
		Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Password: "secret123",
	})
	require.NoError(t, err)

	var landed []string
	creds := &session.MemoryCredentials{}
	auth := session.NewHTTPAuthenticator(srv.URL, srv.Client())
	store := session.NewStore(auth, creds, session.NavigatorFunc(func(target string) {
		landed = append(landed, target)
	}), session.Options{})
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	assert.False(t, store.IsAuthenticated())

	sess, err := store.Login(ctx, "ada@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", sess.DisplayName)
	assert.Equal(t, []string{"/dashboard"}, landed)

	// A fresh store verifies the persisted token with the gateway.
	again := session.NewStore(auth, creds, nil, session.Options{})
	defer again.Close()
	require.NoError(t, again.Init(ctx))
	assert.True(t, again.IsAuthenticated())

	again.Logout(ctx)
	assert.False(t, again.IsAuthenticated())

	third := session.NewStore(auth, creds, nil, session.Options{})
	defer third.Close()
	require.NoError(t, third.Init(ctx))
	assert.False(t, third.IsAuthenticated())

	_, err = store.Login(ctx, "ada@example.com", "bad-password")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestRouter_CORS(t *testing.T) {
	r, _ := newTestRouter(t, []string{"https://app.escra.io"})

	req := httptest.NewRequest(http.MethodOptions, "/dashboard", nil)
	req.Header.Set("Origin", "https://app.escra.io")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.escra.io", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "PUT"))
}
