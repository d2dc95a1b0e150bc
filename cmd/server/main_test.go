package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/escra-platform/portal/api"
	"github.com/escra-platform/portal/internal/config"
	"github.com/escra-platform/portal/internal/db"
	"github.com/escra-platform/portal/internal/gate"
	"github.com/escra-platform/portal/internal/identity"
	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/repository"
	"github.com/escra-platform/portal/internal/session"
	"github.com/escra-platform/portal/internal/status"
	"github.com/escra-platform/portal/internal/ws"
	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	color.NoColor = true
	gin.SetMode(gin.TestMode)
}

func TestStatusChannelURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/api/status/ws/contract/c-1", false},
		{"https://portal.escra.io/", "wss://portal.escra.io/api/status/ws/contract/c-1", false},
		{"https://portal.escra.io/gw?x=1", "wss://portal.escra.io/gw/api/status/ws/contract/c-1", false},
		{"ftp://portal", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := statusChannelURL(tt.base, model.EntityContract, "c-1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatFrame(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	frame := func(v interface{}) ws.Frame {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		return ws.Frame{Seq: 3, Data: data, ReceivedAt: at}
	}

	line := formatFrame(frame(ws.Message{
		Type:       ws.MessageTypeStatusChange,
		EntityType: model.EntityContract,
		EntityID:   "c-1",
		Change:     &model.StatusChange{OldStatus: "draft", NewStatus: "signed", ChangedBy: "ada"},
	}))
	assert.Equal(t, "15:04:05 #3 status_change contract/c-1 draft -> signed by ada", line)

	line = formatFrame(frame(ws.Message{
		Type:       ws.MessageTypeInitialStatus,
		EntityType: model.EntityContract,
		EntityID:   "c-1",
		Status:     &model.StatusTracking{CurrentStatus: "draft", IsBlocked: true, BlockingReason: "waiting on task/t-1"},
	}))
	assert.Equal(t, "15:04:05 #3 initial_status contract/c-1 draft blocked: waiting on task/t-1", line)

	line = formatFrame(ws.Frame{Seq: 1, Data: []byte("not json"), ReceivedAt: at})
	assert.Equal(t, "15:04:05 #1 not json", line)
}

func TestResolveSecret(t *testing.T) {
	secret, err := resolveSecret("configured")
	require.NoError(t, err)
	assert.Equal(t, []byte("configured"), secret)

	a, err := resolveSecret("")
	require.NoError(t, err)
	b, err := resolveSecret("")
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestNewRevoker(t *testing.T) {
	ctx := context.Background()

	rev, closeFn, err := newRevoker(ctx, config.RedisConfig{})
	require.NoError(t, err)
	closeFn()
	assert.IsType(t, &identity.MemoryRevoker{}, rev)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rev, closeFn, err = newRevoker(ctx, config.RedisConfig{Addr: mr.Addr(), Prefix: "portal:revoked:"})
	require.NoError(t, err)
	defer closeFn()
	require.NoError(t, rev.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))
	assert.True(t, mr.Exists("portal:revoked:jti-1"))

	addr := mr.Addr()
	mr.Close()
	_, _, err = newRevoker(ctx, config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestApplyToUser(t *testing.T) {
	database, err := db.NewTestDB()
	require.NoError(t, err)
	defer database.Close()

	users := repository.NewUserRepository(database)
	idSvc, err := identity.NewService(users, identity.NewTokenIssuer([]byte("cli-test"), time.Hour), nil, identity.Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	_, err = idSvc.Register(context.Background(), &model.RegisterRequest{
		Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Password: "secret123",
	})
	require.NoError(t, err)

	err = applyToUser(context.Background(), database, " ADA@example.com ", func(ctx context.Context, r *repository.UserRepository, u *model.User) error {
		return r.UpdateRole(ctx, u.ID, model.RoleAdmin)
	})
	require.NoError(t, err)

	u, err := users.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, u.Role)

	err = applyToUser(context.Background(), database, "nobody@example.com", func(context.Context, *repository.UserRepository, *model.User) error {
		t.Fatal("fn called for unknown user")
		return nil
	})
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_LoginWhoamiLogout(t *testing.T) {
	database, err := db.NewTestDB()
	require.NoError(t, err)
	defer database.Close()

	users := repository.NewUserRepository(database)
	idSvc, err := identity.NewService(users, identity.NewTokenIssuer([]byte("cli-test"), time.Hour), nil, identity.Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	statusRepo := repository.NewStatusRepository(database)
	realtime := ws.NewService(statusRepo, nil)
	defer realtime.Close()

	srv := httptest.NewServer(api.NewRouter(api.Dependencies{
		Policy:   gate.DefaultPolicy(),
		Identity: idSvc,
		Status:   status.NewService(statusRepo, realtime),
		Realtime: realtime,
		TokenTTL: time.Hour,
	}))
	defer srv.Close()

	_, err = idSvc.Register(context.Background(), &model.RegisterRequest{
		Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", Password: "secret123",
	})
	require.NoError(t, err)

	dir := t.TempDir()
	common := []string{"--server", srv.URL, "--credentials-dir", dir}

	out, err := runCLI(t, append([]string{"login", "--email", "ada@example.com", "--password", "secret123"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as Ada Lovelace")

	creds, err := session.NewFileCredentials(dir)
	require.NoError(t, err)
	cred, err := creds.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cred)

	out, err = runCLI(t, append([]string{"whoami"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Ada Lovelace ada@example.com <viewer>")

	out, err = runCLI(t, append([]string{"logout"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out")

	cred, err = creds.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cred)

	out, err = runCLI(t, append([]string{"whoami"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Not signed in")

	_, err = runCLI(t, append([]string{"login", "--email", "ada@example.com", "--password", "wrong"}, common...)...)
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
}
