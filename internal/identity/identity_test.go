package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/escra-platform/portal/internal/db"
	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var testSecret = []byte("test-secret-key-for-identity")

func setupTestService(t *testing.T, revoker Revoker) *Service {
	t.Helper()
	database, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	svc, err := NewService(
		repository.NewUserRepository(database),
		NewTokenIssuer(testSecret, 7*24*time.Hour),
		revoker,
		Config{BcryptCost: bcrypt.MinCost},
	)
	require.NoError(t, err)
	return svc
}

func register(t *testing.T, svc *Service, email string) *AuthResult {
	t.Helper()
	res, err := svc.Register(context.Background(), &model.RegisterRequest{
		Email:     email,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  "correct horse",
	})
	require.NoError(t, err)
	return res
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	user := &model.User{ID: "u1", Email: "a@b.c", Role: model.RoleEditor}

	token, claims, err := issuer.Generate(user)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	got, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Subject)
	assert.Equal(t, model.RoleEditor, got.Role)
	assert.Equal(t, claims.ID, got.ID)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, time.Hour)
	user := &model.User{ID: "u1", Email: "a@b.c", Role: model.RoleViewer}

	t.Run("wrong secret", func(t *testing.T) {
		token, _, err := NewTokenIssuer([]byte("other"), time.Hour).Generate(user)
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		assert.ErrorIs(t, err, model.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		past := NewTokenIssuer(testSecret, time.Hour)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, _, err := past.Generate(user)
		require.NoError(t, err)
		_, err = issuer.Verify(token)
		assert.ErrorIs(t, err, model.ErrInvalidToken)
	})

	t.Run("alg none", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "jti": "x", "exp": time.Now().Add(time.Hour).Unix()})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Verify(signed)
		assert.ErrorIs(t, err, model.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Verify("not-a-token")
		assert.ErrorIs(t, err, model.ErrInvalidToken)
	})
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc := setupTestService(t, nil)
	ctx := context.Background()

	reg := register(t, svc, "Ada@Example.com")
	assert.Equal(t, "ada@example.com", reg.User.Email)
	assert.Equal(t, model.RoleViewer, reg.User.Role)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), reg.ExpiresAt, time.Minute)

	_, err := svc.Register(ctx, &model.RegisterRequest{Email: "ada@example.com", FirstName: "A", LastName: "B", Password: "secret"})
	assert.ErrorIs(t, err, model.ErrEmailTaken)

	res, err := svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.Equal(t, "Ada Lovelace", res.Session().DisplayName)

	_, err = svc.Login(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestService_LoginDisabledAccount(t *testing.T) {
	database, err := db.NewTestDB()
	require.NoError(t, err)
	defer database.Close()

	users := repository.NewUserRepository(database)
	svc, err := NewService(users, NewTokenIssuer(testSecret, time.Hour), nil, Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	reg := register(t, svc, "grace@example.com")
	require.NoError(t, users.SetActive(context.Background(), reg.User.ID, false))

	_, err = svc.Login(context.Background(), "grace@example.com", "correct horse")
	assert.ErrorIs(t, err, model.ErrAccountDisabled)

	_, _, err = svc.Authenticate(context.Background(), reg.Token)
	assert.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestService_LogoutRevokes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	svc := setupTestService(t, NewRedisRevoker(rdb, "portal:revoked:"))
	ctx := context.Background()
	reg := register(t, svc, "ada@example.com")

	user, _, err := svc.Authenticate(ctx, reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, user.ID)

	require.NoError(t, svc.Logout(ctx, reg.Token))
	_, _, err = svc.Authenticate(ctx, reg.Token)
	assert.ErrorIs(t, err, model.ErrInvalidToken)

	claims, err := svc.tokens.Verify(reg.Token)
	require.NoError(t, err)
	assert.True(t, mr.Exists("portal:revoked:"+claims.ID))
	assert.Greater(t, mr.TTL("portal:revoked:"+claims.ID), 6*24*time.Hour)

	// Logging out an invalid token is a no-op.
	assert.NoError(t, svc.Logout(ctx, "not-a-token"))
}

func TestService_UpdateProfile(t *testing.T) {
	svc := setupTestService(t, nil)
	reg := register(t, svc, "ada@example.com")

	last := "Byron"
	user, err := svc.UpdateProfile(context.Background(), reg.User.ID, model.ProfileUpdate{LastName: &last})
	require.NoError(t, err)
	assert.Equal(t, "Byron", user.LastName)

	_, err = svc.UpdateProfile(context.Background(), reg.User.ID, model.ProfileUpdate{})
	assert.True(t, errors.Is(err, model.ErrNothingToUpdate))
}

func TestMemoryRevoker_Expiry(t *testing.T) {
	r := NewMemoryRevoker()
	now := time.Now()
	r.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, r.Revoke(ctx, "a", now.Add(time.Minute)))
	require.NoError(t, r.Revoke(ctx, "b", now.Add(-time.Minute)))

	revoked, err := r.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = r.IsRevoked(ctx, "b")
	require.NoError(t, err)
	assert.False(t, revoked)

	now = now.Add(2 * time.Minute)
	revoked, err = r.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.False(t, revoked)
}
