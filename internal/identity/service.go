// Package identity is the issuing authority for portal session tokens:
// account registration, password login, token verification and revocation.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Session converts the result into the session shape held by a session store.
func (r *AuthResult) Session() *model.Session {
	return model.SessionFromUser(r.User, r.Token, r.ExpiresAt)
}

// Config holds service tuning.
type Config struct {
	BcryptCost int
}

// Service implements the identity endpoints.
type Service struct {
	users     *repository.UserRepository
	tokens    *TokenIssuer
	revoker   Revoker
	cost      int
	dummyHash []byte
}

// NewService creates a new identity service.
func NewService(users *repository.UserRepository, tokens *TokenIssuer, revoker Revoker, cfg Config) (*Service, error) {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}

	// Compared against when the email is unknown so both failure paths cost a bcrypt round.
	dummy, err := bcrypt.GenerateFromPassword([]byte("portal-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare password hasher: %w", err)
	}

	return &Service{
		users:     users,
		tokens:    tokens,
		revoker:   revoker,
		cost:      cost,
		dummyHash: dummy,
	}, nil
}

// Register creates an account and signs the new user in.
func (s *Service) Register(ctx context.Context, req *model.RegisterRequest) (*AuthResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	log.Printf("Registered user %s (%s)", user.ID, user.Role)
	return s.issue(user)
}

// Login verifies credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, model.NewAuthError(model.AuthInvalidCredentials, nil)
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.NewAuthError(model.AuthInvalidCredentials, nil)
	}
	if !user.IsActive {
		return nil, model.ErrAccountDisabled
	}

	return s.issue(user)
}

func (s *Service) issue(user *model.User) (*AuthResult, error) {
	token, claims, err := s.tokens.Generate(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      user,
	}, nil
}

// Authenticate verifies a token and returns the user it was issued to.
// Revoked tokens, deleted users and deactivated accounts are invalid tokens.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, *Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, nil, err
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, model.NewAuthError(model.AuthInvalidToken, errors.New("token revoked"))
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, nil, model.NewAuthError(model.AuthInvalidToken, err)
		}
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, model.NewAuthError(model.AuthInvalidToken, model.ErrAccountDisabled)
	}
	return user, claims, nil
}

// Logout revokes token until its natural expiry. Tokens that no longer
// verify need no revocation.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		log.Printf("Failed to revoke token %s: %v", claims.ID, err)
		return err
	}
	return nil
}

// UpdateProfile changes the name fields of a user.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.User, error) {
	if update.FirstName != nil && len(*update.FirstName) > 100 {
		return nil, fmt.Errorf("%w: firstName must be at most 100 characters", model.ErrValidation)
	}
	if update.LastName != nil && len(*update.LastName) > 100 {
		return nil, fmt.Errorf("%w: lastName must be at most 100 characters", model.ErrValidation)
	}
	return s.users.UpdateProfile(ctx, userID, update)
}
