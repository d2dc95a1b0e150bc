package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/escra-platform/portal/internal/identity"
	"github.com/escra-platform/portal/internal/model"
)

// Authenticator is the issuing service a Store talks to.
type Authenticator interface {
	// Login exchanges credentials for a session.
	Login(ctx context.Context, email, password string) (*model.Session, error)
	// Verify checks a persisted token and returns the session it belongs to.
	Verify(ctx context.Context, token string) (*model.Session, error)
	// Logout tells the issuer the token is no longer in use.
	Logout(ctx context.Context, token string) error
}

// LocalAuthenticator serves a Store from an in-process identity service.
type LocalAuthenticator struct {
	svc *identity.Service
}

var _ Authenticator = (*LocalAuthenticator)(nil)

// NewLocalAuthenticator wraps svc.
func NewLocalAuthenticator(svc *identity.Service) *LocalAuthenticator {
	return &LocalAuthenticator{svc: svc}
}

func (a *LocalAuthenticator) Login(ctx context.Context, email, password string) (*model.Session, error) {
	res, err := a.svc.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, model.ErrAccountDisabled) {
			return nil, model.NewAuthError(model.AuthInvalidCredentials, err)
		}
		return nil, err
	}
	return res.Session(), nil
}

func (a *LocalAuthenticator) Verify(ctx context.Context, token string) (*model.Session, error) {
	user, claims, err := a.svc.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return model.SessionFromUser(user, token, claims.ExpiresAt.Time), nil
}

func (a *LocalAuthenticator) Logout(ctx context.Context, token string) error {
	return a.svc.Logout(ctx, token)
}

// HTTPAuthenticator talks to a gateway's /api/auth endpoints.
type HTTPAuthenticator struct {
	baseURL string
	client  *http.Client
}

var _ Authenticator = (*HTTPAuthenticator)(nil)

// NewHTTPAuthenticator creates a client for the gateway at baseURL.
func NewHTTPAuthenticator(baseURL string, client *http.Client) *HTTPAuthenticator {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPAuthenticator{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type loginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   time.Time  `json:"expires_at"`
	User        model.User `json:"user"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *HTTPAuthenticator) Login(ctx context.Context, email, password string) (*model.Session, error) {
	body, err := json.Marshal(model.LoginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode login request: %w", err)
	}

	var out loginResponse
	status, err := a.do(ctx, http.MethodPost, "/api/auth/login", "", body, &out)
	switch status {
	case 0:
		return nil, err
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
		return nil, model.NewAuthError(model.AuthInvalidCredentials, err)
	default:
		return nil, model.NewAuthError(model.AuthNetworkFailure, err)
	}
	if out.AccessToken == "" {
		return nil, model.NewAuthError(model.AuthNetworkFailure, errors.New("response carried no token"))
	}
	s := model.SessionFromUser(&out.User, out.AccessToken, out.ExpiresAt)
	if out.ExpiresAt.IsZero() {
		s.ExpiresAt = nil
	}
	return s, nil
}

func (a *HTTPAuthenticator) Verify(ctx context.Context, token string) (*model.Session, error) {
	var user model.User
	status, err := a.do(ctx, http.MethodGet, "/api/auth/me", token, nil, &user)
	switch status {
	case 0:
		return nil, err
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, model.NewAuthError(model.AuthInvalidToken, err)
	default:
		return nil, model.NewAuthError(model.AuthNetworkFailure, err)
	}
	return &model.Session{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName(),
		Role:        user.Role,
		Token:       token,
	}, nil
}

func (a *HTTPAuthenticator) Logout(ctx context.Context, token string) error {
	_, err := a.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
	return err
}

// do performs a JSON request. Transport failures become network_failure
// auth errors with a zero status. For non-200 responses the status is
// returned with the server's message as the error.
func (a *HTTPAuthenticator) do(ctx context.Context, method, path, token string, body []byte, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, model.NewAuthError(model.AuthNetworkFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, model.NewAuthError(model.AuthNetworkFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
			return resp.StatusCode, errors.New(env.Error.Message)
		}
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return 0, model.NewAuthError(model.AuthNetworkFailure, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return resp.StatusCode, nil
}
