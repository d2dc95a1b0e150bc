package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Credential is a persisted bearer token.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Email     string    `json:"email,omitempty"`
}

// Expired reports whether the credential carries an expiry that has passed.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// CredentialStore persists the session token between store lifetimes.
// Load returns nil without error when nothing is stored.
type CredentialStore interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Clear(ctx context.Context) error
}

// MemoryCredentials holds the credential in memory.
type MemoryCredentials struct {
	mu   sync.Mutex
	cred *Credential
}

var _ CredentialStore = (*MemoryCredentials)(nil)

func (m *MemoryCredentials) Load(ctx context.Context) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return nil, nil
	}
	c := *m.cred
	return &c, nil
}

func (m *MemoryCredentials) Save(ctx context.Context, cred *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	m.cred = &c
	return nil
}

func (m *MemoryCredentials) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = nil
	return nil
}

const credentialsFile = "credentials.json"

// FileCredentials stores the credential as a JSON file, for the CLI.
type FileCredentials struct {
	path string
}

var _ CredentialStore = (*FileCredentials)(nil)

// NewFileCredentials creates a file store inside dir, creating dir if needed.
// An empty dir selects ~/.portal.
func NewFileCredentials(dir string) (*FileCredentials, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, ".portal")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}
	return &FileCredentials{path: filepath.Join(dir, credentialsFile)}, nil
}

// Path returns the credentials file location.
func (f *FileCredentials) Path() string {
	return f.path
}

func (f *FileCredentials) Load(ctx context.Context) (*Credential, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	if cred.Token == "" {
		return nil, nil
	}
	return &cred, nil
}

func (f *FileCredentials) Save(ctx context.Context, cred *Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return os.WriteFile(f.path, data, 0600)
}

func (f *FileCredentials) Clear(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

// CookieCredentials reads and writes the credential cookie of one request.
type CookieCredentials struct {
	c      *gin.Context
	name   string
	secure bool
}

var _ CredentialStore = (*CookieCredentials)(nil)

// NewCookieCredentials binds a credential store to the cookie name on c.
func NewCookieCredentials(c *gin.Context, name string, secure bool) *CookieCredentials {
	return &CookieCredentials{c: c, name: name, secure: secure}
}

func (k *CookieCredentials) Load(ctx context.Context) (*Credential, error) {
	token, err := k.c.Cookie(k.name)
	if err != nil || token == "" {
		return nil, nil
	}
	return &Credential{Token: token}, nil
}

func (k *CookieCredentials) Save(ctx context.Context, cred *Credential) error {
	maxAge := 0
	if !cred.ExpiresAt.IsZero() {
		maxAge = int(time.Until(cred.ExpiresAt).Seconds())
		if maxAge <= 0 {
			return k.Clear(ctx)
		}
	}
	k.c.SetSameSite(http.SameSiteLaxMode)
	k.c.SetCookie(k.name, cred.Token, maxAge, "/", "", k.secure, true)
	return nil
}

func (k *CookieCredentials) Clear(ctx context.Context) error {
	k.c.SetSameSite(http.SameSiteLaxMode)
	k.c.SetCookie(k.name, "", -1, "/", "", k.secure, true)
	return nil
}
