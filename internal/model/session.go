package model

import (
	"time"
)

// Session is the authenticated identity held by a session store.
type Session struct {
	UserID      string     `json:"userId"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Role        Role       `json:"role"`
	Token       string     `json:"-"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Valid reports whether the session carries a token that has not expired at now.
// A session without an expiry is valid for as long as it is held.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.Token == "" {
		return false
	}
	if s.ExpiresAt != nil && !now.Before(*s.ExpiresAt) {
		return false
	}
	return true
}

// IsAdmin reports whether the session holds the admin role.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// SessionFromUser builds a session for a freshly issued token.
func SessionFromUser(u *User, token string, expiresAt time.Time) *Session {
	exp := expiresAt
	return &Session{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName(),
		Role:        u.Role,
		Token:       token,
		ExpiresAt:   &exp,
	}
}
