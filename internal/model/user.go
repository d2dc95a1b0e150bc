package model

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Role is a portal user role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
	RoleEditor  Role = "editor"
	RoleViewer  Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCreator, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

// User is a portal account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DisplayName joins first and last name, falling back to the email.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// RegisterRequest is the payload for creating an account.
type RegisterRequest struct {
	Email     string `json:"email" binding:"required"`
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName" binding:"required"`
	Password  string `json:"password" binding:"required"`
	Role      Role   `json:"role"`
}

// Validate checks field constraints and fills the default role.
func (r *RegisterRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if n := len(r.FirstName); n < 1 || n > 100 {
		return fmt.Errorf("%w: firstName must be 1-100 characters", ErrValidation)
	}
	if n := len(r.LastName); n < 1 || n > 100 {
		return fmt.Errorf("%w: lastName must be 1-100 characters", ErrValidation)
	}
	if len(r.Password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	if r.Role == "" {
		r.Role = RoleViewer
	}
	if !r.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, r.Role)
	}
	return nil
}

// LoginRequest is the payload for password login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ProfileUpdate carries optional profile fields.
type ProfileUpdate struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
}

// Empty reports whether the update has no fields set.
func (p ProfileUpdate) Empty() bool {
	return (p.FirstName == nil || *p.FirstName == "") && (p.LastName == nil || *p.LastName == "")
}
