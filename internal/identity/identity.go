// Package identity defines the boundary to the external identity service that
// verifies credentials and issues session tokens.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrInvalidCredentials is returned when the identity service rejects the
	// email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNetwork is returned when the identity service cannot be reached or
	// answers with an unexpected response.
	ErrNetwork = errors.New("identity service unavailable")
)

// User is the identity supplied by the identity service. It is treated as an
// immutable value for the lifetime of one authenticated session.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	// Token is the opaque session token issued with this identity
	Token string `json:"-"`
}

// Listener receives sign-in state changes. A nil user means signed out.
type Listener func(user *User)

// Service is the identity service consumed by the console.
//
// Implementations deliver at most one notification at a time, in the order
// the sign-in state changed. Login and Logout complete before or after their
// notification; callers must not assume either order.
type Service interface {
	Subscribe(listener Listener) (unsubscribe func())
	Login(ctx context.Context, email, password string) (*User, error)
	Logout(ctx context.Context) error
}

// SameUser reports whether a and b describe the same signed-in state.
func SameUser(a, b *User) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID && a.Token == b.Token
}
