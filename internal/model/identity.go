package model

import (
	"errors"
	"fmt"
	"time"
)

// Error codes returned by the identity provider that the API distinguishes.
const (
	IdentityCodeInvalidCredentials = "invalid_credentials"
	IdentityCodeEmailNotConfirmed  = "email_not_confirmed"
	IdentityCodeEmailExists        = "email_exists"
	IdentityCodeUserNotFound       = "user_not_found"
	IdentityCodeUnknown            = "unknown"
)

// IdentityUser is the slice of the identity provider's user we rely on.
type IdentityUser struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is returned by a successful sign in.
type Session struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int           `json:"expires_in"`
	User         *IdentityUser `json:"user,omitempty"`
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrEmailTaken         = errors.New("email already registered")
	ErrIdentityNotFound   = errors.New("identity user not found")

	// ErrIdentityProvider covers every identity failure without a known code.
	ErrIdentityProvider = errors.New("identity provider error")

	// ErrIdentityUnavailable means the call did not complete (timeout or
	// transport failure), so its outcome is unknown.
	ErrIdentityUnavailable = errors.New("identity provider unavailable")
)

// IdentityError is a definite error response from the identity provider.
type IdentityError struct {
	Status  int
	Code    string
	Message string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity provider: status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

// Is maps provider codes onto the package sentinels.
func (e *IdentityError) Is(target error) bool {
	switch target {
	case ErrIdentityProvider:
		return true
	case ErrInvalidCredentials:
		return e.Code == IdentityCodeInvalidCredentials
	case ErrEmailNotConfirmed:
		return e.Code == IdentityCodeEmailNotConfirmed
	case ErrEmailTaken:
		return e.Code == IdentityCodeEmailExists
	case ErrIdentityNotFound:
		return e.Code == IdentityCodeUserNotFound
	}
	return false
}
