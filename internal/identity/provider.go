// Package identity talks to the external identity provider (Supabase Auth).
package identity

import (
	"context"

	"qepo_backend/internal/model"
)

// Provider is the capability set the workflows need from the identity provider.
type Provider interface {
	CreateUser(ctx context.Context, email, password string) (*model.IdentityUser, error)
	DeleteUser(ctx context.Context, id string) error
	// FindUserByEmail returns model.ErrIdentityNotFound when no user has the email.
	FindUserByEmail(ctx context.Context, email string) (*model.IdentityUser, error)
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	// GetCurrentUser returns (nil, nil) when the token belongs to nobody.
	GetCurrentUser(ctx context.Context, accessToken string) (*model.IdentityUser, error)
	SignOut(ctx context.Context, accessToken string) error
}
