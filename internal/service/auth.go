package service

import (
	"context"
	"fmt"
	"time"

	"qepo_backend/internal/identity"
	"qepo_backend/internal/logger"
	"qepo_backend/internal/model"
	"qepo_backend/internal/validation"
)

// ProfileReader is the part of ProfileService the auth flow needs.
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// AuthService fronts the identity provider's session endpoints. Sessions are
// owned by the provider; nothing here stores tokens.
type AuthService struct {
	identity identity.Provider
	profiles ProfileReader
	timeout  time.Duration
}

func NewAuthService(idp identity.Provider, profiles ProfileReader, timeout time.Duration) *AuthService {
	if timeout <= 0 {
		timeout = DefaultIdentityTimeout
	}
	return &AuthService{identity: idp, profiles: profiles, timeout: timeout}
}

// SignIn exchanges credentials for a session and loads the caller's profile.
// Identity errors keep their codes (invalid_credentials, email_not_confirmed).
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	email = validation.NormalizeEmail(email)
	if err := validation.LoginCredentials(email, password); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	session, err := s.identity.SignIn(cctx, email, password)
	cancel()
	if err != nil {
		return nil, err
	}
	if session.User == nil || session.User.ID == "" {
		return nil, fmt.Errorf("%w: session without user", model.ErrIdentityProvider)
	}

	profile, err := s.profiles.GetProfile(ctx, session.User.ID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	logger.Audit(ctx, "auth.sign_in", profile.UserID, "signed in")
	return &model.LoginResponse{
		Profile:      profile,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresIn:    session.ExpiresIn,
	}, nil
}

// SignOut ends the session the access token belongs to.
func (s *AuthService) SignOut(ctx context.Context, accessToken string) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.identity.SignOut(cctx, accessToken)
}

// CurrentUser asks the provider who owns the token. (nil, nil) means nobody;
// an error means the answer is unknown.
func (s *AuthService) CurrentUser(ctx context.Context, accessToken string) (*model.IdentityUser, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.identity.GetCurrentUser(cctx, accessToken)
}
