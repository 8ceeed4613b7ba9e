package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"qepo_backend/internal/httputil"
	"qepo_backend/internal/logger"
	"qepo_backend/internal/model"
	"qepo_backend/internal/transport/http/middleware"
	"qepo_backend/internal/validation"
)

const maxJSONBody = 1 << 20 // 1MB is plenty for JSON

// Provisioner creates an account (identity user plus profile).
type Provisioner interface {
	Provision(ctx context.Context, email, password string) (*model.Profile, error)
}

// Authenticator fronts the identity provider's sessions.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*model.LoginResponse, error)
	SignOut(ctx context.Context, accessToken string) error
}

// AuthHandler groups auth-related HTTP endpoints and their dependencies.
type AuthHandler struct {
	provisioner Provisioner
	auth        Authenticator
	profiles    ProfileManager
}

// NewAuthHandler wires dependencies for authentication endpoints.
func NewAuthHandler(provisioner Provisioner, auth Authenticator, profiles ProfileManager) *AuthHandler {
	return &AuthHandler{
		provisioner: provisioner,
		auth:        auth,
		profiles:    profiles,
	}
}

// Register provisions a new account
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	profile, err := h.provisioner.Provision(r.Context(), req.Email, req.Password)
	if err != nil {
		l := logger.Ctx(r.Context())
		if fields, ok := validation.AsErrors(err); ok {
			writeValidation(w, fields)
			return
		}
		switch {
		case errors.Is(err, model.ErrEmailTaken):
			httputil.WriteFieldErrors(w, http.StatusConflict, model.CodeEmailTaken, "Email already registered",
				map[string]string{"email": "Email already registered"})
		case errors.Is(err, model.ErrCompensationFailed):
			l.Error().Err(err).Msg("registration left an orphaned identity user")
			httputil.WriteInternalError(w, "Could not create account, please try again later")
		case errors.Is(err, model.ErrProfileCreationFailed):
			l.Error().Err(err).Msg("registration rolled back")
			httputil.WriteInternalError(w, "Could not create account, please try again")
		case errors.Is(err, model.ErrIdentityUnavailable):
			l.Warn().Err(err).Msg("identity provider unavailable during registration")
			httputil.WriteUnavailable(w, httputil.ErrCodeUnavailable, "Sign up is temporarily unavailable")
		default:
			l.Error().Err(err).Msg("registration failed")
			httputil.WriteInternalError(w, "Could not create account")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, profile)
}

// Login exchanges credentials for a session
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	resp, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if fields, ok := validation.AsErrors(err); ok {
			writeValidation(w, fields)
			return
		}
		switch {
		case errors.Is(err, model.ErrInvalidCredentials):
			httputil.WriteFieldErrors(w, http.StatusUnauthorized, model.CodeInvalidCredentials, "Invalid email or password",
				map[string]string{"email": "Invalid email or password", "password": "Invalid email or password"})
		case errors.Is(err, model.ErrEmailNotConfirmed):
			httputil.WriteFieldErrors(w, http.StatusForbidden, model.CodeEmailNotConfirmed, "Email not confirmed",
				map[string]string{"email": "Please confirm your email before signing in"})
		case errors.Is(err, model.ErrIdentityUnavailable):
			httputil.WriteUnavailable(w, httputil.ErrCodeUnavailable, "Sign in is temporarily unavailable")
		default:
			logger.Ctx(r.Context()).Error().Err(err).Msg("login failed")
			httputil.WriteInternalError(w, "Failed to login")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Logout ends the caller's session at the identity provider
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.GetAccessToken(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	if err := h.auth.SignOut(r.Context(), token); err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("logout failed")
		httputil.WriteInternalError(w, "Failed to logout")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// Me returns the current user's profile
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, model.ErrProfileNotFound) {
			httputil.WriteNotFound(w, "Profile not found")
			return
		}
		logger.Ctx(r.Context()).Error().Err(err).Msg("load profile failed")
		httputil.WriteInternalError(w, "Failed to get profile")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.MeResponse{Profile: profile})
}

func writeValidation(w http.ResponseWriter, fields validation.Errors) {
	httputil.WriteFieldErrors(w, http.StatusBadRequest, model.CodeValidationFailed, "Please correct the highlighted fields", fields)
}
