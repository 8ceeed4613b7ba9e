package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qepo_backend/internal/httputil"
	"qepo_backend/internal/model"
	"qepo_backend/internal/session"
)

const (
	testSecret = "super-secret-jwt-token-with-at-least-32-characters"
	testUserID = "5f0c7a8e-4c1b-4b5e-9a57-2f6d5c3e9b10"
)

func signToken(t *testing.T, secret, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		Audience:  jwt.ClaimStrings{"authenticated"},
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

type mockResolver struct {
	user *model.IdentityUser
	err  error
}

func (m *mockResolver) CurrentUser(ctx context.Context, token string) (*model.IdentityUser, error) {
	return m.user, m.err
}

func TestResolve_LocalVerification(t *testing.T) {
	r := NewSessionResolver(testSecret, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		token      string
		wantState  session.State
		wantReason string
	}{
		{"no token", "", session.Unauthenticated, ""},
		{"valid", signToken(t, testSecret, testUserID, time.Now().Add(time.Hour)), session.Authenticated, ""},
		{"expired", signToken(t, testSecret, testUserID, time.Now().Add(-time.Hour)), session.Unauthenticated, model.CodeTokenExpired},
		{"wrong secret", signToken(t, "another-secret-another-secret-another", testUserID, time.Now().Add(time.Hour)), session.Unauthenticated, model.CodeTokenInvalid},
		{"sub not a uuid", signToken(t, testSecret, "42", time.Now().Add(time.Hour)), session.Unauthenticated, model.CodeTokenInvalid},
		{"garbage", "not-a-jwt", session.Unauthenticated, model.CodeTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(ctx, tt.token)
			assert.Equal(t, tt.wantState, got.State)
			assert.Equal(t, tt.wantReason, got.Reason)
			if tt.wantState == session.Authenticated {
				assert.Equal(t, testUserID, got.UserID)
			}
		})
	}
}

func TestResolve_RejectsNoneAlgorithm(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   testUserID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	got := NewSessionResolver(testSecret, nil).Resolve(context.Background(), s)
	assert.Equal(t, session.Unauthenticated, got.State)
}

func TestResolve_ProviderLookup(t *testing.T) {
	ctx := context.Background()

	got := NewSessionResolver("", &mockResolver{user: &model.IdentityUser{ID: "u1"}}).Resolve(ctx, "tok")
	assert.Equal(t, session.Authenticated, got.State)
	assert.Equal(t, "u1", got.UserID)

	got = NewSessionResolver("", &mockResolver{}).Resolve(ctx, "tok")
	assert.Equal(t, session.Unauthenticated, got.State)

	got = NewSessionResolver("", &mockResolver{err: errors.New("dial tcp: timeout")}).Resolve(ctx, "tok")
	assert.Equal(t, session.Unknown, got.State)
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusNoContent)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorDetail {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestMemberOnly(t *testing.T) {
	resolver := NewSessionResolver(testSecret, nil)

	t.Run("authenticated renders with user id in context", func(t *testing.T) {
		var gotID string
		h := resolver.Middleware(MemberOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotID, _ = GetUserIDFromContext(r.Context())
			token, ok := GetAccessToken(r.Context())
			assert.True(t, ok)
			assert.NotEmpty(t, token)
			w.WriteHeader(http.StatusNoContent)
		})))

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, testUserID, time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, testUserID, gotID)
	})

	t.Run("cookie token", func(t *testing.T) {
		called := false
		h := resolver.Middleware(MemberOnly(okHandler(&called)))

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: signToken(t, testSecret, testUserID, time.Now().Add(time.Hour))})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.True(t, called)
	})

	t.Run("anonymous is sent to login", func(t *testing.T) {
		called := false
		h := resolver.Middleware(MemberOnly(okHandler(&called)))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, LoginPath, rec.Header().Get("Location"))
		assert.Equal(t, httputil.ErrCodeUnauthorized, decodeError(t, rec).Code)
	})

	t.Run("expired token", func(t *testing.T) {
		called := false
		h := resolver.Middleware(MemberOnly(okHandler(&called)))

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, testUserID, time.Now().Add(-time.Minute)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, model.CodeTokenExpired, decodeError(t, rec).Code)
	})

	t.Run("unknown state renders nothing", func(t *testing.T) {
		called := false
		h := NewSessionResolver("", &mockResolver{err: errors.New("timeout")}).Middleware(MemberOnly(okHandler(&called)))

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		assert.Empty(t, rec.Header().Get("Location"))
		assert.Equal(t, model.CodeSessionUnresolved, decodeError(t, rec).Code)
	})
}

func TestGuestOnly(t *testing.T) {
	resolver := NewSessionResolver(testSecret, nil)

	t.Run("anonymous renders", func(t *testing.T) {
		called := false
		h := resolver.Middleware(GuestOnly(okHandler(&called)))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

		assert.True(t, called)
	})

	t.Run("expired token counts as signed out", func(t *testing.T) {
		called := false
		h := resolver.Middleware(GuestOnly(okHandler(&called)))

		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, testUserID, time.Now().Add(-time.Minute)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.True(t, called)
	})

	t.Run("signed in is sent home", func(t *testing.T) {
		called := false
		h := resolver.Middleware(GuestOnly(okHandler(&called)))

		req := httptest.NewRequest(http.MethodPost, "/auth/register", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, testUserID, time.Now().Add(time.Hour)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, HomePath, rec.Header().Get("Location"))
		assert.Equal(t, model.CodeAlreadyAuthenticated, decodeError(t, rec).Code)
	})
}

func TestGuardWithoutMiddlewareIsPending(t *testing.T) {
	called := false
	rec := httptest.NewRecorder()
	MemberOnly(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
