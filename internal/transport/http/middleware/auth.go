package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"qepo_backend/internal/httputil"
	"qepo_backend/internal/logger"
	"qepo_backend/internal/model"
	"qepo_backend/internal/session"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// UserIDKey is the context key for the authenticated user's ID
	UserIDKey      contextKey = "user_id"
	accessTokenKey contextKey = "access_token"
	sessionKey     contextKey = "session"
)

// Paths the guards redirect to.
const (
	HomePath  = "/"
	LoginPath = "/login"
)

// UserResolver asks the identity provider who owns an access token. It
// returns (nil, nil) for a token nobody owns and an error when it cannot tell.
type UserResolver interface {
	CurrentUser(ctx context.Context, accessToken string) (*model.IdentityUser, error)
}

// Session is the resolved authentication state of a request.
type Session struct {
	State  session.State
	UserID string
	// Reason is a token error code (TOKEN_EXPIRED, TOKEN_INVALID) when a
	// token was sent but rejected.
	Reason string
}

// SessionResolver works out the session state of a request. With a JWT
// secret configured, tokens are verified locally; otherwise every request
// asks the identity provider.
type SessionResolver struct {
	jwtSecret []byte
	users     UserResolver
}

func NewSessionResolver(jwtSecret string, users UserResolver) *SessionResolver {
	r := &SessionResolver{users: users}
	if jwtSecret != "" {
		r.jwtSecret = []byte(jwtSecret)
	}
	return r
}

// Resolve never fails; an answer it cannot get is reported as session.Unknown.
func (s *SessionResolver) Resolve(ctx context.Context, token string) Session {
	if token == "" {
		return Session{State: session.Unauthenticated}
	}
	if s.jwtSecret != nil {
		return s.verifyLocal(token)
	}
	if s.users == nil {
		return Session{State: session.Unknown}
	}

	user, err := s.users.CurrentUser(ctx, token)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("session lookup failed")
		return Session{State: session.Unknown}
	}
	if user == nil || user.ID == "" {
		return Session{State: session.Unauthenticated, Reason: model.CodeTokenInvalid}
	}
	return Session{State: session.Authenticated, UserID: user.ID}
}

func (s *SessionResolver) verifyLocal(tokenString string) Session {
	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{State: session.Unauthenticated, Reason: model.CodeTokenExpired}
		}
		return Session{State: session.Unauthenticated, Reason: model.CodeTokenInvalid}
	}

	// sub is the identity provider's user id.
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return Session{State: session.Unauthenticated, Reason: model.CodeTokenInvalid}
	}
	return Session{State: session.Authenticated, UserID: claims.Subject}
}

// Middleware resolves the session and stores it in the request context. It
// never rejects a request; GuestOnly and MemberOnly do that.
func (s *SessionResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		sess := s.Resolve(r.Context(), token)

		ctx := context.WithValue(r.Context(), sessionKey, sess)
		if sess.State == session.Authenticated {
			ctx = context.WithValue(ctx, UserIDKey, sess.UserID)
			ctx = context.WithValue(ctx, accessTokenKey, token)
			l := logger.Ctx(ctx).With().Str(logger.FieldUserID, sess.UserID).Logger()
			ctx = logger.WithLogger(ctx, l)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GuestOnly guards routes for signed-out callers (register, login).
func GuestOnly(next http.Handler) http.Handler {
	return guard(session.DecideGuestView, next)
}

// MemberOnly guards routes that need a signed-in caller.
func MemberOnly(next http.Handler) http.Handler {
	return guard(session.DecideMemberView, next)
}

func guard(decide func(session.State) session.Decision, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := GetSession(r.Context())

		switch decide(sess.State) {
		case session.Render:
			next.ServeHTTP(w, r)
		case session.RedirectHome:
			w.Header().Set("Location", HomePath)
			httputil.WriteConflictWithCode(w, model.CodeAlreadyAuthenticated, "Already signed in")
		case session.RedirectLogin:
			w.Header().Set("Location", LoginPath)
			switch sess.Reason {
			case model.CodeTokenExpired:
				httputil.WriteUnauthorizedWithCode(w, model.CodeTokenExpired, "Access token has expired")
			case model.CodeTokenInvalid:
				httputil.WriteUnauthorizedWithCode(w, model.CodeTokenInvalid, "Invalid authentication token")
			default:
				httputil.WriteUnauthorized(w, "Missing authentication token")
			}
		default:
			w.Header().Set("Retry-After", "1")
			httputil.WriteUnavailable(w, model.CodeSessionUnresolved, "Session could not be verified, try again")
		}
	})
}

// bearerToken checks the Authorization header first, then the access_token
// cookie set by web clients.
func bearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// GetSession returns the session stored by Middleware. Requests that never
// passed through it are Unknown.
func GetSession(ctx context.Context) Session {
	if sess, ok := ctx.Value(sessionKey).(Session); ok {
		return sess
	}
	return Session{State: session.Unknown}
}

// GetUserIDFromContext extracts the user ID from the request context
// Returns the user ID and true if found, or "" and false if not found
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// GetAccessToken returns the caller's access token for provider calls made on
// their behalf (sign out).
func GetAccessToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey).(string)
	return token, ok && token != ""
}
