package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qepo_backend/internal/logger"
	"qepo_backend/internal/model"
)

// GoTrueClient calls the Supabase Auth (GoTrue) REST API. Admin operations use
// the service role key; user operations use the anon key plus the caller's
// access token.
type GoTrueClient struct {
	httpClient     *http.Client
	baseURL        string
	anonKey        string
	serviceRoleKey string
	autoConfirm    bool
}

// GoTrueConfig configures a GoTrueClient.
type GoTrueConfig struct {
	ProjectURL     string // e.g. https://<ref>.supabase.co
	AnonKey        string
	ServiceRoleKey string
	// AutoConfirm marks users created by CreateUser as email-confirmed.
	AutoConfirm bool
	Timeout     time.Duration
}

// NewGoTrueClient builds a client. The process keeps one instance; tests
// substitute a fake Provider instead.
func NewGoTrueClient(cfg GoTrueConfig) (*GoTrueClient, error) {
	if cfg.ProjectURL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("missing Supabase auth configuration")
	}
	if cfg.AnonKey == "" {
		cfg.AnonKey = cfg.ServiceRoleKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &GoTrueClient{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		baseURL:        strings.TrimSuffix(cfg.ProjectURL, "/") + "/auth/v1",
		anonKey:        cfg.AnonKey,
		serviceRoleKey: cfg.ServiceRoleKey,
		autoConfirm:    cfg.AutoConfirm,
	}, nil
}

type createUserRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	EmailConfirm bool   `json:"email_confirm,omitempty"`
}

type listUsersResponse struct {
	Users []model.IdentityUser `json:"users"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// errorResponse covers the error shapes GoTrue has used across versions.
type errorResponse struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func (c *GoTrueClient) CreateUser(ctx context.Context, email, password string) (*model.IdentityUser, error) {
	body := createUserRequest{Email: email, Password: password, EmailConfirm: c.autoConfirm}

	var user model.IdentityUser
	if err := c.do(ctx, http.MethodPost, "/admin/users", c.serviceRoleKey, c.serviceRoleKey, body, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, &model.IdentityError{Status: http.StatusOK, Code: model.IdentityCodeUnknown, Message: "create user response without id"}
	}
	return &user, nil
}

func (c *GoTrueClient) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), c.serviceRoleKey, c.serviceRoleKey, nil, nil)
}

func (c *GoTrueClient) FindUserByEmail(ctx context.Context, email string) (*model.IdentityUser, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("per_page", "50")
	q.Set("filter", email)

	var resp listUsersResponse
	if err := c.do(ctx, http.MethodGet, "/admin/users?"+q.Encode(), c.serviceRoleKey, c.serviceRoleKey, nil, &resp); err != nil {
		return nil, err
	}

	// filter is a substring match; only an exact address counts.
	for i := range resp.Users {
		if strings.EqualFold(resp.Users[i].Email, email) {
			return &resp.Users[i], nil
		}
	}
	return nil, &model.IdentityError{Status: http.StatusNotFound, Code: model.IdentityCodeUserNotFound, Message: "no user with that email"}
}

func (c *GoTrueClient) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	var session model.Session
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", c.anonKey, c.anonKey, signInRequest{Email: email, Password: password}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *GoTrueClient) GetCurrentUser(ctx context.Context, accessToken string) (*model.IdentityUser, error) {
	if accessToken == "" {
		return nil, nil
	}
	var user model.IdentityUser
	err := c.do(ctx, http.MethodGet, "/user", c.anonKey, accessToken, nil, &user)
	if err != nil {
		var ie *model.IdentityError
		if errors.As(err, &ie) && (ie.Status == http.StatusUnauthorized || ie.Status == http.StatusForbidden || ie.Status == http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (c *GoTrueClient) SignOut(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodPost, "/logout?scope=local", c.anonKey, accessToken, nil, nil)
	var ie *model.IdentityError
	if errors.As(err, &ie) && (ie.Status == http.StatusUnauthorized || ie.Status == http.StatusForbidden || ie.Status == http.StatusNotFound) {
		// Session already gone.
		return nil
	}
	return err
}

// do sends one request. Transport failures and 5xx responses are reported as
// model.ErrIdentityUnavailable because the outcome of the call is unknown.
func (c *GoTrueClient) do(ctx context.Context, method, path, apiKey, bearer string, in, out interface{}) error {
	start := time.Now()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal identity request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	l := logger.Ctx(ctx)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		l.Warn().Err(err).Str("method", method).Str("endpoint", endpointName(path)).Msg("identity request failed")
		return fmt.Errorf("%w: %s %s: %v", model.ErrIdentityUnavailable, method, endpointName(path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", model.ErrIdentityUnavailable, err)
	}

	l.Debug().
		Str("method", method).
		Str("endpoint", endpointName(path)).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("identity request")

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s %s: status %d", model.ErrIdentityUnavailable, method, endpointName(path), resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, raw)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode identity response: %w", err)
		}
	}
	return nil
}

func parseError(status int, raw []byte) *model.IdentityError {
	var er errorResponse
	_ = json.Unmarshal(raw, &er)

	msg := firstNonEmpty(er.Msg, er.Message, er.ErrorDescription, er.Error)
	if msg == "" {
		msg = http.StatusText(status)
	}

	code := er.ErrorCode
	if code == "" {
		// Older servers only send a message.
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "invalid login credentials"):
			code = model.IdentityCodeInvalidCredentials
		case strings.Contains(lower, "email not confirmed"):
			code = model.IdentityCodeEmailNotConfirmed
		case strings.Contains(lower, "already been registered"), strings.Contains(lower, "already registered"):
			code = model.IdentityCodeEmailExists
		case status == http.StatusNotFound:
			code = model.IdentityCodeUserNotFound
		default:
			code = model.IdentityCodeUnknown
		}
	}
	return &model.IdentityError{Status: status, Code: code, Message: msg}
}

func endpointName(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if strings.HasPrefix(path, "/admin/users/") {
		return "/admin/users/{id}"
	}
	return path
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
