package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// ErrNoCredential is returned when an authenticated call is attempted
// before a successful login.
var ErrNoCredential = errors.New("no credential held")

// AuthError reports rejected credentials. User-correctable and
// non-fatal: the caller shows it inline and retries.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// ValidationError reports input rejected either by a local guard or by
// the server. Field is empty for server-side rejections.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return "invalid input: " + e.Field + " " + e.Reason
}

// Credential is the bearer token issued at login together with its
// owning identity. Held in memory for the life of the session, never
// persisted. ExpiresAt is peeked from the token for display purposes
// and is zero when the token is not a readable JWT.
type Credential struct {
	Token     string
	Username  string
	ExpiresAt time.Time
}

// User is the profile record returned by the registration and
// current-user endpoints.
type User struct {
	ID        int       `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	IsActive  bool      `json:"is_active"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the registration input. The validate tags are local
// guards to avoid needless round-trips, not a security boundary; the
// server revalidates everything.
type Profile struct {
	Username        string `json:"username" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"-" validate:"eqfield=Password"`
	FullName        string `json:"full_name,omitempty"`
}

type loginForm struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Session authenticates against the credential-issuing endpoints and
// holds the issued Credential for use by the other components.
type Session struct {
	base     string
	http     *http.Client
	validate *validator.Validate
	log      zerolog.Logger

	mu   sync.RWMutex
	cred *Credential
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient overrides the HTTP client used for all calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		s.http = c
	}
}

// WithLogger sets the logger for the session.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// NewSession creates a Session talking to the API at baseURL.
func NewSession(baseURL string, opts ...Option) *Session {
	s := &Session{
		base:     baseURL,
		http:     http.DefaultClient,
		validate: validator.New(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login exchanges a username and password for a bearer token. On
// success the credential is stored for later use. Bad credentials are
// reported as *AuthError; nothing is retried.
func (s *Session) Login(ctx context.Context, username, password string) (*Credential, error) {
	form := loginForm{Username: username, Password: password}
	if err := s.validate.Struct(form); err != nil {
		return nil, asValidationError(err)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	status, detail, err := s.postJSON(ctx, "/api/login", form, &result)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	switch {
	case status == http.StatusUnauthorized:
		return nil, &AuthError{Reason: detail}
	case status != http.StatusOK:
		return nil, fmt.Errorf("login: unexpected status %d", status)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("login: response carried no access token")
	}

	cred := &Credential{
		Token:     result.AccessToken,
		Username:  username,
		ExpiresAt: peekExpiry(result.AccessToken),
	}
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()

	s.log.Info().Str("username", username).Msg("logged in")
	return cred, nil
}

// Register creates a new user account. Local guards run before any
// network call; server-side rejections come back as *ValidationError.
func (s *Session) Register(ctx context.Context, p Profile) (*User, error) {
	if err := s.validate.Struct(p); err != nil {
		return nil, asValidationError(err)
	}

	var user User
	status, detail, err := s.postJSON(ctx, "/api/register", p, &user)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return nil, &ValidationError{Reason: detail}
	case status != http.StatusOK && status != http.StatusCreated:
		return nil, fmt.Errorf("register: unexpected status %d", status)
	}
	return &user, nil
}

// Me fetches the profile of the credential's owner. A 401 invalidates
// the held credential.
func (s *Session) Me(ctx context.Context) (*User, error) {
	token, ok := s.Token()
	if !ok {
		return nil, ErrNoCredential
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/api/me", nil)
	if err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.Logout()
		return nil, &AuthError{Reason: "credential rejected by server"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("me: unexpected status %d", resp.StatusCode)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("me: decode response: %w", err)
	}
	return &user, nil
}

// Logout drops the held credential.
func (s *Session) Logout() {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
}

// Credential returns the held credential, if any.
func (s *Session) Credential() (*Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, false
	}
	c := *s.cred
	return &c, true
}

// Token returns the bearer token for outbound calls. Components that
// only need the token depend on this method via a small interface.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return "", false
	}
	return s.cred.Token, true
}

// postJSON posts body as JSON. On a 2xx response it decodes into out;
// otherwise it extracts the server's error detail. The status code is
// always returned so callers can map error statuses.
func (s *Session) postJSON(ctx context.Context, path string, body, out any) (int, string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, "", fmt.Errorf("decode response: %w", err)
		}
		return resp.StatusCode, "", nil
	}
	return resp.StatusCode, readDetail(resp), nil
}

// readDetail pulls the human-readable message from an error response
// body, falling back to the HTTP status text.
func readDetail(resp *http.Response) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return http.StatusText(resp.StatusCode)
}

// peekExpiry reads the exp claim without verifying the signature. The
// token is otherwise opaque to the client; a failed parse just means no
// known expiry.
func peekExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// asValidationError converts the first validator failure into our
// error type.
func asValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	fe := verrs[0]
	reason := "is invalid"
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "email":
		reason = "must be a valid email address"
	case "min":
		reason = "must be at least " + fe.Param() + " characters"
	case "eqfield":
		reason = "must match " + fe.Param()
	}
	return &ValidationError{Field: fe.Field(), Reason: reason}
}
