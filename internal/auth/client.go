package auth

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

	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/logger"
	"github.com/tally-ai/tally/internal/utils"
)

const (
	authPath    = "/auth/v1"
	contentType = "application/json"

	grantPassword = "password"
	grantPKCE     = "pkce"
	grantRefresh  = "refresh_token"
)

// ErrNoSession means the user is not signed in.
var ErrNoSession = &AuthError{Op: "session", Message: "not signed in, run tally login"}

// AuthError is a failure reported by the identity service.
type AuthError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("auth %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("auth %s: %d %s", e.Op, e.Status, e.Message)
}

// IsAuthError reports whether err came from the identity service or a missing session.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    string         `json:"created_at,omitempty"`
}

// FullName returns the display name stored by the OAuth provider, if any.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	name, _ := u.UserMetadata["full_name"].(string)
	alt, _ := u.UserMetadata["name"].(string)
	return utils.FirstNonEmpty(name, alt)
}

// Client speaks the GoTrue REST API of a Supabase project.
type Client struct {
	logger      *zap.Logger
	apiKey      string
	HTTPClient  *http.Client
	URL         string
	RedirectURL string
}

func New(logger *zap.Logger, projectURL, apiKey string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		logger: logger,
		apiKey: apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		URL: strings.TrimRight(projectURL, "/"),
	}
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}

	var session Session
	if err := c.token(ctx, grantPassword, body, &session); err != nil {
		return nil, err
	}

	c.logger.Debug("signed in with password", logger.Email(email))
	return &session, nil
}

// SignUpResult holds the new user and, when email confirmation is off, a session.
type SignUpResult struct {
	User    *User
	Session *Session
}

// NeedsConfirmation reports whether the user must confirm the email before signing in.
func (r *SignUpResult) NeedsConfirmation() bool {
	return r.Session == nil || r.Session.AccessToken == ""
}

func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	body := map[string]string{"email": email, "password": password}

	var raw json.RawMessage
	if err := c.do(ctx, "signup", http.MethodPost, c.endpoint("signup", nil), "", body, &raw); err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decoding signup response: %w", err)
	}
	if session.AccessToken != "" {
		return &SignUpResult{User: session.User, Session: &session}, nil
	}

	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("decoding signup response: %w", err)
	}

	return &SignUpResult{User: &user}, nil
}

// SignOut revokes the session server side.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, "logout", http.MethodPost, c.endpoint("logout", nil), accessToken, nil, nil)
}

// AuthorizeURL builds the provider sign-in URL for the PKCE flow.
func (c *Client) AuthorizeURL(provider, challenge string) string {
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "s256")
	if c.RedirectURL != "" {
		q.Set("redirect_to", c.RedirectURL)
	}

	return c.endpoint("authorize", q)
}

// ExchangeCode completes the PKCE flow.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*Session, error) {
	body := map[string]string{"auth_code": code, "code_verifier": verifier}

	var session Session
	if err := c.token(ctx, grantPKCE, body, &session); err != nil {
		return nil, err
	}

	return &session, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var session Session
	if err := c.token(ctx, grantRefresh, body, &session); err != nil {
		return nil, err
	}

	return &session, nil
}

// GetUser returns the user owning accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.do(ctx, "user", http.MethodGet, c.endpoint("user", nil), accessToken, nil, &user); err != nil {
		return nil, err
	}

	return &user, nil
}

func (c *Client) token(ctx context.Context, grant string, body, out any) error {
	q := url.Values{}
	q.Set("grant_type", grant)

	return c.do(ctx, "token "+grant, http.MethodPost, c.endpoint("token", q), "", body, out)
}

func (c *Client) endpoint(name string, q url.Values) string {
	u := c.URL + authPath + "/" + name
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, op, method, url, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", contentType)
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	c.logger.Debug("make auth request", zap.String("op", op), zap.String("method", method))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newAuthError(op, resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	return json.Unmarshal(data, out)
}

// newAuthError understands both the OAuth style {error, error_description}
// and the GoTrue style {code, error_code, msg} bodies.
func newAuthError(op string, status int, data []byte) *AuthError {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	_ = json.Unmarshal(data, &payload)

	message := utils.FirstNonEmpty(payload.ErrorDescription, payload.Msg, payload.Message, payload.Error)
	if message == "" {
		message = utils.FirstNonEmpty(utils.TruncateForLog(string(data), 200), http.StatusText(status))
	}

	return &AuthError{
		Op:      op,
		Status:  status,
		Code:    utils.FirstNonEmpty(payload.ErrorCode, payload.Error),
		Message: message,
	}
}
