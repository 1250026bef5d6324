package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/tally-ai/tally/internal/logger"
)

const (
	sessionFile  = "session.json"
	verifierFile = "pkce_verifier"

	// refreshLeeway renews tokens slightly before they expire.
	refreshLeeway = 30 * time.Second
)

type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (s *Session) claims() (*tokenClaims, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// Expiry returns when the access token stops being valid. The token's exp claim
// wins over the expires_at field. A zero time means unknown.
func (s *Session) Expiry() time.Time {
	if claims, err := s.claims(); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	return time.Time{}
}

// Expired reports whether the token is expired or about to be.
func (s *Session) Expired(now time.Time) bool {
	expiry := s.Expiry()
	if expiry.IsZero() {
		return false
	}
	return !now.Add(refreshLeeway).Before(expiry)
}

// Email returns the signed-in email from the user record or the token.
func (s *Session) Email() string {
	if s.User != nil && s.User.Email != "" {
		return s.User.Email
	}
	if claims, err := s.claims(); err == nil {
		return claims.Email
	}
	return ""
}

// SessionStore keeps the session and the pending PKCE verifier on disk.
type SessionStore struct {
	fs  afero.Fs
	dir string
}

func NewSessionStore(fs afero.Fs, dir string) *SessionStore {
	return &SessionStore{fs: fs, dir: dir}
}

func (s *SessionStore) Load() (*Session, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, sessionFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil || session.AccessToken == "" {
		return nil, ErrNoSession
	}

	return &session, nil
}

func (s *SessionStore) Save(session *Session) error {
	if session == nil || session.AccessToken == "" {
		return errors.New("refusing to store an empty session")
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}

	return s.write(sessionFile, data)
}

func (s *SessionStore) Clear() error {
	for _, name := range []string{sessionFile, verifierFile} {
		if err := s.fs.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *SessionStore) SaveVerifier(verifier string) error {
	return s.write(verifierFile, []byte(verifier))
}

// TakeVerifier returns the pending verifier and forgets it.
func (s *SessionStore) TakeVerifier() (string, error) {
	path := filepath.Join(s.dir, verifierFile)

	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return "", &AuthError{Op: "callback", Message: "no sign-in in progress, run tally login --oauth first"}
	}
	if err != nil {
		return "", err
	}

	if err := s.fs.Remove(path); err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

func (s *SessionStore) write(name string, data []byte) error {
	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	return afero.WriteFile(s.fs, filepath.Join(s.dir, name), data, 0o600)
}

// Manager ties the identity client to the local session store.
type Manager struct {
	client *Client
	store  *SessionStore
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(client *Client, store *SessionStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{client: client, store: store, logger: log, now: time.Now}
}

// Current returns a usable session, refreshing it when expired.
// Without a session, or when the refresh is rejected, it returns ErrNoSession.
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	session, err := m.store.Load()
	if err != nil {
		return nil, err
	}

	if !session.Expired(m.now()) {
		return session, nil
	}

	if session.RefreshToken == "" {
		return nil, ErrNoSession
	}

	m.logger.Debug("refreshing expired session", zap.Time("expiry", session.Expiry()))

	refreshed, err := m.client.Refresh(ctx, session.RefreshToken)
	if err != nil {
		if !IsAuthError(err) {
			return nil, fmt.Errorf("refreshing session: %w", err)
		}
		m.logger.Warn("session refresh rejected", zap.Error(err))
		if err := m.store.Clear(); err != nil {
			return nil, err
		}
		return nil, ErrNoSession
	}

	if refreshed.User == nil {
		refreshed.User = session.User
	}
	if err := m.store.Save(refreshed); err != nil {
		return nil, err
	}

	return refreshed, nil
}

func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	session, err := m.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := m.store.Save(session); err != nil {
		return nil, err
	}

	m.logger.Info("signed in", logger.Email(session.Email()))
	return session, nil
}

// SignUp registers a user and stores the session when one is issued right away.
func (m *Manager) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	result, err := m.client.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if !result.NeedsConfirmation() {
		if err := m.store.Save(result.Session); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// BeginOAuth stores a fresh verifier and returns the URL the user has to open.
func (m *Manager) BeginOAuth(provider string) (string, error) {
	if provider == "" {
		return "", errors.New("oauth provider is required")
	}

	verifier := oauth2.GenerateVerifier()
	if err := m.store.SaveVerifier(verifier); err != nil {
		return "", err
	}

	return m.client.AuthorizeURL(provider, oauth2.S256ChallengeFromVerifier(verifier)), nil
}

// CompleteOAuth exchanges the callback code using the stored verifier.
func (m *Manager) CompleteOAuth(ctx context.Context, code string) (*Session, error) {
	if code == "" {
		return nil, &AuthError{Op: "callback", Message: "authorization code is missing"}
	}

	verifier, err := m.store.TakeVerifier()
	if err != nil {
		return nil, err
	}

	session, err := m.client.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return nil, err
	}

	if err := m.store.Save(session); err != nil {
		return nil, err
	}

	m.logger.Info("signed in", logger.Email(session.Email()))
	return session, nil
}

// Logout revokes the session when possible and always forgets it locally.
func (m *Manager) Logout(ctx context.Context) error {
	session, err := m.store.Load()
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.client.SignOut(ctx, session.AccessToken); err != nil {
		m.logger.Warn("remote sign out failed", zap.Error(err))
	}

	return m.store.Clear()
}
