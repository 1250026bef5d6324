package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const testAPIKey = "anon-key"

func signedToken(t *testing.T, email string, expiry time.Time) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	})

	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type gotrue struct {
	t        *testing.T
	requests []*http.Request
	bodies   []map[string]string
	handler  func(w http.ResponseWriter, r *http.Request, body map[string]string)
}

func newGoTrue(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]string)) (*gotrue, *Client) {
	t.Helper()

	g := &gotrue{t: t, handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != testAPIKey {
			t.Errorf("missing apikey header on %s", r.URL.Path)
		}
		body := map[string]string{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.requests = append(g.requests, r)
		g.bodies = append(g.bodies, body)
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)

	c := New(zap.NewNop(), srv.URL+"/", testAPIKey)
	c.HTTPClient = srv.Client()
	return g, c
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestBeginOAuthStoresFreshVerifier(t *testing.T) {
	_, client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request, body map[string]string) {
		t.Errorf("no request expected, got %s", r.URL)
	})
	store := NewSessionStore(afero.NewMemMapFs(), "/cfg")
	m := NewManager(client, store, nil)

	challenges := map[string]bool{}
	for i := 0; i < 2; i++ {
		authorize, err := m.BeginOAuth("github")
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		u, err := url.Parse(authorize)
		if err != nil {
			t.Fatalf("parse authorize url: %v", err)
		}

		verifier, err := store.TakeVerifier()
		if err != nil {
			t.Fatalf("take verifier: %v", err)
		}
		if len(verifier) != 43 {
			t.Fatalf("unexpected verifier length %d", len(verifier))
		}

		challenge := u.Query().Get("code_challenge")
		if challenge != oauth2.S256ChallengeFromVerifier(verifier) {
			t.Fatalf("challenge %q does not derive from the stored verifier", challenge)
		}
		challenges[challenge] = true
	}

	if len(challenges) != 2 {
		t.Fatalf("expected a new verifier per sign in")
	}
}

func TestBeginOAuthNeedsProvider(t *testing.T) {
	_, client := newGoTrue(t, nil)
	m := NewManager(client, NewSessionStore(afero.NewMemMapFs(), "/cfg"), nil)

	if _, err := m.BeginOAuth(""); err == nil {
		t.Fatalf("expected an error without provider")
	}
}

func TestSessionExpiryFromToken(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	s := &Session{AccessToken: signedToken(t, "jane@example.com", expiry), ExpiresAt: 1}

	if !s.Expiry().Equal(expiry) {
		t.Fatalf("expected token expiry %v, got %v", expiry, s.Expiry())
	}
	if s.Expired(time.Now()) {
		t.Fatalf("session should be valid")
	}
	if !s.Expired(expiry.Add(-10 * time.Second)) {
		t.Fatalf("session within the leeway should count as expired")
	}
	if s.Email() != "jane@example.com" {
		t.Fatalf("unexpected email %q", s.Email())
	}
}

func TestSessionExpiryFallsBackToField(t *testing.T) {
	s := &Session{AccessToken: "opaque", ExpiresAt: 1700000000}
	if got := s.Expiry().Unix(); got != 1700000000 {
		t.Fatalf("unexpected expiry %d", got)
	}

	unknown := &Session{AccessToken: "opaque"}
	if unknown.Expired(time.Now()) {
		t.Fatalf("unknown expiry should not count as expired")
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store := NewSessionStore(afero.NewMemMapFs(), "/home/jane/.config/tally")

	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	if err := store.Save(&Session{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load()
	if err != nil || got.RefreshToken != "r" {
		t.Fatalf("unexpected load result %+v %v", got, err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after clear, got %v", err)
	}

	if err := store.Save(&Session{}); err == nil {
		t.Fatalf("expected error saving empty session")
	}
}

func TestLoginStoresSession(t *testing.T) {
	token := signedToken(t, "jane@example.com", time.Now().Add(time.Hour))
	g, client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request, body map[string]string) {
		respond(w, http.StatusOK, map[string]any{
			"access_token":  token,
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"user":          map[string]any{"id": "user-1", "email": "jane@example.com"},
		})
	})

	store := NewSessionStore(afero.NewMemMapFs(), "/cfg")
	m := NewManager(client, store, nil)

	if _, err := m.Login(context.Background(), "jane@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}

	req := g.requests[0]
	if req.URL.Path != "/auth/v1/token" || req.URL.Query().Get("grant_type") != "password" {
		t.Fatalf("unexpected request %s", req.URL.String())
	}
	if g.bodies[0]["email"] != "jane@example.com" || g.bodies[0]["password"] != "secret" {
		t.Fatalf("unexpected body %v", g.bodies[0])
	}

	session, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if session.AccessToken != token {
		t.Fatalf("unexpected stored token")
	}
}

func TestLoginRejected(t *testing.T) {
	_, client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request, body map[string]string) {
		respond(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
	})

	m := NewManager(client, NewSessionStore(afero.NewMemMapFs(), "/cfg"), nil)
	_, err := m.Login(context.Background(), "jane@example.com", "wrong")

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if authErr.Message != "Invalid login credentials" || authErr.Code != "invalid_grant" || authErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected error %+v", authErr)
	}
}

func TestCurrentWithoutSession(t *testing.T) {
	m := NewManager(New(nil, "http://unused", testAPIKey), NewSessionStore(afero.NewMemMapFs(), "/cfg"), nil)

	_, err := m.Current(context.Background())
	if !errors.Is(err, ErrNoSession) || !IsAuthError(err) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestCurrentRefreshesExpiredSession(t *testing.T) {
	fresh := signedToken(t, "jane@example.com", time.Now().Add(time.Hour))
	g, client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request, body map[string]string) {
		respond(w, http.StatusOK, map[string]any{"access_token": fresh, "refresh_token": "refresh-2"})
	})

	store := NewSessionStore(afero.NewMemMapFs(), "/cfg")
	stale := &Session{
		AccessToken:  signedToken(t, "jane@example.com", time.Now().Add(-time.Minute)),
		RefreshToken: "refresh-1",
		User:         &User{ID: "user-1", Email: "jane@example.com"},
	}
	if err := store.Save(stale); err != nil {
		t.Fatalf("save: %v", err)
	}

	session, err := NewManager(client, store, nil).Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if session.AccessToken != fresh || session.User == nil || session.User.ID != "user-1" {
		t.Fatalf("unexpected refreshed session %+v", session)
	}
	if g.requests[0].URL.Query().Get("grant_type") != "refresh_token" || g.bodies[0]["refresh_token"] != "refresh-1" {
		t.Fatalf("unexpected refresh request %s %v", g.requests[0].URL, g.bodies[0])
	}

	stored, err := store.Load()
	if err != nil || stored.RefreshToken != "refresh-2" {
		t.Fatalf("refreshed session not persisted: %+v %v", stored, err)
	}
}

func TestCurrentRefreshRejectedClearsSession(t *testing.T) {
	_, client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request, body map[string]string) {
		respond(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token"})
	})

	store := NewSessionStore(afero.NewMemMapFs(), "/cfg")
	_ = store.Save(&Session{AccessToken: signedToken(t, "", time.Now().Add(-time.Hour)), RefreshToken: "gone"})

	_, err := NewManager(client, store, nil).Current(context.Background())
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected session to be cleared, got %v", err)
	}
}

func TestOAuthFlow(t *testing.T) {
	g, client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request, body map[string]string) {
		respond(w, http.StatusOK, map[string]any{"access_token": "tok", "refresh_token": "ref"})
	})
	client.RedirectURL = "http://localhost:3000/auth/callback"

	store := NewSessionStore(afero.NewMemMapFs(), "/cfg")
	m := NewManager(client, store, nil)

	authorize, err := m.BeginOAuth("google")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	u, err := url.Parse(authorize)
	if err != nil {
		t.Fatalf("parse authorize url: %v", err)
	}
	q := u.Query()
	if !strings.HasSuffix(u.Path, "/auth/v1/authorize") || q.Get("provider") != "google" || q.Get("code_challenge_method") != "s256" {
		t.Fatalf("unexpected authorize url %s", authorize)
	}
	if q.Get("redirect_to") != client.RedirectURL {
		t.Fatalf("missing redirect_to in %s", authorize)
	}

	if _, err := m.CompleteOAuth(context.Background(), "code-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	verifier := g.bodies[0]["code_verifier"]
	if oauth2.S256ChallengeFromVerifier(verifier) != q.Get("code_challenge") {
		t.Fatalf("verifier does not match the challenge")
	}
	if g.bodies[0]["auth_code"] != "code-1" || g.requests[0].URL.Query().Get("grant_type") != "pkce" {
		t.Fatalf("unexpected exchange request %v", g.bodies[0])
	}

	if _, err := m.CompleteOAuth(context.Background(), "code-1"); !IsAuthError(err) {
		t.Fatalf("verifier must be single use, got %v", err)
	}
}

func TestSignUpNeedsConfirmation(t *testing.T) {
	_, client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request, body map[string]string) {
		respond(w, http.StatusOK, map[string]any{"id": "user-2", "email": "new@example.com"})
	})

	store := NewSessionStore(afero.NewMemMapFs(), "/cfg")
	result, err := NewManager(client, store, nil).SignUp(context.Background(), "new@example.com", "secret123")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if !result.NeedsConfirmation() || result.User.ID != "user-2" {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("no session should be stored before confirmation")
	}
}

func TestLogoutForgetsSessionEvenWhenRemoteFails(t *testing.T) {
	g, client := newGoTrue(t, func(w http.ResponseWriter, r *http.Request, body map[string]string) {
		respond(w, http.StatusInternalServerError, map[string]any{"msg": "boom"})
	})

	store := NewSessionStore(afero.NewMemMapFs(), "/cfg")
	_ = store.Save(&Session{AccessToken: "tok"})

	if err := NewManager(client, store, nil).Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if g.requests[0].Header.Get("Authorization") != "Bearer tok" {
		t.Fatalf("logout must send the access token")
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("session should be gone")
	}
}
