package tally

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(zap.NewNop(), "token-123")
	c.APIURL = srv.URL
	c.SiteURL = srv.URL
	c.HTTPClient = srv.Client()
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestRequestsCarryHeaders(t *testing.T) {
	var got http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(t, w, http.StatusOK, map[string]any{"status": "healthy"})
	})

	health, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "healthy" {
		t.Fatalf("unexpected status %q", health.Status)
	}

	if auth := got.Get("Authorization"); auth != "Bearer token-123" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	if ua := got.Get("User-Agent"); ua != userAgent {
		t.Fatalf("unexpected user agent %q", ua)
	}
	if _, err := uuid.Parse(got.Get(requestIDHeader)); err != nil {
		t.Fatalf("request id is not a uuid: %v", err)
	}
}

func TestAnonymousRequestsOmitAuthorization(t *testing.T) {
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJSON(t, w, http.StatusOK, map[string]any{"status": "ok"})
	})
	c.ClearToken()

	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if auth != "" {
		t.Fatalf("expected no authorization header, got %q", auth)
	}
	if c.Authenticated() {
		t.Fatalf("client should not report a token")
	}
}

func TestAPIErrorMessageExtraction(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		expect string
	}{
		{name: "error field", status: 400, body: `{"error":"Invalid email"}`, expect: "Invalid email"},
		{name: "detail string", status: 404, body: `{"detail":"Email a@b.co not found in waitlist"}`, expect: "Email a@b.co not found in waitlist"},
		{name: "detail list", status: 422, body: `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"}]}`, expect: "value is not a valid email address"},
		{name: "message field", status: 500, body: `{"message":"boom"}`, expect: "boom"},
		{name: "error wins over detail", status: 400, body: `{"detail":"second","error":"first"}`, expect: "first"},
		{name: "plain text", status: 502, body: "bad gateway\n", expect: "bad gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Stats(context.Background())
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %T: %v", err, err)
			}
			if apiErr.StatusCode != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, apiErr.StatusCode)
			}
			if apiErr.BackendMessage() != tt.expect {
				t.Fatalf("expected message %q, got %q", tt.expect, apiErr.BackendMessage())
			}
			if apiErr.RequestID == "" {
				t.Fatalf("expected request id on error")
			}
		})
	}
}

func TestGzipResponsesAreDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "gzip" {
			t.Errorf("unexpected accept-encoding %q", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_ = json.NewEncoder(zw).Encode(map[string]any{
			"total_resumes":            3,
			"total_users":              2,
			"average_experience_years": 4.5,
		})
		_ = zw.Close()
	})

	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalResumes != 3 || stats.TotalUsers != 2 || stats.AverageExperienceYears != 4.5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"user":    map[string]any{"id": 7, "supabase_id": "sb-7", "email": "jane@example.com", "role": "user"},
			"message": "You are successfully authenticated!",
		})
	})

	user, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if user.ID != 7 || user.Email != "jane@example.com" || user.Provisional {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestSyncUserFindsExisting(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/by-email/jane@example.com" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"user": map[string]any{"id": 3, "email": "jane@example.com", "role": "admin"},
		})
	})

	user, err := c.SyncUser(context.Background(), Identity{ID: "sb-3", Email: "jane@example.com"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if user.ID != 3 || user.Role != "admin" || user.Provisional {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestSyncUserFallsBackToProvisional(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{"detail": "User not found"})
	})

	user, err := c.SyncUser(context.Background(), Identity{ID: "sb-9", Email: "new@example.com"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !user.Provisional || user.ID != 0 {
		t.Fatalf("expected provisional user, got %+v", user)
	}
	if user.SupabaseID != "sb-9" || user.Name != "new@example.com" || user.Role != "user" {
		t.Fatalf("unexpected provisional fields: %+v", user)
	}
}

func TestSyncUserPropagatesServerErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]any{"detail": "db down"})
	})

	if _, err := c.SyncUser(context.Background(), Identity{Email: "a@b.co"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResumesFilterQuery(t *testing.T) {
	var query string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		writeJSON(t, w, http.StatusOK, map[string]any{
			"resumes":     []map[string]any{{"id": 1, "name": "Go dev"}, {"id": 2, "name": "SRE"}},
			"total_in_db": 10,
			"returned":    2,
		})
	})

	resumes, err := c.Resumes(context.Background(), ResumeFilter{Limit: 5, Skill: "go"})
	if err != nil {
		t.Fatalf("resumes: %v", err)
	}
	if query != "limit=5&skill=go" {
		t.Fatalf("unexpected query %q", query)
	}
	if resumes.Len() != 2 || resumes.FindByID(2).Name != "SRE" {
		t.Fatalf("unexpected resumes: %v", resumes.Names())
	}
	if resumes.FindByID(42) != nil {
		t.Fatalf("expected nil for unknown id")
	}
}

func TestMyResumesOrdersNewestFirst(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"resumes": []map[string]any{
				{"id": 1, "name": "old", "created_at": "2024-01-01T00:00:00"},
				{"id": 2, "name": "new", "created_at": "2024-06-01T00:00:00"},
			},
			"user_email": "jane@example.com",
		})
	})

	resumes, err := c.MyResumes(context.Background())
	if err != nil {
		t.Fatalf("my resumes: %v", err)
	}
	if resumes.Count != 2 {
		t.Fatalf("expected count derived from items, got %d", resumes.Count)
	}
	if got := resumes.Newest()[0].Name; got != "new" {
		t.Fatalf("expected newest first, got %q", got)
	}
}

func TestDeleteResume(t *testing.T) {
	var method, path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		writeJSON(t, w, http.StatusOK, map[string]any{"success": true, "message": "Resume deleted successfully"})
	})

	if err := c.DeleteResume(context.Background(), 12); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if method != http.MethodDelete || path != "/resumes/12" {
		t.Fatalf("unexpected request %s %s", method, path)
	}

	if err := c.DeleteResume(context.Background(), 0); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestMyProfileMissing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"profile":    nil,
			"user_email": "jane@example.com",
			"message":    "No profile found for user",
		})
	})

	profile, err := c.MyProfile(context.Background())
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile != nil {
		t.Fatalf("expected nil profile, got %+v", profile)
	}
}

func TestGetResume(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success":            true,
			"resume":             map[string]any{"id": 7, "name": "Go dev", "years_experience": 4},
			"user_authenticated": true,
		})
	})

	resume, err := c.GetResume(context.Background(), 7)
	if err != nil {
		t.Fatalf("get resume: %v", err)
	}
	if path != "/resumes/7" {
		t.Fatalf("unexpected path %q", path)
	}
	if resume.Name != "Go dev" || resume.YearsExperience != 4 {
		t.Fatalf("unexpected resume %+v", resume)
	}
}

func TestGetResumeNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{"detail": "Resume with ID 9 not found"})
	})

	_, err := c.GetResume(context.Background(), 9)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.GetResume(context.Background(), 0); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestSearchResumesBySkill(t *testing.T) {
	var path, skill string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path, skill = r.URL.Path, r.URL.Query().Get("skill")
		writeJSON(t, w, http.StatusOK, map[string]any{
			"skill_searched":     skill,
			"resumes":            []map[string]any{{"id": 3, "name": "C++ dev"}},
			"count":              1,
			"user_authenticated": false,
		})
	})

	resumes, err := c.SearchResumesBySkill(context.Background(), " c++ ")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if path != "/resumes/search/skills" || skill != "c++" {
		t.Fatalf("unexpected request %s skill=%q", path, skill)
	}
	if resumes.Len() != 1 || resumes.FindByID(3) == nil {
		t.Fatalf("unexpected resumes %v", resumes.Names())
	}

	if _, err := c.SearchResumesBySkill(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty skill")
	}
}

func TestUpdateProfile(t *testing.T) {
	var (
		method string
		body   map[string]any
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"success": true,
			"profile": map[string]any{"id": 1, "name": "Jane", "location": "Berlin"},
		})
	})

	profile, err := c.UpdateProfile(context.Background(), map[string]any{"location": "Berlin"})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if method != http.MethodPatch || body["location"] != "Berlin" {
		t.Fatalf("unexpected request %s %v", method, body)
	}
	if profile.Location != "Berlin" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	if _, err := c.UpdateProfile(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty changes")
	}
}

func TestUpdateProfileWithoutProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{"success": false, "message": "No profile found for user"})
	})

	_, err := c.UpdateProfile(context.Background(), map[string]any{"name": "Jane"})
	if err == nil || err.Error() != "No profile found for user" {
		t.Fatalf("expected the backend message, got %v", err)
	}
}

func TestChatCompletion(t *testing.T) {
	var sent ChatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   DefaultChatModel,
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": " Hi there "}}},
			"usage":   map[string]any{"total_tokens": 12},
		})
	})

	resp, err := c.ChatCompletion(context.Background(), NewChatRequest([]ChatMessage{{Role: RoleUser, Content: "hello"}}))
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content() != "Hi there" {
		t.Fatalf("unexpected content %q", resp.Content())
	}
	if sent.Model != DefaultChatModel || sent.Temperature != DefaultTemperature || sent.MaxTokens != DefaultMaxTokens {
		t.Fatalf("defaults not sent: %+v", sent)
	}
}

func TestChatRequestValidate(t *testing.T) {
	base := NewChatRequest([]ChatMessage{{Role: RoleUser, Content: "hi"}})

	tests := []struct {
		name   string
		mutate func(r *ChatRequest)
		errMsg string
	}{
		{name: "no messages", mutate: func(r *ChatRequest) { r.Messages = nil }, errMsg: "at least one message"},
		{name: "bad role", mutate: func(r *ChatRequest) { r.Messages[0].Role = "tool" }, errMsg: "unknown role"},
		{name: "temperature", mutate: func(r *ChatRequest) { r.Temperature = 2.5 }, errMsg: "temperature"},
		{name: "max tokens", mutate: func(r *ChatRequest) { r.MaxTokens = 0 }, errMsg: "max_tokens"},
		{name: "stream", mutate: func(r *ChatRequest) { r.Stream = true }, errMsg: "streaming"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			req.Messages = append([]ChatMessage(nil), base.Messages...)
			tt.mutate(&req)

			err := req.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Fatalf("expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestChatModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": DefaultChatModel, "object": "model", "owned_by": "google"}},
		})
	})

	models, err := c.ChatModels(context.Background())
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(models) != 1 || models[0].OwnedBy != "google" {
		t.Fatalf("unexpected models: %+v", models)
	}
}
