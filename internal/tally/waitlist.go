package tally

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const linkedinInfoKey = "linkedin"

type WaitlistEntry struct {
	Email     string         `json:"email"`
	Info      map[string]any `json:"info"`
	CreatedAt *string        `json:"created_at"`
	UpdatedAt *string        `json:"updated_at"`
}

// UpsertResult is the answer of the site's add-email and add-linkedin routes.
type UpsertResult struct {
	Message string           `json:"message"`
	Data    []map[string]any `json:"data"`
	Success bool             `json:"success"`
}

// AddToWaitlist registers email with optional extra info.
func (c *Client) AddToWaitlist(ctx context.Context, email string, info map[string]any) (*WaitlistEntry, error) {
	if info == nil {
		info = map[string]any{}
	}

	body := struct {
		Email string         `json:"email"`
		Info  map[string]any `json:"info"`
	}{Email: email, Info: info}

	var entry WaitlistEntry
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(c.APIURL, "waitlist"), nil, body, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// UpdateWaitlistInfo merges info into the existing waitlist entry.
func (c *Client) UpdateWaitlistInfo(ctx context.Context, email string, info map[string]any) (*WaitlistEntry, error) {
	if email == "" {
		return nil, errors.New("email is required")
	}

	body := struct {
		Info map[string]any `json:"info"`
	}{Info: info}

	var entry WaitlistEntry
	if err := c.doJSON(ctx, http.MethodPatch, c.endpoint(c.APIURL, "waitlist", email), nil, body, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

// AddEmail upserts email through the site route.
func (c *Client) AddEmail(ctx context.Context, email string) (*UpsertResult, error) {
	body := map[string]string{"email": email}

	return c.upsert(ctx, "add-email", body)
}

// AddLinkedin upserts a profile link through the site route. email is sent along when known.
func (c *Client) AddLinkedin(ctx context.Context, email, linkedin string) (*UpsertResult, error) {
	body := map[string]string{"linkedin": linkedin}
	if email != "" {
		body["email"] = email
	}

	return c.upsert(ctx, "add-linkedin", body)
}

func (c *Client) upsert(ctx context.Context, route string, body map[string]string) (*UpsertResult, error) {
	var result UpsertResult
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(c.SiteURL, "api", route), nil, body, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &APIError{StatusCode: http.StatusOK, Status: "200 OK", Message: result.Message}
	}

	return &result, nil
}

// SurveyBackend adapts the client to the survey's Backend port.
type SurveyBackend struct {
	client *Client
	mode   string
}

const (
	BackendWaitlist = "waitlist"
	BackendLocal    = "local"
)

// NewSurveyBackend returns a survey backend writing either to the waitlist API
// or to the site's upsert routes.
func NewSurveyBackend(client *Client, mode string) (*SurveyBackend, error) {
	if client == nil {
		return nil, errors.New("tally client is required")
	}

	switch mode = strings.ToLower(strings.TrimSpace(mode)); mode {
	case "":
		mode = BackendWaitlist
	case BackendWaitlist, BackendLocal:
	default:
		return nil, fmt.Errorf("unknown survey backend %q, expected waitlist or local", mode)
	}

	return &SurveyBackend{client: client, mode: mode}, nil
}

func (b *SurveyBackend) Mode() string {
	return b.mode
}

func (b *SurveyBackend) SubmitEmail(ctx context.Context, email string) error {
	if b.mode == BackendLocal {
		_, err := b.client.AddEmail(ctx, email)
		return err
	}

	_, err := b.client.AddToWaitlist(ctx, email, map[string]any{"source": "survey"})
	return err
}

func (b *SurveyBackend) SubmitLinkedin(ctx context.Context, email, linkedinURL string) error {
	if b.mode == BackendLocal {
		_, err := b.client.AddLinkedin(ctx, email, linkedinURL)
		return err
	}

	_, err := b.client.UpdateWaitlistInfo(ctx, email, map[string]any{linkedinInfoKey: linkedinURL})
	return err
}
