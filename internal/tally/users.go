package tally

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/logger"
	"github.com/tally-ai/tally/internal/utils"
)

type User struct {
	ID         int64  `json:"id"`
	SupabaseID string `json:"supabase_id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role"`
	CreatedAt  string `json:"created_at"`
	LastSeen   string `json:"last_seen,omitempty"`

	// Provisional marks a user the backend has not stored yet. It is created
	// on the first authenticated request.
	Provisional bool `json:"-"`
}

// Identity is the subset of the identity provider's user needed to sync with the backend.
type Identity struct {
	ID       string
	Email    string
	FullName string
}

type Stats struct {
	TotalResumes           int     `json:"total_resumes"`
	TotalUsers             int     `json:"total_users"`
	AverageExperienceYears float64 `json:"average_experience_years"`
}

type Health struct {
	Status string `json:"status"`
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var resp struct {
		User    *User  `json:"user"`
		Message string `json:"message"`
	}

	if err := c.getJSON(ctx, c.endpoint(c.APIURL, "me"), nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, errors.New("backend returned no user")
	}

	return resp.User, nil
}

func (c *Client) UserByEmail(ctx context.Context, email string) (*User, error) {
	if email == "" {
		return nil, errors.New("email is required")
	}

	var resp struct {
		User *User `json:"user"`
	}

	if err := c.getJSON(ctx, c.endpoint(c.APIURL, "users", "by-email", email), nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, &APIError{StatusCode: http.StatusNotFound, Status: "404 Not Found", Message: "user not found"}
	}

	return resp.User, nil
}

// SyncUser looks the identity up in the backend. Unknown emails yield a
// provisional user instead of an error.
func (c *Client) SyncUser(ctx context.Context, identity Identity) (*User, error) {
	user, err := c.UserByEmail(ctx, identity.Email)
	if err == nil {
		c.logger.Debug("found existing user", logger.Email(user.Email))
		return user, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	c.logger.Debug("new user, backend will create it on first authenticated request",
		logger.Email(identity.Email),
		zap.Error(err),
	)

	return &User{
		SupabaseID:  identity.ID,
		Email:       identity.Email,
		Name:        utils.FirstNonEmpty(identity.FullName, identity.Email),
		Role:        "user",
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Provisional: true,
	}, nil
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.getJSON(ctx, c.endpoint(c.APIURL, "stats"), nil, &stats); err != nil {
		return nil, err
	}

	return &stats, nil
}

// Health checks backend reachability.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var health Health
	if err := c.getJSON(ctx, c.endpoint(c.APIURL, "health"), nil, &health); err != nil {
		return nil, err
	}

	return &health, nil
}
