package tally

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL    = "http://localhost:8000"
	siteURL   = "http://localhost:3000"
	userAgent = "tally-cli"
)

// Client talks to the Tally backend API. A zero token sends anonymous requests.
type Client struct {
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
	// SiteURL hosts the /api/add-email and /api/add-linkedin routes.
	SiteURL string
}

func New(logger *zap.Logger, token string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
		SiteURL:   siteURL,
	}
}

// SetToken replaces the bearer token used for authenticated endpoints.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) ClearToken() {
	c.token = ""
}

// Authenticated reports whether a bearer token is set.
func (c *Client) Authenticated() bool {
	return c.token != ""
}
