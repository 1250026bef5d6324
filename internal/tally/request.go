package tally

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/utils"
)

const (
	contentType     = "application/json"
	acceptEncoding  = "gzip"
	requestIDHeader = "X-Request-ID"

	maxErrorBody = 300
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tally api: %s", e.Status)
	}
	return fmt.Sprintf("tally api: %s: %s", e.Status, e.Message)
}

// BackendMessage is the human readable reason sent by the backend.
func (e *APIError) BackendMessage() string {
	return e.Message
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether the backend rejected the bearer token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

func (c *Client) endpoint(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	return c.setHeaders(req), nil
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.Header.Set(requestIDHeader, uuid.NewString())

	return req
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	return c.requestWith(c.HTTPClient, req)
}

func (c *Client) requestWith(client *http.Client, req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
		zap.String("request_id", req.Header.Get(requestIDHeader)),
	)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// doJSON sends in as a JSON body (when non-nil) and decodes a 2xx answer into out.
func (c *Client) doJSON(ctx context.Context, method, url string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", contentType)
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if len(q) > 0 {
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.request(req)
	if err != nil {
		return err
	}

	return decodeResponse(resp, out)
}

func (c *Client) getJSON(ctx context.Context, url string, q url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, url, q, nil, out)
}

// decodeResponse closes resp.Body.
func decodeResponse(resp *http.Response, out any) error {
	body, err := responseBody(resp)
	if err != nil {
		return err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newAPIError(resp, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

type gzipBody struct {
	*gzip.Reader
	raw io.Closer
}

func (g gzipBody) Close() error {
	err := g.Reader.Close()
	if cerr := g.raw.Close(); err == nil {
		err = cerr
	}
	return err
}

// responseBody unwraps gzip encoded answers. Closing it closes resp.Body.
func responseBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Encoding") != "gzip" {
		return resp.Body, nil
	}

	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	return gzipBody{Reader: zr, raw: resp.Body}, nil
}

func newAPIError(resp *http.Response, data []byte) *APIError {
	requestID := resp.Header.Get(requestIDHeader)
	if requestID == "" && resp.Request != nil {
		requestID = resp.Request.Header.Get(requestIDHeader)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    extractMessage(data),
		RequestID:  requestID,
	}
}

// extractMessage pulls a readable reason from an error body, preferring the
// error, detail and message fields in that order.
func extractMessage(data []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err == nil {
		for _, key := range []string{"error", "detail", "message"} {
			if msg := messageValue(payload[key]); msg != "" {
				return msg
			}
		}
	}

	return utils.TruncateForLog(string(data), maxErrorBody)
}

func messageValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case map[string]any:
		return utils.FirstNonEmpty(messageValue(typed["msg"]), messageValue(typed["message"]))
	case []any:
		// validation errors come as a list of {loc, msg, type}
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			if msg := messageValue(item); msg != "" {
				parts = append(parts, msg)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprintf("%v", typed)
	}
}
