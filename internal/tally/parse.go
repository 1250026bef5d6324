package tally

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/utils"
)

const (
	pdfContentType  = "application/pdf"
	eventStreamType = "text/event-stream"
	uploadField     = "file"

	noProfileMessage = "no profile could be extracted from the resume"
)

// ErrUnsupportedFile is returned for uploads that are not PDF documents.
var ErrUnsupportedFile = errors.New("only PDF files are supported")

// Upload is a resume document ready to be sent.
type Upload struct {
	Name string
	Data []byte
}

// NewUpload reads a PDF document from r. name is the file name reported to the backend.
func NewUpload(name string, r io.Reader) (*Upload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	if http.DetectContentType(data) != pdfContentType {
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFile)
	}

	return &Upload{Name: filepath.Base(name), Data: data}, nil
}

// ParseResult is the outcome of a successful parse. The backend stores both records.
type ParseResult struct {
	Success bool     `json:"success"`
	Profile *Profile `json:"profile"`
	Resume  *Resume  `json:"resume"`
	Message string   `json:"message"`
	Error   string   `json:"error,omitempty"`
}

// ParseError is a parse failure reported by the backend.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	if e.Message == "" {
		return "resume parsing failed"
	}
	return "resume parsing failed: " + e.Message
}

func (e *ParseError) BackendMessage() string {
	return e.Message
}

// ParseResume uploads a resume and waits for the parsed profile.
func (c *Client) ParseResume(ctx context.Context, upload *Upload) (*ParseResult, error) {
	resp, err := c.postUpload(ctx, c.HTTPClient, c.endpoint(c.APIURL, "parse-resume"), upload, contentType)
	if err != nil {
		return nil, err
	}

	var result ParseResult
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}
	if !result.Success || result.Profile == nil {
		return nil, incompleteParse(result.Success, utils.FirstNonEmpty(result.Error, result.Message))
	}

	return &result, nil
}

// incompleteParse reports a result that is not usable: a failure, or a
// success without a profile.
func incompleteParse(success bool, message string) *ParseError {
	if success || message == "" {
		return &ParseError{Message: noProfileMessage}
	}
	return &ParseError{Message: message}
}

// ParseResumeStream uploads a resume and returns the stream of parsing events.
// The caller must drain or Close the stream.
func (c *Client) ParseResumeStream(ctx context.Context, upload *Upload) (*EventStream, error) {
	// the stream outlives the per-request timeout, ctx bounds it instead
	streaming := *c.HTTPClient
	streaming.Timeout = 0

	resp, err := c.postUpload(ctx, &streaming, c.endpoint(c.APIURL, "parse-resume-stream"), upload, eventStreamType)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, decodeResponse(resp, nil)
	}

	body, err := responseBody(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("resume stream opened", zap.String("file", upload.Name), zap.Int("bytes", len(upload.Data)))

	return NewEventStream(body, c.logger), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func (c *Client) postUpload(ctx context.Context, client *http.Client, url string, upload *Upload, accept string) (*http.Response, error) {
	if upload == nil || len(upload.Data) == 0 {
		return nil, errors.New("resume file is empty")
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadField, quoteEscaper.Replace(upload.Name)))
	h.Set("Content-Type", pdfContentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, url, &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", accept)

	return c.requestWith(client, req)
}
