package buildclient

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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rahl/studio/pkg/telemetry"
)

// ErrNotFound is returned when the builder reports a missing project.
var ErrNotFound = errors.New("resource not found")

// ErrMissingProjectID is returned when a build reply carries no project identifier.
var ErrMissingProjectID = errors.New("build response missing project_id")

// StatusError reports a non-success reply from the builder.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("builder returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("builder returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the app builder over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a builder client with sane defaults. The default HTTP
// client carries no timeout; callers bound each call through its context.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalised builder address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BuildRequest is the payload posted to the build endpoint.
type BuildRequest struct {
	Description string `json:"description"`
}

// BuildResult is the builder's reply to a successful build request. Only
// ProjectID is mandated; the rest is decoded when present.
type BuildResult struct {
	ProjectID   string    `json:"project_id"`
	Status      string    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
	CheckStatus string    `json:"check_status,omitempty"`
	Download    string    `json:"download,omitempty"`
	Analysis    *Analysis `json:"analysis,omitempty"`
}

// Build submits a description to the builder and waits for its reply.
func (c *Client) Build(ctx context.Context, req BuildRequest) (BuildResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "buildclient.build")
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return BuildResult{}, fmt.Errorf("marshal build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/build", bytes.NewReader(body))
	if err != nil {
		return BuildResult{}, fmt.Errorf("create build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return BuildResult{}, fmt.Errorf("submit build: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := readStatusError(resp)
		span.SetStatus(codes.Error, statusErr.Error())
		return BuildResult{}, statusErr
	}

	var out BuildResult
	if err := decodeBody(resp.Body, &out); err != nil {
		span.SetStatus(codes.Error, "decode failure")
		return BuildResult{}, fmt.Errorf("decode build response: %w", err)
	}
	if strings.TrimSpace(out.ProjectID) == "" {
		span.SetStatus(codes.Error, "missing project id")
		return BuildResult{}, ErrMissingProjectID
	}

	span.SetAttributes(attribute.String("rahl.project_id", out.ProjectID))
	return out, nil
}

// DownloadLocation derives the artifact address for a project identifier.
func (c *Client) DownloadLocation(projectID string) string {
	return DownloadLocation(c.baseURL, projectID)
}

// DownloadLocationFor derives the artifact address for a settled build.
func (c *Client) DownloadLocationFor(result BuildResult) string {
	return c.DownloadLocation(result.ProjectID)
}

// DownloadLocation joins base, the download segment and the escaped id.
func DownloadLocation(base, projectID string) string {
	return fmt.Sprintf("%s/download/%s", strings.TrimSuffix(base, "/"), url.PathEscape(projectID))
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return readStatusError(resp)
	}

	if err := decodeBody(resp.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// errTrailingData marks a reply that carries more than one JSON value.
var errTrailingData = errors.New("unexpected data after JSON value")

// decodeBody decodes exactly one JSON value from r.
func decodeBody(r io.Reader, out any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(out); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	return nil
}

func readStatusError(resp *http.Response) *StatusError {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
}

// pollDelay waits for d or until ctx is done.
func pollDelay(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
