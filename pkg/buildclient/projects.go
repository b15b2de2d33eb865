package buildclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrProjectFailed is returned by WaitReady when the builder gives up on a project.
var ErrProjectFailed = errors.New("project build failed")

// Template describes one entry of the builder's app catalog.
type Template struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon,omitempty"`
	Complexity  string `json:"complexity,omitempty"`
}

// TemplateCatalog is the reply of the templates endpoint.
type TemplateCatalog struct {
	Templates map[string]Template `json:"templates"`
	Count     int                 `json:"count"`
}

// Analysis is the builder's reading of a description.
type Analysis struct {
	AppType          string   `json:"app_type"`
	Features         []string `json:"features"`
	PackageName      string   `json:"package_name"`
	DetectedFeatures int      `json:"detected_features"`
}

// AnalyzeResult is the reply of the analyze endpoint.
type AnalyzeResult struct {
	Analysis           Analysis   `json:"analysis"`
	Description        string     `json:"description"`
	SuggestedTemplates []Template `json:"suggested_templates"`
}

// ProjectStatus mirrors the builder-side metadata of a project.
type ProjectStatus struct {
	ID          string   `json:"id"`
	AppType     string   `json:"app_type,omitempty"`
	PackageName string   `json:"package_name,omitempty"`
	Features    []string `json:"features,omitempty"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	Status      string   `json:"status"`
	Progress    int      `json:"progress"`
	ApkReady    bool     `json:"apk_ready"`
	ApkSize     int64    `json:"apk_size,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Health is the reply of the builder health endpoint.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Templates fetches the builder's template catalog.
func (c *Client) Templates(ctx context.Context) (TemplateCatalog, error) {
	var out TemplateCatalog
	if err := c.getJSON(ctx, "/api/templates", &out); err != nil {
		return TemplateCatalog{}, fmt.Errorf("fetch templates: %w", err)
	}
	return out, nil
}

// ProjectStatus fetches builder-side state for a project.
func (c *Client) ProjectStatus(ctx context.Context, projectID string) (ProjectStatus, error) {
	var out ProjectStatus
	if err := c.getJSON(ctx, "/api/project/"+url.PathEscape(projectID), &out); err != nil {
		return ProjectStatus{}, fmt.Errorf("fetch project %s: %w", projectID, err)
	}
	return out, nil
}

// Health checks that the builder is reachable.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return Health{}, fmt.Errorf("check health: %w", err)
	}
	return out, nil
}

// Analyze asks the builder how it would interpret a description without building it.
func (c *Client) Analyze(ctx context.Context, description string) (AnalyzeResult, error) {
	body, err := json.Marshal(BuildRequest{Description: description})
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("marshal analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/analyze", bytes.NewReader(body))
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("create analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("analyze: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return AnalyzeResult{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return AnalyzeResult{}, readStatusError(resp)
	}

	var out AnalyzeResult
	if err := decodeBody(resp.Body, &out); err != nil {
		return AnalyzeResult{}, fmt.Errorf("decode analyze response: %w", err)
	}
	return out, nil
}

// WaitReady polls a project until its artifact is ready, the builder
// reports an error, or ctx ends.
func (c *Client) WaitReady(ctx context.Context, projectID string, interval time.Duration) (ProjectStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		status, err := c.ProjectStatus(ctx, projectID)
		if err != nil {
			return ProjectStatus{}, err
		}
		if status.ApkReady {
			return status, nil
		}
		if status.Status == "error" {
			return status, fmt.Errorf("%w: %s", ErrProjectFailed, status.Error)
		}
		if err := pollDelay(ctx, interval); err != nil {
			return status, fmt.Errorf("wait for project %s: %w", projectID, err)
		}
	}
}
