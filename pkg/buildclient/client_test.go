package buildclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPostsDescription(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/build", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"project_id":"proj-42","status":"building","unknown":{"nested":true}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL + "/")
	result, err := client.Build(context.Background(), BuildRequest{Description: "Create an app that shows my website https://myblog.com"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"description":"Create an app that shows my website https://myblog.com"}`, string(gotBody))
	assert.Equal(t, "proj-42", result.ProjectID)
	assert.Equal(t, "building", result.Status)
	assert.Equal(t, srv.URL+"/download/proj-42", client.DownloadLocationFor(result))
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		checkFn func(t *testing.T, err error)
	}{
		{
			name:   "non-success status",
			status: http.StatusBadRequest,
			body:   `{"error":"Description too short"}`,
			checkFn: func(t *testing.T, err error) {
				var statusErr *StatusError
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
				assert.Contains(t, statusErr.Body, "Description too short")
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `<html>oops</html>`,
			checkFn: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "decode build response")
			},
		},
		{
			name:   "trailing data after reply",
			status: http.StatusOK,
			body:   `{"project_id":"abc"}<html>proxy error</html>`,
			checkFn: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errTrailingData)
				assert.Contains(t, err.Error(), "decode build response")
			},
		},
		{
			name:   "second JSON value",
			status: http.StatusOK,
			body:   `{"project_id":"abc"} {"project_id":"def"}`,
			checkFn: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errTrailingData)
			},
		},
		{
			name:   "missing project id",
			status: http.StatusOK,
			body:   `{"status":"building"}`,
			checkFn: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMissingProjectID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Build(context.Background(), BuildRequest{Description: "notes app"})
			require.Error(t, err)
			tt.checkFn(t, err)
		})
	}
}

func TestBuildTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(addr).Build(context.Background(), BuildRequest{Description: "notes app"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit build")
}

func TestBuildHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL).Build(ctx, BuildRequest{Description: "notes app"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDownloadLocationEscapesIdentifier(t *testing.T) {
	assert.Equal(t, "http://b.local/download/abc123", DownloadLocation("http://b.local/", "abc123"))
	assert.Equal(t, "http://b.local/download/a%2Fb%20c%3F", DownloadLocation("http://b.local", "a/b c?"))
}

func TestTemplates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/templates", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"templates": map[string]any{
				"calculator": map[string]string{"name": "Calculator", "description": "math", "complexity": "simple"},
			},
			"count": 1,
		})
	}))
	defer srv.Close()

	catalog, err := NewClient(srv.URL).Templates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Count)
	assert.Equal(t, "Calculator", catalog.Templates["calculator"].Name)
}

func TestProjectStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/project/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ProjectStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/analyze", r.URL.Path)
		var req BuildRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(AnalyzeResult{
			Analysis:    Analysis{AppType: "calculator", PackageName: "com.rahl.calc"},
			Description: req.Description,
		})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL).Analyze(context.Background(), "a calculator")
	require.NoError(t, err)
	assert.Equal(t, "calculator", out.Analysis.AppType)
	assert.Equal(t, "a calculator", out.Description)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","timestamp":"2026-10-18T10:00:00Z"}`))
	}))
	defer srv.Close()

	health, err := NewClient(srv.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestWaitReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		status := ProjectStatus{ID: "p1", Status: "building", Progress: 50}
		if n >= 3 {
			status = ProjectStatus{ID: "p1", Status: "completed", Progress: 100, ApkReady: true, ApkSize: 12}
		}
		_ = json.NewEncoder(w).Encode(status)
	}))
	defer srv.Close()

	status, err := NewClient(srv.URL).WaitReady(context.Background(), "p1", time.Millisecond)
	require.NoError(t, err)
	assert.True(t, status.ApkReady)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitReadyProjectError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ProjectStatus{ID: "p1", Status: "error", Error: "gradle exploded"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).WaitReady(context.Background(), "p1", time.Millisecond)
	require.ErrorIs(t, err, ErrProjectFailed)
	assert.Contains(t, err.Error(), "gradle exploded")
}

func TestGetJSONRejectsTrailingData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{\"status\":\"healthy\"}\n<!-- cached -->"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Health(context.Background())
	assert.ErrorIs(t, err, errTrailingData)
}

func TestBuildAcceptsTrailingWhitespace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{\"project_id\":\"abc\"}\n\n"))
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL).Build(context.Background(), BuildRequest{Description: "notes app"})
	require.NoError(t, err)
	assert.Equal(t, "abc", result.ProjectID)
}
