// Package builderstub is a development stand-in for the app builder service.
// It honours the builder's HTTP contract and produces placeholder artifacts.
package builderstub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/rahl/studio/pkg/buildclient"
	"github.com/rahl/studio/pkg/httpapi"
)

const (
	minDescriptionLength = 5
	maxRequestBody       = 64 << 10
	apkContentType       = "application/vnd.android.package-archive"
)

// Server serves the builder contract on top of a Store.
type Server struct {
	store      Store
	catalog    *Catalog
	logger     zerolog.Logger
	publicURL  string
	buildDelay time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customises a Server.
type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPublicURL makes reply links absolute.
func WithPublicURL(base string) Option {
	return func(s *Server) { s.publicURL = strings.TrimSuffix(base, "/") }
}

// WithBuildDelay sets how long a simulated build takes.
func WithBuildDelay(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.buildDelay = d
		}
	}
}

func NewServer(store Store, catalog *Catalog, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		store:      store,
		catalog:    catalog,
		logger:     zerolog.Nop(),
		buildDelay: 2 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close abandons pending builds and waits for their goroutines.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// Routes returns the stub builder's HTTP API and download handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpapi.AccessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleInfo)
	r.Get("/health", s.handleHealth)
	r.Get("/download/{projectID}", s.handleDownload)

	r.Route("/api", func(r chi.Router) {
		r.Get("/templates", s.handleTemplates)
		r.Post("/build", s.handleBuild)
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/projects", s.handleListProjects)
		r.Get("/project/{projectID}", s.handleGetProject)
		r.Get("/download/{projectID}", s.handleDownload)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpapi.RespondError(w, http.StatusNotFound, "Endpoint not found")
	})
	return r
}

type descriptionPayload struct {
	Description *string `json:"description"`
}

func decodeDescription(w http.ResponseWriter, r *http.Request) (string, bool) {
	var payload descriptionPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&payload); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid JSON payload")
		return "", false
	}
	if payload.Description == nil {
		httpapi.RespondError(w, http.StatusBadRequest, "Missing description")
		return "", false
	}
	return strings.TrimSpace(*payload.Description), true
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	httpapi.RespondJSON(w, map[string]any{
		"service": "Rahl AI APK Builder (stub)",
		"status":  "running",
		"endpoints": map[string]string{
			"/api/templates":     "Get available templates",
			"/api/build":         "POST: Build APK from description",
			"/api/project/<id>":  "GET: Get project status",
			"/download/<id>":     "GET: Download APK",
			"/api/download/<id>": "GET: Download APK",
		},
	}, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpapi.RespondJSON(w, buildclient.Health{
		Status:    "healthy",
		Timestamp: s.now().Format(time.RFC3339),
	}, http.StatusOK)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	httpapi.RespondJSON(w, s.catalog.Wire(), http.StatusOK)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	description, ok := decodeDescription(w, r)
	if !ok {
		return
	}
	analysis := s.catalog.Analyze(description)
	var suggested []buildclient.Template
	if tmpl, found := s.catalog.Lookup(analysis.AppType); found {
		suggested = append(suggested, tmpl)
	}
	httpapi.RespondJSON(w, buildclient.AnalyzeResult{
		Analysis:           analysis,
		Description:        description,
		SuggestedTemplates: suggested,
	}, http.StatusOK)
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	description, ok := decodeDescription(w, r)
	if !ok {
		return
	}
	if len([]rune(description)) < minDescriptionLength {
		httpapi.RespondError(w, http.StatusBadRequest, "Description too short")
		return
	}

	analysis := s.catalog.Analyze(description)
	now := s.now()
	project := Project{
		ID:          uuid.NewString()[:8],
		AppType:     analysis.AppType,
		PackageName: analysis.PackageName,
		Features:    analysis.Features,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      StatusBuilding,
		Progress:    10,
	}
	if err := s.store.Save(r.Context(), project); err != nil {
		logRequestError(r, err, "persist project failed")
		httpapi.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.wg.Add(1)
	go s.runBuild(project)

	escaped := url.PathEscape(project.ID)
	httpapi.RespondJSON(w, buildclient.BuildResult{
		ProjectID:   project.ID,
		Status:      string(StatusBuilding),
		Message:     "Your APK is being built in the background",
		CheckStatus: s.link("/api/project/" + escaped),
		Download:    s.link("/download/" + escaped),
		Analysis:    &analysis,
	}, http.StatusOK)
}

// runBuild advances a project through its simulated build.
func (s *Server) runBuild(project Project) {
	defer s.wg.Done()
	logger := s.logger.With().Str("project_id", project.ID).Logger()

	steps := []int{50, 100}
	for _, progress := range steps {
		select {
		case <-s.ctx.Done():
			logger.Warn().Msg("build abandoned")
			return
		case <-time.After(s.buildDelay / time.Duration(len(steps))):
		}

		project.Progress = progress
		project.UpdatedAt = s.now()
		if progress == 100 {
			project.Status = StatusCompleted
			project.ApkReady = true
			project.ApkSize = int64(len(placeholderArtifact(project)))
		}
		if err := s.store.Save(s.ctx, project); err != nil {
			logger.Error().Err(err).Msg("update project failed")
			s.failBuild(project, err)
			return
		}
	}
	logger.Info().Str("app_type", project.AppType).Msg("build completed")
}

func (s *Server) failBuild(project Project, cause error) {
	project.Status = StatusError
	project.ApkReady = false
	project.Error = cause.Error()
	project.UpdatedAt = s.now()
	if err := s.store.Save(s.ctx, project); err != nil {
		s.logger.Error().Err(err).Str("project_id", project.ID).Msg("record build failure failed")
	}
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, ok := s.lookup(w, r)
	if !ok {
		return
	}
	httpapi.RespondJSON(w, project, http.StatusOK)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.List(r.Context())
	if err != nil {
		logRequestError(r, err, "list projects failed")
		httpapi.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	summaries := make([]Summary, 0, len(projects))
	for _, p := range projects {
		summaries = append(summaries, p.summary())
	}
	httpapi.RespondJSON(w, map[string]any{"projects": summaries, "count": len(summaries)}, http.StatusOK)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	project, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if !project.ApkReady {
		httpapi.RespondError(w, http.StatusNotFound, "APK not found or not built yet")
		return
	}
	artifact := placeholderArtifact(project)
	w.Header().Set("Content-Type", apkContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="rahl_%s.apk"`, project.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Project, bool) {
	project, err := s.store.Get(r.Context(), chi.URLParam(r, "projectID"))
	if errors.Is(err, ErrProjectNotFound) {
		httpapi.RespondError(w, http.StatusNotFound, "Project not found")
		return Project{}, false
	}
	if err != nil {
		logRequestError(r, err, "load project failed")
		httpapi.RespondError(w, http.StatusInternalServerError, "Internal server error")
		return Project{}, false
	}
	return project, true
}

func (s *Server) link(path string) string {
	return s.publicURL + path
}

// placeholderArtifact stands in for the APK a real builder would produce.
func placeholderArtifact(p Project) []byte {
	return []byte(fmt.Sprintf("RAHL PLACEHOLDER APK\nproject=%s\napp_type=%s\npackage=%s\n", p.ID, p.AppType, p.PackageName))
}

func logRequestError(r *http.Request, err error, msg string) {
	hlog.FromRequest(r).Error().Err(err).Msg(msg)
}
