// Package studio serves the browser front end: a description form backed by
// one build session per browser.
package studio

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/rahl/studio/pkg/buildclient"
	"github.com/rahl/studio/pkg/httpapi"
	"github.com/rahl/studio/pkg/session"
)

// SessionCookie names the cookie carrying the browser's session id.
const SessionCookie = "rahl_session"

const maxRequestBody = 64 << 10

//go:embed templates/*.html
var templates embed.FS

var examples = []string{
	"Create an app that shows my website https://myblog.com",
	"A calculator with dark mode",
	"A todo list that reminds me of my tasks",
	"A notes app where I can write my journal",
	"A weather app that shows the forecast",
	"A simple tic-tac-toe game",
}

// Config tunes a Server.
type Config struct {
	RequestTimeout time.Duration
	SubmitRPS      float64
	SubmitBurst    int
	SessionIdleTTL time.Duration
	// TrustProxy honours X-Real-IP and X-Forwarded-For when identifying
	// clients. Enable it only behind a proxy that overwrites those headers.
	TrustProxy bool
}

// Server wires browser sessions to build controllers.
type Server struct {
	client     *buildclient.Client
	registry   *Registry
	limiter    *submitLimiter
	logger     zerolog.Logger
	gatherer   prometheus.Gatherer
	page       *template.Template
	trustProxy bool
	now        func() time.Time
}

// NewServer builds a Server whose controllers talk to client. Session metrics
// are registered on reg and served from /metrics.
func NewServer(client *buildclient.Client, cfg Config, logger zerolog.Logger, reg *prometheus.Registry) (*Server, error) {
	metrics, err := session.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register session metrics: %w", err)
	}
	page, err := template.ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	newController := func() *session.Controller {
		return session.NewController(client,
			session.WithLogger(logger),
			session.WithTimeout(cfg.RequestTimeout),
			session.WithMetrics(metrics),
		)
	}

	return &Server{
		client:     client,
		registry:   NewRegistry(newController, cfg.SessionIdleTTL),
		limiter:    newSubmitLimiter(cfg.SubmitRPS, cfg.SubmitBurst, cfg.SessionIdleTTL),
		logger:     logger,
		gatherer:   reg,
		page:       page,
		trustProxy: cfg.TrustProxy,
		now:        time.Now,
	}, nil
}

// Registry exposes the session registry so callers can run its evictor.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Routes returns the studio router with its middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(httpapi.AccessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", healthzHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/templates", s.handleTemplates)
		r.Post("/session", s.handleSubmit)
		r.Get("/session", s.handleGetSession)
		r.Get("/session/events", s.handleEvents)
	})
	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	httpapi.RespondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// sessionFor returns the caller's controller, creating one and setting the
// cookie when the browser has none.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *session.Controller {
	var id string
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		id = cookie.Value
	}
	newID, controller := s.registry.GetOrCreate(id)
	if newID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    newID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return controller
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	controller := s.sessionFor(w, r)
	data := struct {
		View     View
		Examples []string
	}{
		View:     viewOf(controller, controller.State()),
		Examples: examples,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.ExecuteTemplate(w, "index.html", data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render index failed")
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&payload); err != nil {
		httpapi.RespondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(payload.Description) == "" {
		httpapi.RespondError(w, http.StatusBadRequest, "description is required")
		return
	}

	controller := s.sessionFor(w, r)
	// A conflicting submit must not spend the caller's rate budget.
	if _, busy := controller.State().(session.Submitting); busy {
		httpapi.RespondJSON(w, viewOf(controller, controller.State()), http.StatusConflict)
		return
	}
	if !s.limiter.allow(clientKey(r), s.now()) {
		httpapi.RespondError(w, http.StatusTooManyRequests, "too many build requests")
		return
	}
	// The attempt outlives this request; the controller applies its own timeout.
	if _, ok := controller.Begin(context.WithoutCancel(r.Context()), payload.Description); !ok {
		httpapi.RespondJSON(w, viewOf(controller, controller.State()), http.StatusConflict)
		return
	}
	httpapi.RespondJSON(w, viewOf(controller, controller.State()), http.StatusAccepted)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		httpapi.RespondJSON(w, View{Status: session.StatusIdle}, http.StatusOK)
		return
	}
	controller, ok := s.registry.Get(cookie.Value)
	if !ok {
		httpapi.RespondJSON(w, View{Status: session.StatusIdle}, http.StatusOK)
		return
	}
	httpapi.RespondJSON(w, viewOf(controller, controller.State()), http.StatusOK)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpapi.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	controller := s.sessionFor(w, r)
	updates, stop := controller.Subscribe()
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case state, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(viewOf(controller, state))
			if err != nil {
				hlog.FromRequest(r).Error().Err(err).Msg("encode session view failed")
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	catalog, err := s.client.Templates(ctx)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("fetch templates failed")
		httpapi.RespondError(w, http.StatusBadGateway, "builder unavailable")
		return
	}
	httpapi.RespondJSON(w, catalog, http.StatusOK)
}

// clientKey is the peer address, or the proxy-reported client when
// TrustProxy mounted middleware.RealIP.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
