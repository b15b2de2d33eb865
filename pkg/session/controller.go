// Package session owns the lifecycle of a single build attempt: it guards
// submission, issues one build request and exposes the settled outcome to
// presentation layers.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rahl/studio/pkg/buildclient"
	"github.com/rahl/studio/pkg/telemetry"
)

// DefaultTimeout bounds a single build request.
const DefaultTimeout = 5 * time.Minute

// Builder is the part of the builder contract the controller depends on.
type Builder interface {
	Build(ctx context.Context, req buildclient.BuildRequest) (buildclient.BuildResult, error)
	DownloadLocationFor(result buildclient.BuildResult) string
}

// Controller is a small state machine wrapping one build request at a time.
type Controller struct {
	builder Builder
	logger  zerolog.Logger
	timeout time.Duration
	metrics *Metrics
	now     func() time.Time

	mu          sync.Mutex
	state       State
	attempts    uint64
	subscribers map[int]chan State
	nextSub     int
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the logger used to capture failure causes.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records submissions on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController returns an Idle controller bound to builder.
func NewController(builder Builder, opts ...Option) *Controller {
	c := &Controller{
		builder:     builder,
		logger:      zerolog.Nop(),
		timeout:     DefaultTimeout,
		now:         time.Now,
		state:       Idle{},
		subscribers: make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit runs one attempt to completion. It returns false without touching
// the session or the network when description is blank or another attempt is
// still in flight.
func (c *Controller) Submit(ctx context.Context, description string) (Outcome, bool) {
	attempt, ok := c.begin(description)
	if !ok {
		return Outcome{}, false
	}
	return c.run(ctx, attempt), true
}

// Begin is the non-blocking form of Submit. The session is Submitting when
// Begin returns; the settled outcome is delivered once on the channel. ctx
// must outlive the caller if the caller returns before the attempt settles.
func (c *Controller) Begin(ctx context.Context, description string) (<-chan Outcome, bool) {
	attempt, ok := c.begin(description)
	if !ok {
		return nil, false
	}
	done := make(chan Outcome, 1)
	go func() {
		done <- c.run(ctx, attempt)
	}()
	return done, true
}

// DownloadLocationFor derives where the artifact of result can be fetched.
func (c *Controller) DownloadLocationFor(result buildclient.BuildResult) string {
	return c.builder.DownloadLocationFor(result)
}

// Subscribe delivers the current state and every later change. Slow readers
// only ever see the latest state. The returned func stops the subscription.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	ch <- c.state
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) begin(description string) (Submitting, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(description) == "" {
		c.metrics.rejected()
		return Submitting{}, false
	}
	if _, busy := c.state.(Submitting); busy {
		c.metrics.rejected()
		return Submitting{}, false
	}

	c.attempts++
	next := Submitting{
		Attempt:     c.attempts,
		Description: description,
		StartedAt:   c.now(),
	}
	c.setLocked(next)
	c.metrics.started()
	return next, true
}

func (c *Controller) run(ctx context.Context, attempt Submitting) Outcome {
	ctx, span := telemetry.Tracer().Start(ctx, "session.submit",
		trace.WithAttributes(attribute.Int64("rahl.attempt", int64(attempt.Attempt))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logger := c.logger.With().Uint64("attempt", attempt.Attempt).Logger()
	logger.Debug().Msg("submitting build request")

	result, err := c.builder.Build(ctx, buildclient.BuildRequest{Description: attempt.Description})
	settledAt := c.now()
	elapsed := settledAt.Sub(attempt.StartedAt)

	var next State
	if err != nil {
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("build request failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrBuildFailed.Error())
		c.metrics.settled(outcomeFailed, elapsed)
		next = Failed{
			Attempt:     attempt.Attempt,
			Description: attempt.Description,
			Err:         fmt.Errorf("%w: %w", ErrBuildFailed, err),
			SettledAt:   settledAt,
		}
	} else {
		logger.Info().Str("project_id", result.ProjectID).Dur("elapsed", elapsed).Msg("build request succeeded")
		c.metrics.settled(outcomeSucceeded, elapsed)
		next = Succeeded{
			Attempt:     attempt.Attempt,
			Description: attempt.Description,
			Result:      result,
			SettledAt:   settledAt,
		}
	}

	c.mu.Lock()
	c.setLocked(next)
	c.mu.Unlock()

	return outcomeOf(next)
}

// setLocked replaces the state and notifies subscribers. c.mu must be held.
func (c *Controller) setLocked(next State) {
	c.state = next
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next:
		default:
		}
	}
}
