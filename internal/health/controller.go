package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/nyaya/internal/models"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a call is short-circuited because the dependency is down.
var ErrCircuitOpen = errors.New("circuit open")

// benignError marks an error that reflects the request, not dependency health.
type benignError struct{ err error }

func (e *benignError) Error() string { return e.err.Error() }
func (e *benignError) Unwrap() error { return e.err }

// Benign wraps err so that Call returns it unchanged without counting a failure.
// Use it for answers like "audio unclear" that prove the dependency is working.
func Benign(err error) error {
	if err == nil {
		return nil
	}
	return &benignError{err: err}
}

// Service names an external dependency.
type Service string

const (
	ServiceSTT         Service = "speech_to_text"
	ServiceTTS         Service = "text_to_speech"
	ServiceTranslation Service = "translation"
	ServiceRetrieval   Service = "retrieval"
	ServiceGeneration  Service = "generation"
)

// Services lists every dependency the controller tracks.
var Services = []Service{ServiceSTT, ServiceTTS, ServiceTranslation, ServiceRetrieval, ServiceGeneration}

// DependencyHealth is a point-in-time copy of one breaker.
type DependencyHealth struct {
	Service             Service   `json:"service"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	// TrialDue is true when the breaker is down but its cooldown has elapsed.
	TrialDue bool `json:"trial_due"`
}

// Available reports whether calls to the dependency may currently be attempted.
func (d DependencyHealth) Available() bool {
	return d.State != StateDown || d.TrialDue
}

// Probe checks a dependency out of band.
type Probe func(ctx context.Context) error

// StateObserver is notified when a dependency changes state.
type StateObserver func(service Service, from, to State)

// Controller wraps every external call with a circuit breaker and exposes a health snapshot.
type Controller struct {
	mu       sync.RWMutex
	breakers map[Service]*breaker
	probes   map[Service]Probe

	defaults      BreakerConfig
	overrides     map[Service]BreakerConfig
	probeInterval time.Duration
	now           func() time.Time
	observers     []StateObserver
	logger        *zap.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets a logger for state transitions.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithServiceConfig overrides breaker settings for one service.
func WithServiceConfig(s Service, cfg BreakerConfig) Option {
	return func(c *Controller) { c.overrides[s] = cfg }
}

// WithProbe registers an out-of-band health check used while the service is down.
func WithProbe(s Service, p Probe) Option {
	return func(c *Controller) { c.probes[s] = p }
}

// WithProbeInterval sets how often Run probes down services.
func WithProbeInterval(d time.Duration) Option {
	return func(c *Controller) { c.probeInterval = d }
}

// WithStateObserver registers a callback for state transitions.
func WithStateObserver(o StateObserver) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// NewController creates a controller tracking every service in Services.
func NewController(cfg BreakerConfig, opts ...Option) *Controller {
	c := &Controller{
		breakers:      make(map[Service]*breaker, len(Services)),
		probes:        make(map[Service]Probe),
		defaults:      cfg,
		overrides:     make(map[Service]BreakerConfig),
		probeInterval: 15 * time.Second,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, s := range Services {
		c.breakers[s] = newBreaker(c.configFor(s))
	}
	return c
}

func (c *Controller) configFor(s Service) BreakerConfig {
	if cfg, ok := c.overrides[s]; ok {
		return cfg
	}
	return c.defaults
}

func (c *Controller) breaker(s Service) *breaker {
	c.mu.RLock()
	b, ok := c.breakers[s]
	c.mu.RUnlock()
	if ok {
		return b
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok = c.breakers[s]; !ok {
		b = newBreaker(c.configFor(s))
		c.breakers[s] = b
	}
	return b
}

// Call runs fn against service s under its breaker and per-call timeout.
// A failure caused by the caller's own context ending is not counted against the dependency.
func (c *Controller) Call(ctx context.Context, s Service, fn func(ctx context.Context) error) error {
	b := c.breaker(s)
	ok, trial := b.allow(c.now())
	if !ok {
		return fmt.Errorf("%s: %w", s, ErrCircuitOpen)
	}

	callCtx := ctx
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil && ctx.Err() != nil {
		b.abandon(trial)
		return err
	}
	var be *benignError
	if errors.As(err, &be) {
		prev, next := b.record(c.now(), false, trial)
		if prev != next {
			c.notify(s, prev, next, nil)
		}
		return be.err
	}
	prev, next := b.record(c.now(), err != nil, trial)
	if prev != next {
		c.notify(s, prev, next, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", s, err)
	}
	return nil
}

func (c *Controller) notify(s Service, from, to State, err error) {
	fields := []zap.Field{zap.String("service", string(s)), zap.Stringer("from", from), zap.Stringer("to", to)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if to == StateDown {
		c.logger.Warn("dependency down", fields...)
	} else {
		c.logger.Info("dependency state changed", fields...)
	}
	for _, o := range c.observers {
		o(s, from, to)
	}
}

// Snapshot returns a copy of every tracked dependency's health.
func (c *Controller) Snapshot() Snapshot {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(Snapshot, len(c.breakers))
	for s, b := range c.breakers {
		snap[s] = b.snapshot(s, now)
	}
	return snap
}

// Tier returns the tier for the current snapshot.
func (c *Controller) Tier() models.Tier {
	return SelectTier(c.Snapshot())
}

// Run probes down services every probe interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if len(c.probes) == 0 || c.probeInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce runs the registered probe of every service that is down and due for a trial.
func (c *Controller) ProbeOnce(ctx context.Context) {
	for s, dh := range c.Snapshot() {
		p, ok := c.probes[s]
		if !ok || dh.State != StateDown || !dh.TrialDue {
			continue
		}
		if err := c.Call(ctx, s, p); err != nil {
			c.logger.Debug("probe failed", zap.String("service", string(s)), zap.Error(err))
		}
	}
}
