// Package pipeline orchestrates a legal query from admission to delivery: normalization,
// translation across the pivot language, cached retrieval and generation, validation, and
// session bookkeeping, degrading through service tiers as dependencies fail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hyperjump/nyaya/internal/cache"
	"github.com/hyperjump/nyaya/internal/health"
	"github.com/hyperjump/nyaya/internal/messages"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/internal/normalize"
	"github.com/hyperjump/nyaya/internal/session"
	"github.com/hyperjump/nyaya/internal/speech"
	"github.com/hyperjump/nyaya/internal/telemetry"
	"github.com/hyperjump/nyaya/internal/validator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Retriever ranks passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.Passage, error)
}

// Generator drafts a cited answer from passages.
type Generator interface {
	Generate(ctx context.Context, query string, passages []models.Passage, lang string) (models.CandidateAnswer, error)
}

// Validator accepts or rejects a drafted answer.
type Validator interface {
	Validate(c models.CandidateAnswer, passages []models.Passage, lang string) validator.Verdict
}

// Translator crosses the pivot-language boundary.
type Translator interface {
	Available() bool
	Translate(ctx context.Context, text, src, dst string) (string, error)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	ObserveResponse(kind, tier string, d time.Duration)
	ObserveStage(stage string, d time.Duration)
	TierSelected(tier string)
	SetQueueDepth(n int)
	SetInFlight(n int)
	Rejected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveResponse(string, string, time.Duration) {}
func (nopRecorder) ObserveStage(string, time.Duration)            {}
func (nopRecorder) TierSelected(string)                           {}
func (nopRecorder) SetQueueDepth(int)                             {}
func (nopRecorder) SetInFlight(int)                               {}
func (nopRecorder) Rejected(string)                               {}

// Components are the collaborators the engine orchestrates. Translator, Transcriber and
// Synthesizer may be nil; the engine then runs at the tier their absence allows.
type Components struct {
	Normalizer  *normalize.Normalizer
	Retriever   Retriever
	Generator   Generator
	Validator   Validator
	Translator  Translator
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Sessions    *session.Manager
	Cache       *cache.Cache
	Budget      *cache.Budget
	Health      *health.Controller
}

// Config holds pipeline settings.
type Config struct {
	RequestTimeout time.Duration
	Admission      AdmissionConfig
	PivotLanguage  string
	TopK           int
	RetrievalTTL   time.Duration
	GenerationTTL  time.Duration
	ResponseTTL    time.Duration
	// DegradedFactor scales the confidence of answers served from cache in the minimal tier.
	DegradedFactor  float64
	SynthesizeVoice bool
	// BudgetPruneInterval is how often idle budget state is dropped by Run.
	BudgetPruneInterval time.Duration
}

// DefaultConfig returns a 10s deadline with English as pivot.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:      10 * time.Second,
		Admission:           AdmissionConfig{MaxConcurrent: 64, MaxQueue: 256, QueueTimeout: 3 * time.Second},
		PivotLanguage:       "en",
		TopK:                5,
		RetrievalTTL:        time.Hour,
		GenerationTTL:       time.Hour,
		ResponseTTL:         30 * time.Minute,
		DegradedFactor:      0.5,
		SynthesizeVoice:     true,
		BudgetPruneInterval: 5 * time.Minute,
	}
}

// Engine answers legal queries. It is safe for concurrent use.
type Engine struct {
	c         Components
	cfg       Config
	admission *Admission
	rec       Recorder
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time

	// corpus is bumped whenever the passage index changes; it scopes the query-keyed caches.
	corpus atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. Normalizer, Retriever, Generator, Validator, Sessions, Cache and
// Health are required.
func New(c Components, cfg Config, opts ...Option) (*Engine, error) {
	if c.Normalizer == nil || c.Retriever == nil || c.Generator == nil || c.Validator == nil ||
		c.Sessions == nil || c.Cache == nil || c.Health == nil {
		return nil, errors.New("pipeline: missing required component")
	}
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.PivotLanguage == "" {
		cfg.PivotLanguage = def.PivotLanguage
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.Admission.MaxConcurrent <= 0 {
		cfg.Admission = def.Admission
	}
	if c.Budget == nil {
		c.Budget = cache.NewBudget(cache.BudgetConfig{}, nil)
	}

	e := &Engine{
		c:      c,
		cfg:    cfg,
		rec:    nopRecorder{},
		tracer: telemetry.Tracer(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.admission = NewAdmission(cfg.Admission)
	e.admission.observer = func(queued, inFlight int) {
		e.rec.SetQueueDepth(queued)
		e.rec.SetInFlight(inFlight)
	}
	return e, nil
}

// Answer returns the response to q. It never fails: every error becomes a user-facing response
// in the query's language.
func (e *Engine) Answer(ctx context.Context, q models.Query) (resp models.LegalResponse) {
	start := e.now()
	if q.ReceivedAt.IsZero() {
		q.ReceivedAt = start
	}
	ctx, span := e.tracer.Start(ctx, "answer", trace.WithAttributes(
		attribute.String("modality", string(q.Modality)),
		attribute.Bool("session", q.SessionID != ""),
	))
	req := &request{q: q, lang: e.provisionalLanguage(q), tier: models.TierMinimal}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("answer panicked", zap.Any("panic", r), zap.Stack("stack"))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			resp = e.fixed(context.WithoutCancel(ctx), models.KindUnavailable, messages.Unavailable, req.lang, req.tier)
		}
		span.SetAttributes(
			attribute.String("kind", string(resp.Kind)),
			attribute.String("tier", string(resp.Tier)),
			attribute.String("language", resp.Language),
		)
		span.End()
		e.rec.ObserveResponse(string(resp.Kind), string(resp.Tier), e.now().Sub(start))
	}()
	e.stage(ctx, models.StageReceived, start)

	release, err := e.admission.Acquire(ctx)
	if err != nil {
		return e.busy(ctx, req.lang, err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	resp = e.handle(ctx, req)
	if req.seq > 0 {
		e.record(ctx, req, resp)
	}
	e.stage(ctx, models.StageDelivered, start)
	return resp
}

// StartSession creates a session for lang and returns its id. An empty or unsupported lang
// falls back to the default language.
func (e *Engine) StartSession(ctx context.Context, lang string) (string, error) {
	if lang != "" {
		if l, err := normalize.ParseLanguage(lang); err == nil && e.c.Normalizer.Supports(l) {
			lang = l
		} else {
			lang = ""
		}
	}
	if lang == "" {
		lang = e.c.Normalizer.DefaultLanguage()
	}
	s, err := e.c.Sessions.Start(ctx, lang)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// EndSession wipes a session immediately.
func (e *Engine) EndSession(ctx context.Context, id string) error {
	return e.c.Sessions.End(ctx, id)
}

// History returns a session's turns in receipt order.
func (e *Engine) History(ctx context.Context, id string) ([]models.Turn, error) {
	return e.c.Sessions.History(ctx, id)
}

// HealthReport is the current tier and dependency health.
type HealthReport struct {
	Tier     models.Tier     `json:"tier"`
	Services health.Snapshot `json:"services"`
	Queued   int             `json:"queued"`
	InFlight int             `json:"in_flight"`
}

// Health reports what tier a request arriving now would be served at.
func (e *Engine) Health() HealthReport {
	tier, snap := e.selectTier()
	queued, inFlight := e.admission.Stats()
	return HealthReport{Tier: tier, Services: snap, Queued: queued, InFlight: inFlight}
}

// CorpusChanged invalidates cached retrievals and responses after the passage index changed.
// Generation entries are keyed on passage source versions and need no invalidation.
func (e *Engine) CorpusChanged() {
	e.corpus.Add(1)
}

func (e *Engine) fingerprint(text, lang string, stage cache.Stage) string {
	return cache.Fingerprint(text, lang, stage, strconv.FormatUint(e.corpus.Load(), 10))
}

// Run drives the background work of the engine's components until ctx is cancelled: the session
// sweeper, the dependency prober, and budget pruning.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.c.Sessions.Run(ctx)
		return nil
	})
	g.Go(func() error {
		e.c.Health.Run(ctx)
		return nil
	})
	if e.cfg.BudgetPruneInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(e.cfg.BudgetPruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n := e.c.Budget.Prune(); n > 0 {
						e.logger.Debug("pruned idle budgets", zap.Int("count", n))
					}
				}
			}
		})
	}
	return g.Wait()
}

// selectTier recomputes the tier from live health, treating collaborators that were never
// configured as down.
func (e *Engine) selectTier() (models.Tier, health.Snapshot) {
	snap := e.c.Health.Snapshot()
	configured := map[health.Service]bool{
		health.ServiceSTT:         e.c.Transcriber != nil,
		health.ServiceTTS:         e.c.Synthesizer != nil,
		health.ServiceTranslation: e.c.Translator != nil && e.c.Translator.Available(),
	}
	for svc, ok := range configured {
		if ok {
			continue
		}
		dh := snap[svc]
		dh.Service = svc
		dh.State = health.StateDown
		dh.TrialDue = false
		snap[svc] = dh
	}
	return health.SelectTier(snap), snap
}

// provisionalLanguage is the best guess at the reply language before normalization runs.
func (e *Engine) provisionalLanguage(q models.Query) string {
	if q.Language != "" {
		if l, err := normalize.ParseLanguage(q.Language); err == nil && e.c.Normalizer.Supports(l) {
			return l
		}
	}
	if q.Text != "" {
		if l, ok := normalize.DetectLanguage(q.Text, normalize.Tokenize(q.Text)); ok && e.c.Normalizer.Supports(l) {
			return l
		}
	}
	return e.c.Normalizer.DefaultLanguage()
}

func (e *Engine) stage(ctx context.Context, s models.Stage, since time.Time) {
	d := e.now().Sub(since)
	trace.SpanFromContext(ctx).AddEvent(string(s))
	e.rec.ObserveStage(string(s), d)
	e.logger.Debug("stage", zap.String("stage", string(s)), zap.Duration("elapsed", d))
}

// record appends the turn to the session history. Audio is never stored.
func (e *Engine) record(ctx context.Context, req *request, resp models.LegalResponse) {
	q := req.q.WithText(req.text)
	r := resp.Clone()
	r.Audio = nil
	err := e.c.Sessions.Append(context.WithoutCancel(ctx), req.q.SessionID, models.Turn{Seq: req.seq, Query: q, Response: r})
	if err != nil {
		e.logger.Warn("turn not recorded", zap.String("session_id", req.q.SessionID), zap.Error(err))
	}
}
