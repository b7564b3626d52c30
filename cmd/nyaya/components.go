package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hyperjump/nyaya/internal/cache"
	"github.com/hyperjump/nyaya/internal/config"
	"github.com/hyperjump/nyaya/internal/embedding"
	"github.com/hyperjump/nyaya/internal/extract"
	"github.com/hyperjump/nyaya/internal/generation"
	"github.com/hyperjump/nyaya/internal/health"
	"github.com/hyperjump/nyaya/internal/indexer"
	"github.com/hyperjump/nyaya/internal/keyword"
	"github.com/hyperjump/nyaya/internal/llm"
	"github.com/hyperjump/nyaya/internal/metrics"
	"github.com/hyperjump/nyaya/internal/normalize"
	"github.com/hyperjump/nyaya/internal/pipeline"
	"github.com/hyperjump/nyaya/internal/remote"
	"github.com/hyperjump/nyaya/internal/retrieval"
	"github.com/hyperjump/nyaya/internal/search"
	"github.com/hyperjump/nyaya/internal/session"
	"github.com/hyperjump/nyaya/internal/speech"
	"github.com/hyperjump/nyaya/internal/storage"
	"github.com/hyperjump/nyaya/internal/telemetry"
	"github.com/hyperjump/nyaya/internal/translate"
	"github.com/hyperjump/nyaya/internal/validator"
	"github.com/hyperjump/nyaya/internal/vector"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Index holds the passage index and its loader.
type Index struct {
	Hybrid  *search.HybridIndex
	Indexer *indexer.Indexer

	// notify is called after the indexer changed the index. Set before loading starts.
	notify func()
}

// Close closes every underlying store.
func (i *Index) Close() error {
	if i.Hybrid == nil {
		return nil
	}
	return i.Hybrid.Close()
}

// initializeIndex opens the passage database, the vector index and the keyword index.
func initializeIndex(cfg *config.Config, logger *zap.Logger) (*Index, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.New(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		ModelPath:  cfg.Embedding.ModelPath,
		Dimensions: cfg.Embedding.Dimensions,
		MaxTokens:  cfg.Embedding.MaxTokens,
		CacheSize:  cfg.Embedding.CacheSize,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	vectorIndex, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if loadErr := vectorIndex.Load(cfg.Storage.VectorIndexPath); loadErr != nil {
		logger.Warn("vector index load skipped, corpus will be re-embedded",
			zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(loadErr))
	}

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		_ = vectorIndex.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	hybrid := search.NewHybridIndex(store, embedder, vectorIndex, keywordIndex, search.Options{
		TitleBoost:   cfg.Retrieval.TitleBoost,
		FuzzyEnabled: cfg.Retrieval.FuzzyEnabled,
	}, search.WithLogger(logger))

	i := &Index{Hybrid: hybrid}
	i.Indexer = indexer.NewIndexer(hybrid, extract.NewExtractor(), cfg.Corpus.Language,
		indexer.WithExtensions(cfg.Corpus.Extensions...),
		indexer.WithLogger(logger),
		indexer.OnChange(func() {
			if i.notify != nil {
				i.notify()
			}
		}),
	)
	return i, nil
}

// Components is everything the serve and ask commands run.
type Components struct {
	Index      *Index
	Engine     *pipeline.Engine
	Metrics    *metrics.Metrics
	Translator *translate.Translator
	// Lexicon is the classifier's legal lexicon, extended by the glossary.
	Lexicon *normalize.Lexicon
	redis   *redis.Client
}

// applyGlossary registers the glossary's forms and variants as legal terms and hands the
// glossary to the translator. Terms are only added; a removed term stays until restart.
func (c *Components) applyGlossary(g *translate.Glossary) {
	if c.Lexicon != nil {
		c.Lexicon.Add(g.Keywords()...)
	}
	if c.Translator != nil {
		c.Translator.SetGlossary(g)
	}
}

// Close releases the index and the shared redis client.
func (c *Components) Close() error {
	var result *multierror.Error
	if c.Index != nil {
		if err := c.Index.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("redis: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	idx, err := initializeIndex(cfg, logger)
	if err != nil {
		return nil, err
	}
	c := &Components{Index: idx, Metrics: metrics.New()}
	fail := func(err error) (*Components, error) {
		_ = c.Close()
		return nil, err
	}

	if cfg.Session.Backend == "redis" || cfg.Cache.Backend == "redis" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fail(fmt.Errorf("failed to connect to redis: %w", err))
		}
	}

	c.Metrics.InitServices(health.Services)
	breaker := health.BreakerConfig{
		FailureThreshold: cfg.Health.FailureThreshold,
		FailureWindow:    cfg.Health.FailureWindow,
		OpenDuration:     cfg.Health.OpenDuration,
		CallTimeout:      cfg.Health.CallTimeout,
	}
	completer := newCompleter(cfg, logger)
	clients := newCollaborators(cfg, logger)
	healthOpts := []health.Option{
		health.WithLogger(logger),
		health.WithProbeInterval(cfg.Health.ProbeInterval),
		health.WithStateObserver(c.Metrics.StateChanged),
	}
	for svc, probe := range collaboratorProbes(idx, completer, clients) {
		healthOpts = append(healthOpts, health.WithProbe(svc, probe))
	}
	controller := health.NewController(breaker, healthOpts...)

	counter, err := llm.NewTokenCounter(cfg.LLM.Encoding)
	if err != nil {
		logger.Warn("token encoding unavailable, approximating by words",
			zap.String("encoding", cfg.LLM.Encoding), zap.Error(err))
	}
	budget := cache.NewBudget(cache.BudgetConfig{
		RequestsPerMinute: cfg.Budget.RequestsPerMinute,
		Burst:             cfg.Budget.Burst,
		MaxQueryTokens:    cfg.Budget.MaxQueryTokens,
		MaxSessionTokens:  cfg.Budget.MaxSessionTokens,
		IdleTTL:           cfg.Session.TTL,
	}, counter)

	var sessionStore session.Store = session.NewMemoryStore(cfg.Session.Shards)
	if cfg.Session.Backend == "redis" {
		sessionStore = session.NewRedisStore(c.redis, cfg.Redis.KeyPrefix)
	}
	sessions := session.NewManager(sessionStore, session.Config{
		TTL:           cfg.Session.TTL,
		MaxTurns:      cfg.Session.MaxTurns,
		SweepInterval: cfg.Session.SweepInterval,
	}, session.WithLogger(logger), session.OnEnd(budget.Forget))

	var cacheStore cache.Store = cache.NewMemoryStore(cfg.Cache.ResponseTTL, cfg.Cache.CleanupPeriod)
	if cfg.Cache.Backend == "redis" {
		cacheStore = cache.NewRedisStore(c.redis, cfg.Redis.KeyPrefix)
	}
	stageCache := cache.New(cacheStore,
		cache.WithLogger(logger),
		cache.WithObserver(c.Metrics),
		cache.WithComputeTimeout(cfg.Cache.ComputeTimeout),
	)

	normalizer := normalize.New(normalize.Policy{
		MinTokens:         cfg.Classifier.MinTokens,
		MinSpecificTokens: cfg.Classifier.MinSpecificTokens,
		InDomainThreshold: cfg.Classifier.InDomainThreshold,
		KeywordWeight:     cfg.Classifier.KeywordWeight,
		QuestionWeight:    cfg.Classifier.QuestionWeight,
		EntityWeight:      cfg.Classifier.EntityWeight,
		FuzzyMinLength:    cfg.Classifier.FuzzyMinLength,
	},
		normalize.WithLexicon(normalize.NewLexicon(cfg.Classifier.ExtraKeywords...)),
		normalize.WithDefaultLanguage(cfg.Classifier.DefaultLanguage),
	)
	c.Lexicon = normalizer.Lexicon()

	glossary := translate.NewGlossary()
	if cfg.Translate.GlossaryPath != "" {
		g, err := translate.LoadGlossary(cfg.Translate.GlossaryPath)
		if err != nil {
			return fail(fmt.Errorf("failed to load glossary: %w", err))
		}
		glossary = g
	}
	c.Lexicon.Add(glossary.Keywords()...)

	retriever := retrieval.NewEngine(idx.Hybrid, retrieval.Config{
		SemanticWeight:    cfg.Retrieval.SemanticWeight,
		LexicalWeight:     cfg.Retrieval.LexicalWeight,
		MinRelevance:      cfg.Retrieval.MinRelevance,
		LexicalSaturation: cfg.Retrieval.LexicalSaturation,
		TopK:              cfg.Retrieval.TopK,
		Candidates:        cfg.Retrieval.Candidates,
	}, retrieval.WithCaller(controller), retrieval.WithLogger(logger))

	generator := generation.NewEngine(completer, generation.Config{
		ModelWeight:            cfg.Generation.ModelWeight,
		CoverageWeight:         cfg.Generation.CoverageWeight,
		DefaultModelConfidence: cfg.Generation.DefaultModelConfidence,
		MaxPassageChars:        cfg.Generation.MaxPassageChars,
	}, generation.WithCaller(controller), generation.WithLogger(logger))

	v := validator.New(validator.Config{
		MinConfidence:   cfg.Validator.MinConfidence,
		RequireCitation: cfg.Validator.RequireCitationOrDefault(),
	}, validator.WithLogger(logger))

	components := pipeline.Components{
		Normalizer: normalizer,
		Retriever:  retriever,
		Generator:  generator,
		Validator:  v,
		Sessions:   sessions,
		Cache:      stageCache,
		Budget:     budget,
		Health:     controller,
	}

	// Optional collaborators are only assigned when configured so the interfaces stay nil.
	if clients.translate != nil {
		mt := translate.NewHTTPTranslator(clients.translate)
		c.Translator = translate.New(mt, glossary, translate.WithCaller(controller), translate.WithLogger(logger))
		components.Translator = c.Translator
	}
	if clients.stt != nil {
		components.Transcriber = speech.NewHTTPTranscriber(clients.stt, cfg.Speech.MinConfidence)
	}
	if clients.tts != nil {
		components.Synthesizer = speech.NewHTTPSynthesizer(clients.tts)
	}

	engine, err := pipeline.New(components, pipelineConfig(cfg),
		pipeline.WithLogger(logger),
		pipeline.WithRecorder(c.Metrics),
		pipeline.WithTracer(telemetry.Tracer()),
	)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize pipeline: %w", err))
	}
	c.Engine = engine
	idx.notify = engine.CorpusChanged
	return c, nil
}

func newCompleter(cfg *config.Config, logger *zap.Logger) *llm.OpenAIClient {
	return llm.NewOpenAIClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, llm.WithLogger(logger))
}

// collaborators holds the HTTP clients of the optional services; nil when not configured.
type collaborators struct {
	translate, stt, tts *remote.Client
}

func newCollaborators(cfg *config.Config, logger *zap.Logger) collaborators {
	var c collaborators
	if cfg.Translate.Endpoint != "" {
		c.translate = newRemote(cfg.Translate.Endpoint, logger)
	}
	if cfg.Speech.STTEndpoint != "" {
		c.stt = newRemote(cfg.Speech.STTEndpoint, logger)
	}
	if cfg.Speech.TTSEndpoint != "" {
		c.tts = newRemote(cfg.Speech.TTSEndpoint, logger)
	}
	return c
}

// collaboratorProbes returns the out-of-band checks the controller runs while a service is down.
func collaboratorProbes(idx *Index, completer *llm.OpenAIClient, clients collaborators) map[health.Service]health.Probe {
	probes := map[health.Service]health.Probe{
		health.ServiceRetrieval: func(ctx context.Context) error {
			_, err := idx.Hybrid.Count(ctx)
			return err
		},
		health.ServiceGeneration: completer.Ping,
	}
	if clients.translate != nil {
		probes[health.ServiceTranslation] = clients.translate.Ping
	}
	if clients.stt != nil {
		probes[health.ServiceSTT] = clients.stt.Ping
	}
	if clients.tts != nil {
		probes[health.ServiceTTS] = clients.tts.Ping
	}
	return probes
}

func newRemote(baseURL string, logger *zap.Logger) *remote.Client {
	return remote.New(baseURL, remote.WithRetry(2, 100*time.Millisecond), remote.WithLogger(logger))
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.RequestTimeout = cfg.Pipeline.RequestTimeout
	pc.Admission = pipeline.AdmissionConfig{
		MaxConcurrent: cfg.Pipeline.MaxConcurrent,
		MaxQueue:      cfg.Pipeline.MaxQueue,
		QueueTimeout:  cfg.Pipeline.QueueTimeout,
	}
	pc.PivotLanguage = cfg.Translate.PivotLanguage
	pc.TopK = cfg.Retrieval.TopK
	pc.RetrievalTTL = cfg.Cache.RetrievalTTL
	pc.GenerationTTL = cfg.Cache.GenerationTTL
	pc.ResponseTTL = cfg.Cache.ResponseTTL
	pc.DegradedFactor = cfg.Pipeline.DegradedFactor
	pc.SynthesizeVoice = cfg.Pipeline.SynthesizeVoice
	return pc
}
