// Package config provides configuration loading and structs for the Nyaya engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Classifier ClassifierConfig `yaml:"classifier"`
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Validator  ValidatorConfig  `yaml:"validator"`
	Translate  TranslateConfig  `yaml:"translation"`
	Speech     SpeechConfig     `yaml:"speech"`
	Session    SessionConfig    `yaml:"session"`
	Cache      CacheConfig      `yaml:"cache"`
	Budget     BudgetConfig     `yaml:"budget"`
	Health     HealthConfig     `yaml:"health"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

// StorageConfig holds paths for the passage database and indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path" validate:"required"`
	BleveIndexPath  string `yaml:"bleve_index_path" validate:"required"`
	VectorIndexPath string `yaml:"vector_index_path"`
}

// CorpusConfig lists the statute sources loaded into the passage index.
type CorpusConfig struct {
	Paths      []string `yaml:"paths"`
	Extensions []string `yaml:"extensions"`
	Watch      bool     `yaml:"watch"`
	// Language is assigned to passages whose source does not declare one.
	Language string `yaml:"language"`
}

// EmbeddingConfig selects the embedder. Provider "hashing" needs no model file; "onnx" requires CGO.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" validate:"oneof=hashing onnx"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions" validate:"min=8"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
}

// RetrievalConfig holds hybrid retrieval weights and thresholds.
type RetrievalConfig struct {
	SemanticWeight float64 `yaml:"semantic_weight" validate:"gte=0,lte=1"`
	LexicalWeight  float64 `yaml:"lexical_weight" validate:"gte=0,lte=1"`
	MinRelevance   float64 `yaml:"min_relevance" validate:"gte=0,lte=1"`
	// LexicalSaturation is the raw keyword score that counts as half relevant.
	LexicalSaturation float64 `yaml:"lexical_saturation" validate:"gte=0"`
	TopK              int     `yaml:"top_k" validate:"min=1"`
	Candidates        int     `yaml:"candidates" validate:"min=1"`
	TitleBoost        float64 `yaml:"title_boost"`
	FuzzyEnabled      bool    `yaml:"fuzzy_enabled"`
}

// ClassifierConfig tunes the in-domain / ambiguous / out-of-domain decision.
type ClassifierConfig struct {
	MinTokens         int      `yaml:"min_tokens" validate:"min=1"`
	MinSpecificTokens int      `yaml:"min_specific_tokens" validate:"min=1"`
	InDomainThreshold float64  `yaml:"in_domain_threshold" validate:"gte=0,lte=1"`
	KeywordWeight     float64  `yaml:"keyword_weight"`
	QuestionWeight    float64  `yaml:"question_weight"`
	EntityWeight      float64  `yaml:"entity_weight"`
	FuzzyMinLength    int      `yaml:"fuzzy_min_length"`
	ExtraKeywords     []string `yaml:"extra_keywords"`
	DefaultLanguage   string   `yaml:"default_language"`
}

// LLMConfig points at an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model" validate:"required"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens"`
	Encoding    string  `yaml:"encoding"`
}

// GenerationConfig controls prompt assembly and confidence scoring.
type GenerationConfig struct {
	ModelWeight            float64 `yaml:"model_weight" validate:"gte=0,lte=1"`
	CoverageWeight         float64 `yaml:"coverage_weight" validate:"gte=0,lte=1"`
	DefaultModelConfidence float64 `yaml:"default_model_confidence" validate:"gte=0,lte=1"`
	MaxPassageChars        int     `yaml:"max_passage_chars"`
}

// ValidatorConfig holds the acceptance rules for generated answers.
type ValidatorConfig struct {
	MinConfidence   float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	RequireCitation *bool   `yaml:"require_citation"`
}

// RequireCitationOrDefault returns whether an answer without citations is rejected; defaults to true.
func (v *ValidatorConfig) RequireCitationOrDefault() bool {
	if v.RequireCitation != nil {
		return *v.RequireCitation
	}
	return true
}

// TranslateConfig configures the machine-translation collaborator and glossary.
type TranslateConfig struct {
	Endpoint      string `yaml:"endpoint"`
	PivotLanguage string `yaml:"pivot_language" validate:"required"`
	GlossaryPath  string `yaml:"glossary_path"`
	WatchGlossary bool   `yaml:"watch_glossary"`
}

// SpeechConfig configures the speech-to-text / text-to-speech collaborators.
type SpeechConfig struct {
	STTEndpoint   string  `yaml:"stt_endpoint"`
	TTSEndpoint   string  `yaml:"tts_endpoint"`
	MinConfidence float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
}

// SessionConfig holds session lifetime settings.
type SessionConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=memory redis"`
	TTL           time.Duration `yaml:"ttl" validate:"gt=0"`
	MaxTurns      int           `yaml:"max_turns" validate:"min=1"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Shards        int           `yaml:"shards"`
}

// CacheConfig holds cache backend and per-stage TTLs.
type CacheConfig struct {
	Backend        string        `yaml:"backend" validate:"oneof=memory redis"`
	RetrievalTTL   time.Duration `yaml:"retrieval_ttl"`
	GenerationTTL  time.Duration `yaml:"generation_ttl"`
	ResponseTTL    time.Duration `yaml:"response_ttl"`
	CleanupPeriod  time.Duration `yaml:"cleanup_period"`
	ComputeTimeout time.Duration `yaml:"compute_timeout"`
}

// BudgetConfig holds per-session cost limits.
type BudgetConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
	MaxQueryTokens    int     `yaml:"max_query_tokens"`
	MaxSessionTokens  int     `yaml:"max_session_tokens"`
}

// HealthConfig holds circuit breaker settings shared by all dependencies.
type HealthConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"min=1"`
	FailureWindow    time.Duration `yaml:"failure_window"`
	OpenDuration     time.Duration `yaml:"open_duration" validate:"gt=0"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
}

// PipelineConfig holds admission control and deadline settings.
type PipelineConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxConcurrent   int           `yaml:"max_concurrent" validate:"min=1"`
	MaxQueue        int           `yaml:"max_queue" validate:"min=0"`
	QueueTimeout    time.Duration `yaml:"queue_timeout"`
	DegradedFactor  float64       `yaml:"degraded_confidence_factor" validate:"gte=0,lte=1"`
	SynthesizeVoice bool          `yaml:"synthesize_voice"`
}

// RedisConfig is shared by the redis session and cache backends.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoggingConfig enables optional rotating file output in addition to stderr.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig controls trace export. Exporter is one of none, stdout, otlp.
type TelemetryConfig struct {
	Exporter     string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Load reads and parses the config file at path, expands paths, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Translate.GlossaryPath = expandPath(cfg.Translate.GlossaryPath, configDir)
	cfg.Logging.File = expandPath(cfg.Logging.File, configDir)
	for i, p := range cfg.Corpus.Paths {
		cfg.Corpus.Paths[i] = expandPath(p, configDir)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("NYAYA_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("NYAYA_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("NYAYA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NYAYA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

var validate = validator.New()

// Validate checks struct constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Retrieval.SemanticWeight+cfg.Retrieval.LexicalWeight == 0 {
		return fmt.Errorf("invalid config: retrieval weights must not both be zero")
	}
	if (cfg.Session.Backend == "redis" || cfg.Cache.Backend == "redis") && cfg.Redis.Addr == "" {
		return fmt.Errorf("invalid config: redis backend requires redis.addr")
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		return fmt.Errorf("invalid config: onnx embedder requires embedding.model_path")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
