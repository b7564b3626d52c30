package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/nyaya/data/db/passages.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/nyaya/data/indices/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/nyaya/data/indices/vectors.bin"
	}
	if len(cfg.Corpus.Extensions) == 0 {
		cfg.Corpus.Extensions = []string{".yaml", ".yml", ".json", ".xlsx", ".pdf", ".docx", ".txt", ".md"}
	}
	if cfg.Corpus.Language == "" {
		cfg.Corpus.Language = "en"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hashing"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Retrieval.SemanticWeight == 0 && cfg.Retrieval.LexicalWeight == 0 {
		cfg.Retrieval.SemanticWeight = 0.7
		cfg.Retrieval.LexicalWeight = 0.3
	}
	if cfg.Retrieval.MinRelevance == 0 {
		cfg.Retrieval.MinRelevance = 0.35
	}
	if cfg.Retrieval.LexicalSaturation == 0 {
		cfg.Retrieval.LexicalSaturation = 1.0
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.Candidates == 0 {
		cfg.Retrieval.Candidates = 50
	}
	if cfg.Retrieval.TitleBoost == 0 {
		cfg.Retrieval.TitleBoost = 2.0
	}
	if cfg.Classifier.MinTokens == 0 {
		cfg.Classifier.MinTokens = 2
	}
	if cfg.Classifier.MinSpecificTokens == 0 {
		cfg.Classifier.MinSpecificTokens = 3
	}
	if cfg.Classifier.InDomainThreshold == 0 {
		cfg.Classifier.InDomainThreshold = 0.3
	}
	if cfg.Classifier.KeywordWeight == 0 && cfg.Classifier.QuestionWeight == 0 && cfg.Classifier.EntityWeight == 0 {
		cfg.Classifier.KeywordWeight = 0.6
		cfg.Classifier.QuestionWeight = 0.15
		cfg.Classifier.EntityWeight = 0.25
	}
	if cfg.Classifier.FuzzyMinLength == 0 {
		cfg.Classifier.FuzzyMinLength = 6
	}
	if cfg.Classifier.DefaultLanguage == "" {
		cfg.Classifier.DefaultLanguage = "en"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.1
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 800
	}
	if cfg.LLM.Encoding == "" {
		cfg.LLM.Encoding = "cl100k_base"
	}
	if cfg.Generation.ModelWeight == 0 && cfg.Generation.CoverageWeight == 0 {
		cfg.Generation.ModelWeight = 0.5
		cfg.Generation.CoverageWeight = 0.5
	}
	if cfg.Generation.DefaultModelConfidence == 0 {
		cfg.Generation.DefaultModelConfidence = 0.5
	}
	if cfg.Generation.MaxPassageChars == 0 {
		cfg.Generation.MaxPassageChars = 2000
	}
	if cfg.Validator.MinConfidence == 0 {
		cfg.Validator.MinConfidence = 0.6
	}
	if cfg.Translate.PivotLanguage == "" {
		cfg.Translate.PivotLanguage = "en"
	}
	if cfg.Speech.MinConfidence == 0 {
		cfg.Speech.MinConfidence = 0.6
	}
	if cfg.Session.Backend == "" {
		cfg.Session.Backend = "memory"
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 30 * time.Minute
	}
	if cfg.Session.MaxTurns == 0 {
		cfg.Session.MaxTurns = 20
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = time.Minute
	}
	if cfg.Session.Shards == 0 {
		cfg.Session.Shards = 32
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.RetrievalTTL == 0 {
		cfg.Cache.RetrievalTTL = time.Hour
	}
	if cfg.Cache.GenerationTTL == 0 {
		cfg.Cache.GenerationTTL = time.Hour
	}
	if cfg.Cache.ResponseTTL == 0 {
		cfg.Cache.ResponseTTL = 30 * time.Minute
	}
	if cfg.Cache.CleanupPeriod == 0 {
		cfg.Cache.CleanupPeriod = 10 * time.Minute
	}
	if cfg.Cache.ComputeTimeout == 0 {
		cfg.Cache.ComputeTimeout = 15 * time.Second
	}
	if cfg.Budget.RequestsPerMinute == 0 {
		cfg.Budget.RequestsPerMinute = 30
	}
	if cfg.Budget.Burst == 0 {
		cfg.Budget.Burst = 5
	}
	if cfg.Budget.MaxQueryTokens == 0 {
		cfg.Budget.MaxQueryTokens = 512
	}
	if cfg.Budget.MaxSessionTokens == 0 {
		cfg.Budget.MaxSessionTokens = 50000
	}
	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = 5
	}
	if cfg.Health.FailureWindow == 0 {
		cfg.Health.FailureWindow = time.Minute
	}
	if cfg.Health.OpenDuration == 0 {
		cfg.Health.OpenDuration = 30 * time.Second
	}
	if cfg.Health.CallTimeout == 0 {
		cfg.Health.CallTimeout = 4 * time.Second
	}
	if cfg.Health.ProbeInterval == 0 {
		cfg.Health.ProbeInterval = 15 * time.Second
	}
	if cfg.Pipeline.RequestTimeout == 0 {
		cfg.Pipeline.RequestTimeout = 10 * time.Second
	}
	if cfg.Pipeline.MaxConcurrent == 0 {
		cfg.Pipeline.MaxConcurrent = 64
	}
	if cfg.Pipeline.MaxQueue == 0 {
		cfg.Pipeline.MaxQueue = 256
	}
	if cfg.Pipeline.QueueTimeout == 0 {
		cfg.Pipeline.QueueTimeout = 3 * time.Second
	}
	if cfg.Pipeline.DegradedFactor == 0 {
		cfg.Pipeline.DegradedFactor = 0.5
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "nyaya:"
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = 10
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = 5
		}
		if cfg.Logging.MaxAgeDays == 0 {
			cfg.Logging.MaxAgeDays = 30
		}
	}
	if cfg.Telemetry.Exporter == "" {
		cfg.Telemetry.Exporter = "none"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "nyaya"
	}
}
