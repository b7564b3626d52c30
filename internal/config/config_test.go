package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
session:
  ttl: 10m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Session.TTL != 10*time.Minute {
		t.Errorf("session ttl = %v, want 10m", cfg.Session.TTL)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/passages.db"
translation:
  glossary_path: "./glossary.yaml"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "passages.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	wantGlossary := filepath.Join(dir, "glossary.yaml")
	if cfg.Translate.GlossaryPath != wantGlossary {
		t.Errorf("glossary_path = %s, want %s", cfg.Translate.GlossaryPath, wantGlossary)
	}
	if cfg.Logging.File != "" {
		t.Errorf("empty log file should stay empty, got %s", cfg.Logging.File)
	}
}

func TestLoad_envOverridesAPIKey(t *testing.T) {
	t.Setenv("NYAYA_LLM_API_KEY", "sk-test")
	path := writeConfig(t, "llm:\n  api_key: from-file\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("api key = %q, want env value", cfg.LLM.APIKey)
	}
}

func TestLoad_rejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad exporter", "telemetry:\n  exporter: jaeger\n", "invalid config"},
		{"weight out of range", "retrieval:\n  semantic_weight: 1.5\n", "invalid config"},
		{"redis without addr", "session:\n  backend: redis\n", "redis.addr"},
		{"onnx without model", "embedding:\n  provider: onnx\n", "model_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NYAYA_REDIS_ADDR", "")
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: got %+v", cfg.Server)
	}
	if cfg.Retrieval.SemanticWeight != 0.7 || cfg.Retrieval.LexicalWeight != 0.3 {
		t.Errorf("default weights: got %v/%v", cfg.Retrieval.SemanticWeight, cfg.Retrieval.LexicalWeight)
	}
	if cfg.Retrieval.LexicalSaturation != 1.0 {
		t.Errorf("default lexical saturation: got %v", cfg.Retrieval.LexicalSaturation)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("default top_k: got %d", cfg.Retrieval.TopK)
	}
	if cfg.Validator.MinConfidence != 0.6 {
		t.Errorf("default min confidence: got %v", cfg.Validator.MinConfidence)
	}
	if cfg.Health.FailureThreshold != 5 {
		t.Errorf("default failure threshold: got %d", cfg.Health.FailureThreshold)
	}
	if cfg.Pipeline.RequestTimeout != 10*time.Second {
		t.Errorf("default request timeout: got %v", cfg.Pipeline.RequestTimeout)
	}
	if cfg.Session.MaxTurns != 20 {
		t.Errorf("default max turns: got %d", cfg.Session.MaxTurns)
	}
	if cfg.Logging.MaxSizeMB != 0 {
		t.Error("rotation defaults should only apply when a log file is set")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_keepsExplicitWeights(t *testing.T) {
	cfg := &Config{Retrieval: RetrievalConfig{SemanticWeight: 1}}
	ApplyDefaults(cfg)
	if cfg.Retrieval.SemanticWeight != 1 || cfg.Retrieval.LexicalWeight != 0 {
		t.Errorf("explicit weights overwritten: %+v", cfg.Retrieval)
	}
}

func TestValidatorConfig_RequireCitationOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		v := &ValidatorConfig{}
		if !v.RequireCitationOrDefault() {
			t.Error("RequireCitationOrDefault() = false, want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		v := &ValidatorConfig{RequireCitation: &f}
		if v.RequireCitationOrDefault() {
			t.Error("RequireCitationOrDefault() = true, want false")
		}
	})
}
