package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/nyaya/internal/config"
	"github.com/hyperjump/nyaya/internal/health"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/internal/normalize"
	"github.com/hyperjump/nyaya/internal/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const gratuitySeed = `document_id: payment-of-gratuity-act
act_name: Payment of Gratuity Act, 1972
language: en
passages:
  - section: "4"
    title: Payment of gratuity
    text: >-
      Gratuity shall be payable to an employee on the termination of his employment after he
      has rendered continuous service for not less than five years.
  - section: "7"
    title: Determination of the amount of gratuity
    text: >-
      The employer shall determine the amount of gratuity and give notice in writing to the
      employee within thirty days of the gratuity becoming payable.
`

const wagesAct = `Payment of Wages Act, 1936
Section 5. Time of payment of wages.—The wages of every person employed shall be paid before
the expiry of the seventh day after the last day of the wage-period.
Section 7. Deductions which may be made from wages.—The wages of an employed person shall be
paid to him without deductions of any kind except those authorised by this Act.
`

// chatCompletion replies like an OpenAI-compatible endpoint and counts calls.
func chatCompletion(t *testing.T, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 40, "completion_tokens": 20, "total_tokens": 60},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T, llmURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus")
	require.NoError(t, os.MkdirAll(corpus, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "gratuity.yaml"), []byte(gratuitySeed), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "Payment_of_Wages_Act.txt"), []byte(wagesAct), 0644))

	content := `
storage:
  database_path: ./data/passages.db
  bleve_index_path: ./data/bleve
  vector_index_path: ./data/vectors.bin
corpus:
  paths: [./corpus]
embedding:
  dimensions: 64
retrieval:
  min_relevance: 0.01
llm:
  base_url: ` + llmURL + `
  api_key: test
  encoding: words
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestInitializeComponents_answersFromLoadedCorpus(t *testing.T) {
	var calls atomic.Int32
	llmSrv := chatCompletion(t,
		"Gratuity becomes payable after at least five years of continuous service [[cite:payment-of-gratuity-act#4]].\nCONFIDENCE: 0.9",
		&calls)
	cfg := writeTestConfig(t, llmSrv.URL+"/v1")

	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	loadCorpus(ctx, c.Index, cfg.Corpus.Paths, zap.NewNop())
	n, err := c.Index.Hybrid.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Len(t, c.Index.Indexer.Loaded(), 2)

	resp := c.Engine.Answer(ctx, models.NewQuery("After how many years of service is gratuity payable to an employee?", "en", ""))
	require.Equal(t, models.KindAnswer, resp.Kind, "notice: %s", resp.Notice)
	require.NotEmpty(t, resp.Citations)
	assert.Equal(t, "Payment of Gratuity Act, 1972", resp.Citations[0].Act)
	assert.Equal(t, "4", resp.Citations[0].Section)
	assert.NotContains(t, resp.Answer, "[[cite:")
	assert.NotEmpty(t, resp.Disclaimer)
	assert.Equal(t, int32(1), calls.Load())

	again := c.Engine.Answer(ctx, models.NewQuery("After how many years of service is gratuity payable to an employee?", "en", ""))
	assert.Equal(t, resp.Answer, again.Answer)
	assert.Equal(t, int32(1), calls.Load(), "repeated question should be served from cache")
}

func TestInitializeComponents_outOfDomainSkipsModel(t *testing.T) {
	var calls atomic.Int32
	llmSrv := chatCompletion(t, "unused", &calls)
	cfg := writeTestConfig(t, llmSrv.URL+"/v1")

	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	loadCorpus(ctx, c.Index, cfg.Corpus.Paths, zap.NewNop())

	resp := c.Engine.Answer(ctx, models.NewQuery("what is a good recipe for banana bread", "en", ""))
	assert.NotEqual(t, models.KindAnswer, resp.Kind)
	assert.Empty(t, resp.Citations)
	assert.NotEmpty(t, resp.Disclaimer)
	assert.Zero(t, calls.Load())
}

func TestInitializeComponents_unrelatedActIsNotAnswered(t *testing.T) {
	var calls atomic.Int32
	cfg := writeTestConfig(t, chatCompletion(t, "unused", &calls).URL+"/v1")
	cfg.Retrieval.MinRelevance = 0.35

	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	loadCorpus(ctx, c.Index, cfg.Corpus.Paths, zap.NewNop())

	resp := c.Engine.Answer(ctx, models.NewQuery("How do I file for divorce under the Hindu Marriage Act?", "en", ""))
	assert.NotEqual(t, models.KindAnswer, resp.Kind)
	assert.Empty(t, resp.Citations)
	assert.Zero(t, calls.Load(), "a shared word like \"act\" must not reach the model")
}

func TestInitializeComponents_sessionsAndHealth(t *testing.T) {
	var calls atomic.Int32
	cfg := writeTestConfig(t, chatCompletion(t, "unused", &calls).URL+"/v1")

	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Translator, "translator is only built when an endpoint is configured")

	id, err := c.Engine.StartSession(ctx, "en")
	require.NoError(t, err)
	history, err := c.Engine.History(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
	require.NoError(t, c.Engine.EndSession(ctx, id))
	_, err = c.Engine.History(ctx, id)
	assert.Error(t, err)

	report := c.Engine.Health()
	assert.NotEmpty(t, report.Tier)
}

const hindiGlossary = `version: "1"
terms:
  - id: gratuity
    forms:
      en: gratuity
      hi: उपदान
    variants:
      hi: [ग्रेच्युटी]
`

func TestInitializeComponents_glossaryExtendsLexicon(t *testing.T) {
	var calls atomic.Int32
	cfg := writeTestConfig(t, chatCompletion(t, "unused", &calls).URL+"/v1")
	cfg.Translate.GlossaryPath = filepath.Join(t.TempDir(), "glossary.yaml")
	require.NoError(t, os.WriteFile(cfg.Translate.GlossaryPath, []byte(hindiGlossary), 0644))

	c, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	classifier := normalize.New(normalize.DefaultPolicy(), normalize.WithLexicon(c.Lexicon))
	domain := func(text string) normalize.Domain {
		res, err := classifier.Normalize(models.NewQuery(text, "hi", ""))
		require.NoError(t, err)
		return res.Domain
	}
	assert.Equal(t, normalize.DomainIn, domain("उपदान कब मिलता है?"))
	assert.Equal(t, normalize.DomainOutOfDomain, domain("छंटनी के बाद नियोजक क्या देगा?"))

	reloaded, err := translate.ParseGlossary([]byte(hindiGlossary + `  - id: retrenchment
    forms:
      en: retrenchment
      hi: छंटनी
  - id: employer
    forms:
      en: employer
      hi: नियोजक
`))
	require.NoError(t, err)
	c.applyGlossary(reloaded)
	assert.Equal(t, normalize.DomainIn, domain("छंटनी के बाद नियोजक क्या देगा?"))
}

func TestCollaboratorProbes(t *testing.T) {
	var calls atomic.Int32
	llmSrv := chatCompletion(t, "unused", &calls)
	cfg := writeTestConfig(t, llmSrv.URL+"/v1")
	idx, err := initializeIndex(cfg, zap.NewNop())
	require.NoError(t, err)
	defer idx.Close()
	completer := newCompleter(cfg, zap.NewNop())

	probes := collaboratorProbes(idx, completer, newCollaborators(cfg, zap.NewNop()))
	assert.Len(t, probes, 2)
	ctx := context.Background()
	assert.NoError(t, probes[health.ServiceRetrieval](ctx))
	assert.NoError(t, probes[health.ServiceGeneration](ctx), "a 404 from the models endpoint still means up")

	var down atomic.Bool
	svc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer svc.Close()
	cfg.Translate.Endpoint = svc.URL
	cfg.Speech.STTEndpoint = svc.URL
	cfg.Speech.TTSEndpoint = svc.URL

	probes = collaboratorProbes(idx, completer, newCollaborators(cfg, zap.NewNop()))
	require.Len(t, probes, 5)
	for _, s := range []health.Service{health.ServiceTranslation, health.ServiceSTT, health.ServiceTTS} {
		assert.NoError(t, probes[s](ctx), s)
	}
	down.Store(true)
	assert.Error(t, probes[health.ServiceTranslation](ctx))
	assert.Zero(t, calls.Load())
}

func TestRunLoad_savesVectors(t *testing.T) {
	var calls atomic.Int32
	cfg := writeTestConfig(t, chatCompletion(t, "unused", &calls).URL+"/v1")

	idx, err := initializeIndex(cfg, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	n, err := idx.Indexer.Load(ctx, cfg.Corpus.Paths)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	saveVectors(idx, cfg.Storage.VectorIndexPath, zap.NewNop())
	require.NoError(t, idx.Close())

	_, err = os.Stat(cfg.Storage.VectorIndexPath)
	assert.NoError(t, err)
}
