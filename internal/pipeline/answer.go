package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/nyaya/internal/cache"
	"github.com/hyperjump/nyaya/internal/health"
	"github.com/hyperjump/nyaya/internal/messages"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/internal/normalize"
	"github.com/hyperjump/nyaya/internal/retrieval"
	"github.com/hyperjump/nyaya/internal/session"
	"github.com/hyperjump/nyaya/internal/speech"
	"github.com/hyperjump/nyaya/internal/validator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// request is the per-query state carried through the stages.
type request struct {
	q    models.Query
	seq  uint64
	text string
	lang string
	tier models.Tier
	norm normalize.Result
}

// uncached carries a computed response that must be shared with concurrent waiters but not
// stored, such as an answer degraded by a dependency failure.
type uncached struct {
	payload []byte
}

func (u *uncached) Error() string { return "response not cacheable" }

// errPanic marks a computation that panicked. Shared computations run on their own
// goroutine, so a panic there must be turned into an error before it escapes.
var errPanic = errors.New("computation panicked")

func (e *Engine) guard(fn cache.ComputeFunc) cache.ComputeFunc {
	return func(ctx context.Context) (b []byte, err error) {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("computation panicked", zap.Any("panic", r), zap.Stack("stack"))
				err = fmt.Errorf("%w: %v", errPanic, r)
			}
		}()
		return fn(ctx)
	}
}

// outcome is one computed response and whether it may be cached.
type outcome struct {
	resp      models.LegalResponse
	cacheable bool
	tokens    int
}

func (e *Engine) handle(ctx context.Context, req *request) models.LegalResponse {
	tier, _ := e.selectTier()
	req.tier = tier
	e.rec.TierSelected(string(tier))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("tier.selected", string(tier)))

	if req.q.SessionID != "" {
		if resp, ok := e.reserve(ctx, req); !ok {
			return resp
		}
	}

	q := req.q
	if q.HasAudio() && strings.TrimSpace(q.Text) == "" {
		if tier != models.TierFull {
			return e.fixed(ctx, models.KindClarification, messages.ClarifyType, req.lang, tier)
		}
		tr, err := e.transcribe(ctx, q)
		if err != nil {
			if errors.Is(err, speech.ErrLowConfidence) {
				return e.fixed(ctx, models.KindClarification, messages.ClarifyRepeat, req.lang, tier)
			}
			if ctx.Err() != nil {
				return e.degraded(ctx, req, "")
			}
			return e.fixed(ctx, models.KindClarification, messages.ClarifyType, req.lang, tier)
		}
		q = q.WithText(tr.Text)
		if q.Language == "" {
			q.Language = tr.Language
		}
	}
	req.text = q.Text

	classifyStart := e.now()
	n, err := e.c.Normalizer.Normalize(q)
	if err != nil {
		key := messages.Clarification
		if errors.Is(err, normalize.ErrUnsupportedLanguage) {
			key = messages.ClarifyLanguage
		}
		return e.fixed(ctx, models.KindClarification, key, req.lang, tier)
	}
	req.norm, req.lang, req.text = n, n.Language, n.Text
	e.stage(ctx, models.StageClassified, classifyStart)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("domain", string(n.Domain)))
	e.logger.Debug("query classified",
		zap.String("domain", string(n.Domain)),
		zap.String("language", n.Language),
		zap.String("language_source", string(n.LanguageSource)),
		zap.Float64("score", n.Signals.Score))

	switch n.Domain {
	case normalize.DomainAmbiguous:
		return e.fixed(ctx, models.KindClarification, messages.Clarification, req.lang, tier)
	case normalize.DomainOutOfDomain:
		return e.fixed(ctx, models.KindRedirect, messages.Redirect, req.lang, tier)
	}

	if _, err := e.c.Budget.Admit(q.SessionID, n.Text); err != nil {
		e.logger.Debug("budget exceeded", zap.Error(err))
		return e.fixed(ctx, models.KindSimplify, messages.Simplify, req.lang, tier)
	}

	var resp models.LegalResponse
	if tier == models.TierMinimal {
		resp = e.minimal(ctx, req)
	} else {
		resp = e.respond(ctx, req)
	}

	if q.IsVoice() && tier == models.TierFull && e.cfg.SynthesizeVoice {
		e.synthesize(ctx, &resp)
	}
	return resp
}

func (e *Engine) reserve(ctx context.Context, req *request) (models.LegalResponse, bool) {
	id := req.q.SessionID
	if req.q.Language == "" && req.q.HasAudio() {
		if s, err := e.c.Sessions.Get(ctx, id); err == nil && s.Language != "" {
			req.q.Language = s.Language
			req.lang = s.Language
		}
	}
	seq, err := e.c.Sessions.Reserve(ctx, id)
	switch {
	case session.IsInputError(err):
		return e.fixed(ctx, models.KindClarification, messages.ClarifySession, req.lang, req.tier), false
	case err != nil:
		e.logger.Error("session store failed", zap.String("session_id", id), zap.Error(err))
		return e.fixed(ctx, models.KindUnavailable, messages.Unavailable, req.lang, req.tier), false
	}
	req.seq = seq
	return models.LegalResponse{}, true
}

// respond serves the response cache, computing on a miss with one computation per fingerprint.
func (e *Engine) respond(ctx context.Context, req *request) models.LegalResponse {
	fp := e.fingerprint(req.norm.Normalized, req.lang, cache.StageResponse)
	r := *req
	var spent int
	payload, hit, err := e.c.Cache.GetOrCompute(ctx, cache.StageResponse, fp, e.cfg.ResponseTTL, e.guard(func(ctx context.Context) ([]byte, error) {
		out := e.compute(ctx, &r)
		spent = out.tokens
		b, err := json.Marshal(out.resp)
		if err != nil {
			return nil, err
		}
		if !out.cacheable || !out.resp.Cacheable() {
			return nil, &uncached{payload: b}
		}
		return b, nil
	}))

	var u *uncached
	switch {
	case errors.As(err, &u):
		payload = u.payload
	case errors.Is(err, errPanic):
		return e.fixed(ctx, models.KindUnavailable, messages.Unavailable, req.lang, req.tier)
	case err != nil:
		e.logger.Debug("response computation abandoned", zap.String("fingerprint", fp), zap.Error(err))
		return e.degraded(ctx, req, fp)
	}

	var resp models.LegalResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		e.logger.Error("corrupt cached response", zap.String("fingerprint", fp), zap.Error(err))
		e.c.Cache.Invalidate(ctx, fp)
		return e.degraded(ctx, req, "")
	}
	if !hit {
		e.c.Budget.Charge(req.q.SessionID, spent)
	}
	e.logger.Debug("response ready", zap.String("fingerprint", fp), zap.Bool("cache_hit", hit), zap.String("kind", string(resp.Kind)))
	return resp
}

// compute runs translation, retrieval, generation and validation for one query. It must not
// mutate r: concurrent waiters share its result.
func (e *Engine) compute(ctx context.Context, r *request) outcome {
	lang, tier, pivot := r.lang, r.tier, e.cfg.PivotLanguage
	text, textLang := r.norm.Text, lang
	var notice messages.Key

	if lang != pivot {
		if tier == models.TierFull || tier == models.TierReduced {
			t, err := e.translate(ctx, text, lang, pivot)
			if err == nil {
				text, textLang = t, pivot
			} else {
				if ctx.Err() != nil {
					return outcome{resp: e.fallback(ctx, lang)}
				}
				e.logger.Warn("query translation failed, answering in the query language", zap.Error(err))
				tier, notice = models.TierCore, messages.NoticeNoTranslation
			}
		} else {
			notice = messages.NoticeNoTranslation
		}
	}
	cacheable := notice == ""

	start := e.now()
	passages, err := e.retrieve(ctx, text, textLang)
	if errors.Is(err, retrieval.ErrKnowledgeGap) {
		e.stage(ctx, models.StageRetrieved, start)
		gap := e.fixed(ctx, models.KindKnowledgeGap, messages.KnowledgeGap, lang, tier)
		e.notice(ctx, &gap, notice, tier)
		return outcome{resp: gap, cacheable: cacheable}
	}
	if errors.Is(err, errPanic) {
		return outcome{resp: e.fixed(ctx, models.KindUnavailable, messages.Unavailable, lang, tier)}
	}
	if err != nil {
		e.logger.Warn("retrieval failed", zap.Error(err))
		return outcome{resp: e.fallback(ctx, lang)}
	}
	e.stage(ctx, models.StageRetrieved, start)

	start = e.now()
	cand, tokens, err := e.generate(ctx, text, passages, textLang)
	if errors.Is(err, errPanic) {
		return outcome{resp: e.fixed(ctx, models.KindUnavailable, messages.Unavailable, lang, tier)}
	}
	if err != nil {
		e.logger.Warn("generation failed", zap.Error(err))
		return outcome{resp: e.fallback(ctx, lang)}
	}
	e.stage(ctx, models.StageGenerated, start)

	start = e.now()
	verdict := e.c.Validator.Validate(cand, passages, textLang)
	e.stage(ctx, models.StageValidated, start)
	trace.SpanFromContext(ctx).AddEvent("verdict", trace.WithAttributes(
		attribute.String("outcome", string(verdict.Outcome)),
		attribute.String("reason", string(verdict.Reason)),
	))
	if verdict.Outcome == validator.Rejected {
		e.rec.Rejected(string(verdict.Reason))
		gap := e.fixed(ctx, models.KindKnowledgeGap, messages.KnowledgeGap, lang, tier)
		e.notice(ctx, &gap, notice, tier)
		return outcome{resp: gap, cacheable: cacheable, tokens: tokens}
	}

	resp := verdict.Response
	if textLang != lang {
		answer, err := e.translate(ctx, resp.Answer, textLang, lang)
		if err != nil {
			e.logger.Warn("answer translation failed", zap.Error(err))
			gap := e.fixed(ctx, models.KindKnowledgeGap, messages.KnowledgeGap, lang, tier)
			return outcome{resp: gap, tokens: tokens}
		}
		resp.Answer = answer
	}
	resp.Language = lang
	resp.Tier = tier
	e.attach(ctx, &resp, tier)
	e.notice(ctx, &resp, notice, tier)
	return outcome{resp: resp, cacheable: cacheable, tokens: tokens}
}

func (e *Engine) retrieve(ctx context.Context, text, lang string) ([]models.Passage, error) {
	ctx, span := e.tracer.Start(ctx, "retrieve")
	defer span.End()

	folded := strings.Join(normalize.Tokenize(strings.ToLower(text)), " ")
	fp := e.fingerprint(folded, lang, cache.StageRetrieval)
	payload, hit, err := e.c.Cache.GetOrCompute(ctx, cache.StageRetrieval, fp, e.cfg.RetrievalTTL, e.guard(func(ctx context.Context) ([]byte, error) {
		passages, err := e.c.Retriever.Retrieve(ctx, text, e.cfg.TopK)
		if err != nil {
			return nil, err
		}
		return json.Marshal(passages)
	}))
	if err != nil {
		if !errors.Is(err, retrieval.ErrKnowledgeGap) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "retrieval failed")
		}
		return nil, err
	}
	var passages []models.Passage
	if err := json.Unmarshal(payload, &passages); err != nil {
		e.c.Cache.Invalidate(ctx, fp)
		return nil, err
	}
	span.SetAttributes(attribute.Int("passages", len(passages)), attribute.Bool("cache_hit", hit))
	if len(passages) == 0 {
		return nil, retrieval.ErrKnowledgeGap
	}
	return passages, nil
}

// generate returns the candidate and the tokens spent on it; a cache hit spends none.
func (e *Engine) generate(ctx context.Context, text string, passages []models.Passage, lang string) (models.CandidateAnswer, int, error) {
	ctx, span := e.tracer.Start(ctx, "generate")
	defer span.End()

	parts := []string{text, lang}
	for _, p := range passages {
		parts = append(parts, p.Key().String(), p.SourceVersion)
	}
	fp := cache.FingerprintParts(cache.StageGeneration, parts...)
	payload, hit, err := e.c.Cache.GetOrCompute(ctx, cache.StageGeneration, fp, e.cfg.GenerationTTL, e.guard(func(ctx context.Context) ([]byte, error) {
		cand, err := e.c.Generator.Generate(ctx, text, passages, lang)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cand)
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return models.CandidateAnswer{}, 0, err
	}
	var cand models.CandidateAnswer
	if err := json.Unmarshal(payload, &cand); err != nil {
		e.c.Cache.Invalidate(ctx, fp)
		return models.CandidateAnswer{}, 0, err
	}
	span.SetAttributes(attribute.Float64("confidence", cand.Confidence), attribute.Bool("cache_hit", hit))
	if hit {
		return cand, 0, nil
	}
	return cand, cand.TokensUsed, nil
}

func (e *Engine) translate(ctx context.Context, text, src, dst string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "translate", trace.WithAttributes(
		attribute.String("source", src),
		attribute.String("target", dst),
	))
	defer span.End()
	out, err := e.c.Translator.Translate(ctx, text, src, dst)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func (e *Engine) transcribe(ctx context.Context, q models.Query) (speech.Transcript, error) {
	ctx, span := e.tracer.Start(ctx, "transcribe")
	defer span.End()
	var tr speech.Transcript
	err := e.c.Health.Call(ctx, health.ServiceSTT, func(ctx context.Context) error {
		var err error
		tr, err = e.c.Transcriber.Transcribe(ctx, q.Audio, q.Language)
		if errors.Is(err, speech.ErrLowConfidence) {
			return health.Benign(err)
		}
		return err
	})
	return tr, err
}

// synthesize attaches spoken audio. Failure leaves the text response and adds a notice.
func (e *Engine) synthesize(ctx context.Context, resp *models.LegalResponse) {
	ctx, span := e.tracer.Start(ctx, "synthesize")
	defer span.End()
	var audio []byte
	err := e.c.Health.Call(ctx, health.ServiceTTS, func(ctx context.Context) error {
		var err error
		audio, err = e.c.Synthesizer.Synthesize(ctx, resp.Answer, resp.Language)
		return err
	})
	if err != nil {
		e.logger.Warn("speech synthesis failed", zap.Error(err))
		e.notice(ctx, resp, messages.NoticeVoiceDisabled, resp.Tier)
		return
	}
	resp.Audio = audio
}

// minimal serves only what the response cache already holds.
func (e *Engine) minimal(ctx context.Context, req *request) models.LegalResponse {
	fp := e.fingerprint(req.norm.Normalized, req.lang, cache.StageResponse)
	if payload, ok := e.c.Cache.Get(ctx, fp); ok {
		var resp models.LegalResponse
		if err := json.Unmarshal(payload, &resp); err == nil {
			resp.Tier = models.TierMinimal
			resp.Confidence *= e.cfg.DegradedFactor
			resp.Notice = e.text(ctx, messages.NoticeCachedOnly, req.lang, models.TierMinimal)
			return resp
		}
	}
	return e.fallback(ctx, req.lang)
}

// fallback is the fixed response when nothing better is available in the minimal tier.
func (e *Engine) fallback(ctx context.Context, lang string) models.LegalResponse {
	resp := e.fixed(ctx, models.KindKnowledgeGap, messages.KnowledgeGap, lang, models.TierMinimal)
	e.notice(ctx, &resp, messages.NoticeCachedOnly, models.TierMinimal)
	return resp
}

// degraded answers a request whose deadline passed: the cached response when there is one,
// else the knowledge-gap response.
func (e *Engine) degraded(ctx context.Context, req *request, fp string) models.LegalResponse {
	if fp != "" {
		if payload, ok := e.c.Cache.Get(context.WithoutCancel(ctx), fp); ok {
			var resp models.LegalResponse
			if err := json.Unmarshal(payload, &resp); err == nil {
				return resp
			}
		}
	}
	e.logger.Debug("deadline reached", zap.Duration("elapsed", e.now().Sub(req.q.ReceivedAt)))
	return e.fixed(ctx, models.KindKnowledgeGap, messages.KnowledgeGap, req.lang, req.tier)
}
