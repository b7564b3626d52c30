package pipeline

import (
	"context"
	"errors"

	"github.com/hyperjump/nyaya/internal/messages"
	"github.com/hyperjump/nyaya/internal/models"
	"go.uber.org/zap"
)

// fixed builds a response from the message catalog. Every response carries the disclaimer
// and the referral, short-circuit outcomes included.
func (e *Engine) fixed(ctx context.Context, kind models.ResponseKind, key messages.Key, lang string, tier models.Tier) models.LegalResponse {
	r := models.LegalResponse{
		Kind:        kind,
		Answer:      e.text(ctx, key, lang, tier),
		Citations:   []models.Citation{},
		Language:    lang,
		Tier:        tier,
		GeneratedAt: e.now(),
	}
	e.attach(ctx, &r, tier)
	return r
}

// attach sets the disclaimer and referral in the response language.
func (e *Engine) attach(ctx context.Context, r *models.LegalResponse, tier models.Tier) {
	r.Disclaimer = e.text(ctx, messages.Disclaimer, r.Language, tier)
	r.Referral = e.text(ctx, messages.Referral, r.Language, tier)
}

func (e *Engine) notice(ctx context.Context, r *models.LegalResponse, key messages.Key, tier models.Tier) {
	if key == "" || r.Notice != "" {
		return
	}
	r.Notice = e.text(ctx, key, r.Language, tier)
}

// text returns a catalog message in lang. Languages without a bundled catalog are translated
// from English when the tier allows translation, and get the English text otherwise.
func (e *Engine) text(ctx context.Context, key messages.Key, lang string, tier models.Tier) string {
	s, ok := messages.Get(key, lang)
	if ok || e.c.Translator == nil || (tier != models.TierFull && tier != models.TierReduced) {
		return s
	}
	t, err := e.c.Translator.Translate(ctx, s, messages.Fallback, lang)
	if err != nil {
		e.logger.Debug("fixed message left untranslated", zap.String("key", string(key)), zap.String("language", lang), zap.Error(err))
		return s
	}
	return t
}

// busy reports an admission rejection with the estimated wait.
func (e *Engine) busy(ctx context.Context, lang string, err error) models.LegalResponse {
	wait := e.admission.EstimateWait()
	var be *BusyError
	if errors.As(err, &be) {
		wait = be.RetryAfter
	}
	tier, _ := e.selectTier()
	resp := e.fixed(ctx, models.KindBusy, messages.Busy, lang, tier)
	resp.RetryAfterSeconds = RetryAfterSeconds(wait)
	e.logger.Info("request not admitted", zap.Error(err), zap.Int("retry_after_seconds", resp.RetryAfterSeconds))
	return resp
}
