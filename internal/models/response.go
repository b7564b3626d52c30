package models

import "time"

// CandidateAnswer is generated text before validation. CitedPassages holds the structured
// citation markers in order of first appearance.
type CandidateAnswer struct {
	Text             string       `json:"text"`
	CitedPassages    []PassageKey `json:"cited_passages"`
	ModelConfidence  float64      `json:"model_confidence"`
	CitationCoverage float64      `json:"citation_coverage"`
	Confidence       float64      `json:"confidence"`
	// Language the answer was requested in.
	Language string `json:"language"`
	// TokensUsed is prompt plus completion tokens spent producing the answer.
	TokensUsed int `json:"tokens_used"`
}

// ResponseKind classifies what a LegalResponse carries.
type ResponseKind string

const (
	KindAnswer        ResponseKind = "answer"
	KindKnowledgeGap  ResponseKind = "knowledge_gap"
	KindClarification ResponseKind = "clarification"
	KindRedirect      ResponseKind = "redirect"
	KindSimplify      ResponseKind = "simplify"
	KindBusy          ResponseKind = "busy"
	KindUnavailable   ResponseKind = "unavailable"
)

// Tier is the service level the engine operated at for a request.
type Tier string

const (
	TierFull    Tier = "full"
	TierReduced Tier = "reduced"
	TierCore    Tier = "core"
	TierMinimal Tier = "minimal"
)

// Stage names the steps a query moves through.
type Stage string

const (
	StageReceived   Stage = "received"
	StageClassified Stage = "classified"
	StageRetrieved  Stage = "retrieved"
	StageGenerated  Stage = "generated"
	StageValidated  Stage = "validated"
	StageDelivered  Stage = "delivered"
)

// Citation references one passage supplied to generation.
type Citation struct {
	Act     string `json:"act"`
	Section string `json:"section"`
	Title   string `json:"title"`
	// DocumentID is kept so callers can resolve the source passage.
	DocumentID string `json:"document_id"`
}

// Key returns the passage identity the citation points at.
func (c Citation) Key() PassageKey {
	return PassageKey{DocumentID: c.DocumentID, Section: c.Section}
}

// LegalResponse is what the engine returns for every query, including short-circuit outcomes.
type LegalResponse struct {
	Kind              ResponseKind `json:"kind"`
	Answer            string       `json:"answer"`
	Citations         []Citation   `json:"citations"`
	Disclaimer        string       `json:"disclaimer,omitempty"`
	Referral          string       `json:"referral,omitempty"`
	Language          string       `json:"language"`
	Confidence        float64      `json:"confidence"`
	Tier              Tier         `json:"tier"`
	Notice            string       `json:"notice,omitempty"`
	RetryAfterSeconds int          `json:"retry_after_seconds,omitempty"`
	GeneratedAt       time.Time    `json:"generated_at"`
	Audio             []byte       `json:"audio,omitempty"`
}

// Cacheable reports whether the response may be stored in the shared response cache.
func (r LegalResponse) Cacheable() bool {
	return r.Kind == KindAnswer || r.Kind == KindKnowledgeGap
}

// Clone returns a deep copy.
func (r LegalResponse) Clone() LegalResponse {
	out := r
	if r.Citations != nil {
		out.Citations = append([]Citation(nil), r.Citations...)
	}
	if r.Audio != nil {
		out.Audio = append([]byte(nil), r.Audio...)
	}
	return out
}
