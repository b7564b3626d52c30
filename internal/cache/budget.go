package cache

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrBudgetExceeded is returned when a query would exceed a per-session or per-query limit.
var ErrBudgetExceeded = errors.New("budget exceeded")

// TokenCounter counts model tokens in text.
type TokenCounter interface {
	Count(text string) int
}

// WordCounter approximates tokens as whitespace-separated words.
type WordCounter struct{}

// Count returns the number of words in text.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// BudgetConfig sets cost limits. Zero values disable the corresponding limit.
type BudgetConfig struct {
	RequestsPerMinute float64
	Burst             int
	MaxQueryTokens    int
	MaxSessionTokens  int
	// IdleTTL drops a session's budget state after this long without use.
	IdleTTL time.Duration
}

type sessionBudget struct {
	limiter  *rate.Limiter
	tokens   int
	lastSeen time.Time
}

// Budget enforces per-session request rate, cumulative token spend, and a per-query token ceiling.
type Budget struct {
	mu       sync.Mutex
	cfg      BudgetConfig
	counter  TokenCounter
	sessions map[string]*sessionBudget
	now      func() time.Time
}

// NewBudget creates a budget. A nil counter falls back to WordCounter.
func NewBudget(cfg BudgetConfig, counter TokenCounter) *Budget {
	if counter == nil {
		counter = WordCounter{}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Budget{cfg: cfg, counter: counter, sessions: make(map[string]*sessionBudget), now: time.Now}
}

// Admit checks a new query against the limits and returns its token count.
// Sessionless queries are only checked against the per-query ceiling.
func (b *Budget) Admit(sessionID, text string) (int, error) {
	tokens := b.counter.Count(text)
	if b.cfg.MaxQueryTokens > 0 && tokens > b.cfg.MaxQueryTokens {
		return tokens, fmt.Errorf("query has %d tokens, limit %d: %w", tokens, b.cfg.MaxQueryTokens, ErrBudgetExceeded)
	}
	if sessionID == "" {
		return tokens, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sb := b.sessionLocked(sessionID)
	if b.cfg.MaxSessionTokens > 0 && sb.tokens+tokens > b.cfg.MaxSessionTokens {
		return tokens, fmt.Errorf("session token budget %d spent: %w", b.cfg.MaxSessionTokens, ErrBudgetExceeded)
	}
	if sb.limiter != nil && !sb.limiter.AllowN(b.now(), 1) {
		return tokens, fmt.Errorf("request rate limit: %w", ErrBudgetExceeded)
	}
	sb.tokens += tokens
	return tokens, nil
}

// Charge adds tokens spent on generation to the session total.
func (b *Budget) Charge(sessionID string, tokens int) {
	if sessionID == "" || tokens <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionLocked(sessionID).tokens += tokens
}

// Spent returns the tokens charged to a session.
func (b *Budget) Spent(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sb, ok := b.sessions[sessionID]; ok {
		return sb.tokens
	}
	return 0
}

// Forget drops a session's budget state.
func (b *Budget) Forget(sessionID string) {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
}

// Prune drops budget state idle for longer than IdleTTL.
func (b *Budget) Prune() int {
	if b.cfg.IdleTTL <= 0 {
		return 0
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, sb := range b.sessions {
		if now.Sub(sb.lastSeen) > b.cfg.IdleTTL {
			delete(b.sessions, id)
			n++
		}
	}
	return n
}

func (b *Budget) sessionLocked(id string) *sessionBudget {
	sb, ok := b.sessions[id]
	if !ok {
		sb = &sessionBudget{}
		if b.cfg.RequestsPerMinute > 0 {
			sb.limiter = rate.NewLimiter(rate.Limit(b.cfg.RequestsPerMinute/60), b.cfg.Burst)
		}
		b.sessions[id] = sb
	}
	sb.lastSeen = b.now()
	return sb
}
