package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/nyaya/internal/models"
	"go.uber.org/zap"
)

const lockStripes = 64

// Config holds session lifetime settings.
type Config struct {
	TTL           time.Duration
	MaxTurns      int
	SweepInterval time.Duration
}

// Manager creates, updates and expires sessions over a Store.
type Manager struct {
	store  Store
	cfg    Config
	locks  [lockStripes]sync.Mutex
	now    func() time.Time
	onEnd  []func(id string)
	logger *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// OnEnd registers a hook called with the id of every session that ends or expires.
func OnEnd(fn func(id string)) ManagerOption {
	return func(m *Manager) { m.onEnd = append(m.onEnd, fn) }
}

// NewManager creates a session manager.
func NewManager(store Store, cfg Config, opts ...ManagerOption) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 20
	}
	m := &Manager{store: store, cfg: cfg, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) lock(id string) func() {
	mu := &m.locks[shardIndex(id, lockStripes)]
	mu.Lock()
	return mu.Unlock
}

// Start creates a session in language lang and returns a copy of it.
func (m *Manager) Start(ctx context.Context, lang string) (*models.Session, error) {
	now := m.now()
	s := &models.Session{
		ID:             uuid.New().String(),
		Language:       lang,
		History:        []models.Turn{},
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(m.cfg.TTL),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	m.logger.Debug("session started", zap.String("session_id", s.ID))
	return s.Clone(), nil
}

// load returns a live session or ErrExpired/ErrNotFound. Caller holds the session lock.
func (m *Manager) load(ctx context.Context, id string) (*models.Session, error) {
	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Expired(m.now()) {
		s.Wipe()
		m.expireLocked(ctx, id)
		return nil, ErrExpired
	}
	return s, nil
}

// Get returns a copy of a live session.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	defer m.lock(id)()
	return m.load(ctx, id)
}

// Reserve allocates the next receipt sequence number for a query arriving on session id,
// and refreshes the session's expiry.
func (m *Manager) Reserve(ctx context.Context, id string) (uint64, error) {
	defer m.lock(id)()
	s, err := m.load(ctx, id)
	if err != nil {
		return 0, err
	}
	s.NextSeq++
	seq := s.NextSeq
	m.touch(s)
	if err := m.store.Save(ctx, s); err != nil {
		return 0, err
	}
	return seq, nil
}

// Append inserts a turn in receipt order, evicting the oldest turns beyond MaxTurns.
func (m *Manager) Append(ctx context.Context, id string, turn models.Turn) error {
	defer m.lock(id)()
	s, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	if turn.At.IsZero() {
		turn.At = m.now()
	}
	s.History = append(s.History, turn)
	sort.SliceStable(s.History, func(i, j int) bool { return s.History[i].Seq < s.History[j].Seq })
	if over := len(s.History) - m.cfg.MaxTurns; over > 0 {
		for i := 0; i < over; i++ {
			s.History[i] = models.Turn{}
		}
		s.History = append(s.History[:0], s.History[over:]...)
	}
	m.touch(s)
	return m.store.Save(ctx, s)
}

// History returns a copy of the session history in receipt order.
func (m *Manager) History(ctx context.Context, id string) ([]models.Turn, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.History, nil
}

// Touch refreshes the session's expiry.
func (m *Manager) Touch(ctx context.Context, id string) error {
	defer m.lock(id)()
	s, err := m.load(ctx, id)
	if err != nil {
		return err
	}
	m.touch(s)
	return m.store.Save(ctx, s)
}

func (m *Manager) touch(s *models.Session) {
	now := m.now()
	s.LastActivityAt = now
	s.ExpiresAt = now.Add(m.cfg.TTL)
}

// End wipes and deletes a session. Ending an unknown session returns ErrNotFound.
func (m *Manager) End(ctx context.Context, id string) error {
	defer m.lock(id)()
	s, err := m.store.Load(ctx, id)
	if err != nil {
		return err
	}
	s.Wipe()
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.fireEnd(id)
	m.logger.Debug("session ended", zap.String("session_id", id))
	return nil
}

func (m *Manager) expireLocked(ctx context.Context, id string) {
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Warn("delete expired session failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	m.fireEnd(id)
	m.logger.Debug("session expired", zap.String("session_id", id))
}

func (m *Manager) fireEnd(id string) {
	for _, fn := range m.onEnd {
		fn(id)
	}
}

// Sweep expires every session past its TTL. It returns the number removed.
func (m *Manager) Sweep(ctx context.Context) int {
	sw, ok := m.store.(Sweeper)
	if !ok {
		return 0
	}
	n := 0
	for _, id := range sw.ExpiredIDs(m.now()) {
		unlock := m.lock(id)
		s, err := m.store.Load(ctx, id)
		if err == nil && s.Expired(m.now()) {
			s.Wipe()
			m.expireLocked(ctx, id)
			n++
		}
		unlock()
	}
	return n
}

// Run sweeps expired sessions every SweepInterval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				m.logger.Debug("swept expired sessions", zap.Int("count", n))
			}
		}
	}
}

// IsInputError reports whether err means the caller referenced a session that is not usable.
func IsInputError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired)
}
