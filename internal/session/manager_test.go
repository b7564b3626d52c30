package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/nyaya/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, cfg Config, opts ...ManagerOption) (*Manager, *MemoryStore, *clock) {
	t.Helper()
	c := &clock{now: time.Unix(10_000, 0)}
	store := NewMemoryStore(4)
	return NewManager(store, cfg, append([]ManagerOption{WithClock(c.Now)}, opts...)...), store, c
}

func turn(seq uint64, text string) models.Turn {
	return models.Turn{Seq: seq, Query: models.Query{Text: text}, Response: models.LegalResponse{Answer: "re: " + text}}
}

func TestManager_StartAndHistory(t *testing.T) {
	m, _, _ := newManager(t, Config{TTL: time.Minute, MaxTurns: 3})
	ctx := context.Background()
	s, err := m.Start(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", s.Language)
	assert.NotEmpty(t, s.ID)

	h, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestManager_ReceiptOrder(t *testing.T) {
	m, _, _ := newManager(t, Config{TTL: time.Minute, MaxTurns: 10})
	ctx := context.Background()
	s, _ := m.Start(ctx, "en")

	seq1, err := m.Reserve(ctx, s.ID)
	require.NoError(t, err)
	seq2, err := m.Reserve(ctx, s.ID)
	require.NoError(t, err)
	assert.Less(t, seq1, seq2)

	// Second query finishes first.
	require.NoError(t, m.Append(ctx, s.ID, turn(seq2, "second")))
	require.NoError(t, m.Append(ctx, s.ID, turn(seq1, "first")))

	h, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, "first", h[0].Query.Text)
	assert.Equal(t, "second", h[1].Query.Text)
}

func TestManager_BoundedHistory(t *testing.T) {
	m, _, _ := newManager(t, Config{TTL: time.Minute, MaxTurns: 3})
	ctx := context.Background()
	s, _ := m.Start(ctx, "en")
	for i := 1; i <= 5; i++ {
		seq, err := m.Reserve(ctx, s.ID)
		require.NoError(t, err)
		require.NoError(t, m.Append(ctx, s.ID, turn(seq, fmt.Sprintf("q%d", i))))
	}
	h, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, h, 3)
	assert.Equal(t, "q3", h[0].Query.Text)
	assert.Equal(t, "q5", h[2].Query.Text)
}

func TestManager_LazyExpiry(t *testing.T) {
	var ended []string
	m, store, c := newManager(t, Config{TTL: time.Minute}, OnEnd(func(id string) { ended = append(ended, id) }))
	ctx := context.Background()
	s, _ := m.Start(ctx, "en")

	c.Advance(30 * time.Second)
	require.NoError(t, m.Touch(ctx, s.ID))
	c.Advance(45 * time.Second)
	_, err := m.History(ctx, s.ID)
	require.NoError(t, err, "touch should have extended the session")

	c.Advance(2 * time.Minute)
	_, err = m.History(ctx, s.ID)
	assert.ErrorIs(t, err, ErrExpired)
	assert.True(t, IsInputError(err))
	assert.Zero(t, store.Len())
	assert.Equal(t, []string{s.ID}, ended)

	_, err = m.History(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Sweep(t *testing.T) {
	m, store, c := newManager(t, Config{TTL: time.Minute})
	ctx := context.Background()
	_, _ = m.Start(ctx, "en")
	_, _ = m.Start(ctx, "hi")
	c.Advance(30 * time.Second)
	keep, _ := m.Start(ctx, "mr")

	c.Advance(45 * time.Second)
	assert.Equal(t, 2, m.Sweep(ctx))
	assert.Equal(t, 1, store.Len())
	_, err := m.Get(ctx, keep.ID)
	assert.NoError(t, err)
}

func TestManager_EndWipes(t *testing.T) {
	m, store, _ := newManager(t, Config{TTL: time.Minute})
	ctx := context.Background()
	s, _ := m.Start(ctx, "en")
	seq, _ := m.Reserve(ctx, s.ID)
	require.NoError(t, m.Append(ctx, s.ID, turn(seq, "my tenancy dispute")))

	sh := store.shard(s.ID)
	sh.mu.RLock()
	stored := sh.sessions[s.ID]
	history := stored.History
	sh.mu.RUnlock()

	require.NoError(t, m.End(ctx, s.ID))
	assert.Empty(t, stored.ID)
	assert.Empty(t, history[0].Query.Text, "stored history buffer must be wiped")

	_, err := m.History(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.End(ctx, s.ID), ErrNotFound)
}

func TestManager_SessionsIsolated(t *testing.T) {
	m, _, _ := newManager(t, Config{TTL: time.Minute, MaxTurns: 50})
	ctx := context.Background()
	a, _ := m.Start(ctx, "en")
	b, _ := m.Start(ctx, "en")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			seq, err := m.Reserve(ctx, a.ID)
			if err == nil {
				_ = m.Append(ctx, a.ID, turn(seq, fmt.Sprintf("a%d", i)))
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			seq, err := m.Reserve(ctx, b.ID)
			if err == nil {
				_ = m.Append(ctx, b.ID, turn(seq, fmt.Sprintf("b%d", i)))
			}
		}(i)
	}
	wg.Wait()

	ha, err := m.History(ctx, a.ID)
	require.NoError(t, err)
	hb, err := m.History(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, ha, 20)
	assert.Len(t, hb, 20)
	for i, tr := range ha {
		assert.Equal(t, byte('a'), tr.Query.Text[0])
		if i > 0 {
			assert.Less(t, ha[i-1].Seq, tr.Seq)
		}
	}
	for _, tr := range hb {
		assert.Equal(t, byte('b'), tr.Query.Text[0])
	}
}

func TestManager_LoadReturnsCopy(t *testing.T) {
	m, _, _ := newManager(t, Config{TTL: time.Minute})
	ctx := context.Background()
	s, _ := m.Start(ctx, "en")
	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	got.Language = "xx"
	again, _ := m.Get(ctx, s.ID)
	assert.Equal(t, "en", again.Language)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("NYAYA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("NYAYA_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	store := NewRedisStore(client, fmt.Sprintf("nyaya-test-%d:", time.Now().UnixNano()))
	m := NewManager(store, Config{TTL: time.Minute})
	ctx := context.Background()

	s, err := m.Start(ctx, "hi")
	require.NoError(t, err)
	seq, err := m.Reserve(ctx, s.ID)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, s.ID, turn(seq, "q")))
	h, err := m.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, h, 1)

	require.NoError(t, m.End(ctx, s.ID))
	_, err = m.History(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
