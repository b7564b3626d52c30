package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/nyaya/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestController(clock *fakeClock, opts ...Option) *Controller {
	cfg := BreakerConfig{FailureThreshold: 5, FailureWindow: time.Minute, OpenDuration: 30 * time.Second}
	return NewController(cfg, append([]Option{WithClock(clock.Now)}, opts...)...)
}

func TestController_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestController(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		err := c.Call(ctx, ServiceGeneration, fail)
		require.ErrorIs(t, err, errBoom)
	}
	dh := c.Snapshot()[ServiceGeneration]
	assert.Equal(t, StateDegraded, dh.State)
	assert.Equal(t, 4, dh.ConsecutiveFailures)

	require.ErrorIs(t, c.Call(ctx, ServiceGeneration, fail), errBoom)
	assert.Equal(t, StateDown, c.Snapshot()[ServiceGeneration].State)

	called := false
	err := c.Call(ctx, ServiceGeneration, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open breaker must short-circuit")
}

func TestController_HalfOpenTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestController(clock)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = c.Call(ctx, ServiceRetrieval, fail)
	}
	assert.False(t, c.Snapshot().Available(ServiceRetrieval))

	clock.Advance(31 * time.Second)
	assert.True(t, c.Snapshot().Available(ServiceRetrieval), "trial due after cooldown")

	// Failed trial reopens the breaker with a fresh cooldown.
	require.ErrorIs(t, c.Call(ctx, ServiceRetrieval, fail), errBoom)
	assert.False(t, c.Snapshot().Available(ServiceRetrieval))

	clock.Advance(31 * time.Second)
	require.NoError(t, c.Call(ctx, ServiceRetrieval, succeed))
	dh := c.Snapshot()[ServiceRetrieval]
	assert.Equal(t, StateUp, dh.State)
	assert.Zero(t, dh.ConsecutiveFailures)
}

func TestController_SingleTrialAtATime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestController(clock)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = c.Call(ctx, ServiceTranslation, fail)
	}
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Call(ctx, ServiceTranslation, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	assert.ErrorIs(t, c.Call(ctx, ServiceTranslation, succeed), ErrCircuitOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateUp, c.Snapshot()[ServiceTranslation].State)
}

func TestController_FailureWindowResetsCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestController(clock)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_ = c.Call(ctx, ServiceTTS, fail)
	}
	clock.Advance(2 * time.Minute)
	_ = c.Call(ctx, ServiceTTS, fail)
	dh := c.Snapshot()[ServiceTTS]
	assert.Equal(t, StateDegraded, dh.State)
	assert.Equal(t, 1, dh.ConsecutiveFailures)
}

func TestController_CallerCancellationNotCounted(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestController(clock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Call(ctx, ServiceGeneration, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateUp, c.Snapshot()[ServiceGeneration].State)
}

func TestController_CallTimeoutCounted(t *testing.T) {
	c := NewController(BreakerConfig{FailureThreshold: 1, OpenDuration: time.Minute, CallTimeout: 10 * time.Millisecond})
	err := c.Call(context.Background(), ServiceSTT, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateDown, c.Snapshot()[ServiceSTT].State)
}

func TestController_BenignErrorNotCounted(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := newTestController(clock)
	errUnclear := errors.New("unclear")
	err := c.Call(context.Background(), ServiceSTT, func(context.Context) error { return Benign(errUnclear) })
	require.ErrorIs(t, err, errUnclear)
	assert.Equal(t, StateUp, c.Snapshot()[ServiceSTT].State)
}

func TestController_ObserverAndProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var transitions []State
	probed := 0
	c := newTestController(clock,
		WithStateObserver(func(_ Service, _, to State) { transitions = append(transitions, to) }),
		WithProbe(ServiceGeneration, func(context.Context) error { probed++; return nil }),
	)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = c.Call(ctx, ServiceGeneration, fail)
	}
	c.ProbeOnce(ctx)
	assert.Zero(t, probed, "probe must wait for cooldown")

	clock.Advance(time.Minute)
	c.ProbeOnce(ctx)
	assert.Equal(t, 1, probed)
	assert.Equal(t, []State{StateDegraded, StateDown, StateUp}, transitions)
}

func TestSelectTier(t *testing.T) {
	up := DependencyHealth{State: StateUp}
	down := DependencyHealth{State: StateDown}
	dueDown := DependencyHealth{State: StateDown, TrialDue: true}
	all := func(overrides map[Service]DependencyHealth) Snapshot {
		s := Snapshot{}
		for _, svc := range Services {
			s[svc] = up
		}
		for svc, dh := range overrides {
			s[svc] = dh
		}
		return s
	}

	tests := []struct {
		name string
		snap Snapshot
		want models.Tier
	}{
		{"all up", all(nil), models.TierFull},
		{"degraded still full", all(map[Service]DependencyHealth{ServiceTTS: {State: StateDegraded}}), models.TierFull},
		{"stt down", all(map[Service]DependencyHealth{ServiceSTT: down}), models.TierReduced},
		{"tts down", all(map[Service]DependencyHealth{ServiceTTS: down}), models.TierReduced},
		{"translation down", all(map[Service]DependencyHealth{ServiceTranslation: down}), models.TierCore},
		{"translation and voice down", all(map[Service]DependencyHealth{ServiceTranslation: down, ServiceSTT: down}), models.TierCore},
		{"generation down", all(map[Service]DependencyHealth{ServiceGeneration: down}), models.TierMinimal},
		{"retrieval down", all(map[Service]DependencyHealth{ServiceRetrieval: down}), models.TierMinimal},
		{"generation trial due", all(map[Service]DependencyHealth{ServiceGeneration: dueDown}), models.TierFull},
		{"empty snapshot", Snapshot{}, models.TierMinimal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectTier(tt.snap))
		})
	}
}
