package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmission_QueuesThenAdmits(t *testing.T) {
	a := NewAdmission(AdmissionConfig{MaxConcurrent: 1, MaxQueue: 1, QueueTimeout: time.Second})
	release, err := a.Acquire(context.Background())
	require.NoError(t, err)

	admitted := make(chan func())
	go func() {
		r, err := a.Acquire(context.Background())
		if err == nil {
			admitted <- r
		}
	}()
	require.Eventually(t, func() bool { q, _ := a.Stats(); return q == 1 }, time.Second, time.Millisecond)

	release()
	release() // second call is a no-op
	select {
	case r := <-admitted:
		_, inFlight := a.Stats()
		assert.Equal(t, 1, inFlight)
		r()
	case <-time.After(time.Second):
		t.Fatal("queued request was not admitted")
	}
}

func TestAdmission_OverflowIsBusy(t *testing.T) {
	a := NewAdmission(AdmissionConfig{MaxConcurrent: 1, MaxQueue: 0})
	release, err := a.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = a.Acquire(context.Background())
	var be *BusyError
	require.True(t, errors.As(err, &be))
	assert.True(t, be.Overflow)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, time.Second, be.RetryAfter)
}

func TestAdmission_QueueTimeout(t *testing.T) {
	a := NewAdmission(AdmissionConfig{MaxConcurrent: 1, MaxQueue: 4, QueueTimeout: 20 * time.Millisecond})
	release, err := a.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = a.Acquire(context.Background())
	var be *BusyError
	require.True(t, errors.As(err, &be))
	assert.False(t, be.Overflow)
	q, _ := a.Stats()
	assert.Zero(t, q)
}

func TestAdmission_CallerCancelled(t *testing.T) {
	a := NewAdmission(AdmissionConfig{MaxConcurrent: 1, MaxQueue: 4, QueueTimeout: time.Second})
	release, err := a.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdmission_EstimateTracksServiceTime(t *testing.T) {
	now := time.Unix(0, 0)
	a := NewAdmission(AdmissionConfig{MaxConcurrent: 2, MaxQueue: 10})
	a.now = func() time.Time { return now }
	assert.Equal(t, 500*time.Millisecond, a.EstimateWait())

	release, err := a.Acquire(context.Background())
	require.NoError(t, err)
	now = now.Add(4 * time.Second)
	release()
	assert.Equal(t, 2*time.Second, a.EstimateWait())
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(300*time.Millisecond))
	assert.Equal(t, 3, RetryAfterSeconds(2100*time.Millisecond))
}
