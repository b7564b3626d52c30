package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when a request cannot be admitted.
var ErrBusy = errors.New("system busy")

// BusyError carries the estimated wait for a rejected request.
type BusyError struct {
	RetryAfter time.Duration
	// Overflow is true when the queue was full on arrival.
	Overflow bool
}

func (e *BusyError) Error() string {
	if e.Overflow {
		return fmt.Sprintf("queue full, retry after %s", e.RetryAfter)
	}
	return fmt.Sprintf("queue wait exceeded, retry after %s", e.RetryAfter)
}

func (e *BusyError) Unwrap() error { return ErrBusy }

// AdmissionConfig bounds concurrent and queued requests.
type AdmissionConfig struct {
	MaxConcurrent int
	MaxQueue      int
	QueueTimeout  time.Duration
}

// Admission limits in-flight requests and queues the overflow up to a bound. It keeps an
// exponentially weighted moving average of service time to estimate queue waits.
type Admission struct {
	sem *semaphore.Weighted
	cfg AdmissionConfig

	mu       sync.Mutex
	queued   int
	inFlight int
	ewma     time.Duration

	now      func() time.Time
	observer func(queued, inFlight int)
}

const (
	ewmaAlpha          = 0.2
	defaultServiceTime = time.Second
)

// NewAdmission creates an admission controller.
func NewAdmission(cfg AdmissionConfig) *Admission {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxQueue < 0 {
		cfg.MaxQueue = 0
	}
	return &Admission{
		sem: semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg: cfg,
		now: time.Now,
	}
}

// Acquire admits a request, waiting in the queue when every slot is taken. The returned
// release must be called once the request completes. A *BusyError is returned when the queue
// is full or the wait exceeds QueueTimeout.
func (a *Admission) Acquire(ctx context.Context) (release func(), err error) {
	if a.sem.TryAcquire(1) {
		return a.admitted(), nil
	}

	a.mu.Lock()
	if a.queued >= a.cfg.MaxQueue {
		wait := a.estimateLocked(a.queued + 1)
		a.mu.Unlock()
		return nil, &BusyError{RetryAfter: wait, Overflow: true}
	}
	a.queued++
	a.notifyLocked()
	a.mu.Unlock()

	waitCtx := ctx
	if a.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.cfg.QueueTimeout)
		defer cancel()
	}
	err = a.sem.Acquire(waitCtx, 1)

	a.mu.Lock()
	a.queued--
	wait := a.estimateLocked(a.queued + 1)
	a.notifyLocked()
	a.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &BusyError{RetryAfter: wait}
	}
	return a.admitted(), nil
}

func (a *Admission) admitted() func() {
	start := a.now()
	a.mu.Lock()
	a.inFlight++
	a.notifyLocked()
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d := a.now().Sub(start)
			a.mu.Lock()
			a.inFlight--
			if a.ewma == 0 {
				a.ewma = d
			} else {
				a.ewma = time.Duration(ewmaAlpha*float64(d) + (1-ewmaAlpha)*float64(a.ewma))
			}
			a.notifyLocked()
			a.mu.Unlock()
			a.sem.Release(1)
		})
	}
}

// EstimateWait returns the expected wait for a request joining the queue now.
func (a *Admission) EstimateWait() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.estimateLocked(a.queued + 1)
}

// estimateLocked is position times mean service time spread over the concurrent slots.
func (a *Admission) estimateLocked(position int) time.Duration {
	service := a.ewma
	if service == 0 {
		service = defaultServiceTime
	}
	return time.Duration(float64(position) * float64(service) / float64(a.cfg.MaxConcurrent))
}

// Stats returns the current queue depth and in-flight count.
func (a *Admission) Stats() (queued, inFlight int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queued, a.inFlight
}

func (a *Admission) notifyLocked() {
	if a.observer != nil {
		a.observer(a.queued, a.inFlight)
	}
}

// RetryAfterSeconds rounds d up to whole seconds, at least one.
func RetryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
