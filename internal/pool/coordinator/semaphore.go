package coordinator

import (
	"context"
	"time"

	"github.com/hugr-lab/go-mssql-core/internal/metrics"
)

// Semaphore blocks an acquiring Pool until a distributed connection slot
// for a context becomes available, backed by RedisCoordinator's Pub/Sub
// wakeup with a polling fallback. Grounded on the teacher's
// internal/coordinator/semaphore.go.
type Semaphore struct {
	coordinator *RedisCoordinator
}

// NewSemaphore wraps coordinator for blocking Wait calls.
func NewSemaphore(coordinator *RedisCoordinator) *Semaphore {
	return &Semaphore{coordinator: coordinator}
}

// TryAcquire makes a single non-blocking attempt to claim a slot for
// contextName.
func (s *Semaphore) TryAcquire(ctx context.Context, contextName string) error {
	return s.coordinator.Acquire(ctx, contextName)
}

// Wait blocks until a slot for contextName is acquired, timeout elapses, or
// ctx is cancelled. It tries once immediately, then subscribes to release
// notifications (falling back to polling if the subscribe path fails).
func (s *Semaphore) Wait(ctx context.Context, contextName string, timeout time.Duration) error {
	if err := s.coordinator.Acquire(ctx, contextName); err == nil {
		return nil
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	notifyCh := s.coordinator.Subscribe(waitCtx, contextName)
	if notifyCh == nil {
		return s.waitPolling(waitCtx, contextName, start)
	}

	pollTicker := time.NewTicker(500 * time.Millisecond)
	defer pollTicker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			metrics.QueueWaitDuration.WithLabelValues(contextName).Observe(time.Since(start).Seconds())
			return waitCtx.Err()

		case _, ok := <-notifyCh:
			if !ok {
				return s.waitPolling(waitCtx, contextName, start)
			}
			if err := s.coordinator.Acquire(waitCtx, contextName); err == nil {
				metrics.QueueWaitDuration.WithLabelValues(contextName).Observe(time.Since(start).Seconds())
				return nil
			}

		case <-pollTicker.C:
			if err := s.coordinator.Acquire(waitCtx, contextName); err == nil {
				metrics.QueueWaitDuration.WithLabelValues(contextName).Observe(time.Since(start).Seconds())
				return nil
			}
		}
	}
}

// waitPolling is the pure-polling fallback used when Pub/Sub subscribe
// isn't available (fallback mode, or the subscription channel closed).
func (s *Semaphore) waitPolling(ctx context.Context, contextName string, start time.Time) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.QueueWaitDuration.WithLabelValues(contextName).Observe(time.Since(start).Seconds())
			return ctx.Err()
		case <-ticker.C:
			if err := s.coordinator.Acquire(ctx, contextName); err == nil {
				metrics.QueueWaitDuration.WithLabelValues(contextName).Observe(time.Since(start).Seconds())
				return nil
			}
		}
	}
}
