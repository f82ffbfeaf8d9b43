package coordinator

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/hugr-lab/go-mssql-core/internal/metrics"
)

// Heartbeat keeps this engine worker's Redis registration alive and
// periodically sweeps dead instances' leftover connection counts, so a
// crashed worker doesn't permanently shrink the shared budget it was
// using. Grounded on the teacher's internal/coordinator/heartbeat.go.
type Heartbeat struct {
	coordinator *RedisCoordinator
	interval    time.Duration
	ttl         time.Duration
	stopCh      chan struct{}
}

// NewHeartbeat creates a Heartbeat for coordinator, sending at interval
// with a TTL key that expires after ttl if this process stops heartbeating.
func NewHeartbeat(coordinator *RedisCoordinator, interval, ttl time.Duration) *Heartbeat {
	return &Heartbeat{
		coordinator: coordinator,
		interval:    interval,
		ttl:         ttl,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the heartbeat loop as a background goroutine.
func (h *Heartbeat) Start(ctx context.Context) {
	go h.loop(ctx)
}

// Stop halts the heartbeat loop.
func (h *Heartbeat) Stop() { close(h.stopCh) }

func (h *Heartbeat) loop(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			if h.coordinator.IsFallback() {
				if err := h.coordinator.ExitFallback(ctx); err != nil {
					log.Printf("[coordinator] fallback reconnect attempt failed: %v", err)
				}
				continue
			}
			h.sendHeartbeat(ctx)
			if tick%3 == 0 {
				h.cleanupDeadInstances(ctx)
			}
		}
	}
}

func (h *Heartbeat) sendHeartbeat(ctx context.Context) {
	key := instanceHeartbeatKey(h.coordinator.InstanceID())
	if err := h.coordinator.Client().Set(ctx, key, "1", h.ttl).Err(); err != nil {
		log.Printf("[coordinator] heartbeat set failed: %v", err)
		metrics.RedisOperations.WithLabelValues("heartbeat", "error").Inc()
		return
	}
	metrics.RedisOperations.WithLabelValues("heartbeat", "ok").Inc()
	metrics.InstanceHeartbeat.WithLabelValues(h.coordinator.InstanceID()).Set(1)
}

func instanceHeartbeatKey(instanceID string) string {
	return "mssqlcore:instance:" + instanceID + ":heartbeat"
}

func instanceConnKey(instanceID string) string {
	return "mssqlcore:instance:" + instanceID + ":conns"
}

// cleanupDeadInstances scans the registered instance set and releases the
// connection-count contribution of any instance whose heartbeat key has
// expired, preventing a crashed worker from permanently starving the
// shared budget.
func (h *Heartbeat) cleanupDeadInstances(ctx context.Context) {
	client := h.coordinator.Client()
	instances, err := client.SMembers(ctx, keyInstanceList).Result()
	if err != nil {
		log.Printf("[coordinator] listing instances failed: %v", err)
		return
	}

	for _, instanceID := range instances {
		if instanceID == h.coordinator.InstanceID() {
			continue
		}
		exists, err := client.Exists(ctx, instanceHeartbeatKey(instanceID)).Result()
		if err != nil || exists == 1 {
			continue
		}
		h.cleanupInstance(ctx, instanceID)
	}
}

func (h *Heartbeat) cleanupInstance(ctx context.Context, instanceID string) {
	client := h.coordinator.Client()
	counts, err := client.HGetAll(ctx, instanceConnKey(instanceID)).Result()
	if err != nil {
		log.Printf("[coordinator] reading dead instance %s counts failed: %v", instanceID, err)
		return
	}

	pipe := client.Pipeline()
	for contextName, countStr := range counts {
		n, _ := strconv.Atoi(countStr)
		if n > 0 {
			pipe.DecrBy(ctx, fmt.Sprintf(keyContextCount, contextName), int64(n))
		}
	}
	pipe.Del(ctx, instanceConnKey(instanceID))
	pipe.SRem(ctx, keyInstanceList, instanceID)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[coordinator] cleaning up dead instance %s failed: %v", instanceID, err)
		return
	}
	log.Printf("[coordinator] cleaned up dead instance %s (%d contexts)", instanceID, len(counts))
}
