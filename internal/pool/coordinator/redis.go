// Package coordinator implements the optional cross-process capacity
// coordination of SPEC_FULL §4.6: when several engine worker processes
// attach the same catalog context against one SQL Server instance, they
// share one max_connections budget tracked in Redis rather than each
// believing it owns the full budget locally.
//
// Ported from the teacher's internal/coordinator (proxy-instance backpressure
// coordination) and repurposed from "how many inbound client sessions may
// this proxy instance serve" to "how many pool connections may this engine
// worker hold against this catalog context".
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/hugr-lab/go-mssql-core/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// acquireScript atomically increments a context's global connection count,
// refusing once it would exceed the configured max. Returns the new count,
// -1 if the budget was exhausted, or -2 if the max key was never set.
const acquireScript = `
local count_key = KEYS[1]
local max_key = KEYS[2]
local inst_key = KEYS[3]
local context_name = ARGV[1]
local instance_id = ARGV[2]

local max = tonumber(redis.call('GET', max_key))
if max == nil then
	return -2
end

local current = tonumber(redis.call('GET', count_key) or '0')
if current >= max then
	return -1
end

local newCount = redis.call('INCR', count_key)
redis.call('HINCRBY', inst_key, context_name, 1)
return newCount
`

// releaseScript atomically decrements a context's global connection count
// (floored at zero) and publishes a wakeup notification for any instance
// waiting on a slot.
const releaseScript = `
local count_key = KEYS[1]
local inst_key = KEYS[2]
local context_name = ARGV[1]
local channel = ARGV[2]

local current = tonumber(redis.call('GET', count_key) or '0')
if current > 0 then
	redis.call('DECR', count_key)
end
redis.call('HINCRBY', inst_key, context_name, -1)
redis.call('PUBLISH', channel, context_name)
return 1
`

const (
	keyContextCount = "mssqlcore:context:%s:count"
	keyContextMax   = "mssqlcore:context:%s:max"
	keyInstanceConn = "mssqlcore:instance:%s:conns"
	keyInstanceHB   = "mssqlcore:instance:%s:heartbeat"
	keyInstanceList = "mssqlcore:instances"
	channelRelease  = "mssqlcore:release:%s"
)

// ContextBudget names one catalog context and the connection ceiling shared
// across every engine worker process attached to it.
type ContextBudget struct {
	ContextName    string
	MaxConnections int
}

// RedisCoordinator manages distributed connection-count limits over Redis
// for one engine process. It degrades to a local-only fallback mode if
// Redis becomes unreachable, rather than blocking every pool acquire.
type RedisCoordinator struct {
	client     redis.UniversalClient
	budgets    []ContextBudget
	instanceID string

	acquireSHA string
	releaseSHA string

	fallbackMode atomic.Bool

	fallbackMu     sync.Mutex
	fallbackCounts map[string]int
	localDivisor   int

	subMu       sync.Mutex
	subscribers map[string]*redis.PubSub

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configures a RedisCoordinator.
type Options struct {
	Addr         string
	Password     string
	DB           int
	InstanceID   string
	Budgets      []ContextBudget
	LocalDivisor int // fallback-mode per-instance budget = max/LocalDivisor, floored at 1
}

// New connects to Redis, loads the Lua scripts and registers this
// instance's budgets. If Redis is unreachable it starts in fallback mode
// rather than failing attach outright.
func New(ctx context.Context, opt Options) (*RedisCoordinator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       opt.DB,
	})

	rc := &RedisCoordinator{
		client:         client,
		budgets:        opt.Budgets,
		instanceID:     opt.InstanceID,
		fallbackCounts: make(map[string]int),
		localDivisor:   opt.LocalDivisor,
		subscribers:    make(map[string]*redis.PubSub),
		stopCh:         make(chan struct{}),
	}
	if rc.localDivisor <= 0 {
		rc.localDivisor = 3
	}

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[coordinator] Redis unavailable (%v), starting in fallback mode", err)
		rc.fallbackMode.Store(true)
		metrics.RedisOperations.WithLabelValues("ping", "error").Inc()
		return rc, nil
	}
	metrics.RedisOperations.WithLabelValues("ping", "ok").Inc()
	log.Printf("[coordinator] Redis connected: %s", opt.Addr)

	if err := rc.loadScripts(ctx); err != nil {
		return nil, fmt.Errorf("loading lua scripts: %w", err)
	}
	if err := rc.initBudgets(ctx); err != nil {
		return nil, fmt.Errorf("initializing context budgets: %w", err)
	}
	if err := rc.registerInstance(ctx); err != nil {
		return nil, fmt.Errorf("registering instance: %w", err)
	}

	log.Printf("[coordinator] initialized: instance=%s, %d contexts registered",
		rc.instanceID, len(opt.Budgets))
	return rc, nil
}

func (rc *RedisCoordinator) loadScripts(ctx context.Context) error {
	sha, err := rc.client.ScriptLoad(ctx, acquireScript).Result()
	if err != nil {
		return fmt.Errorf("loading acquire script: %w", err)
	}
	rc.acquireSHA = sha

	sha, err = rc.client.ScriptLoad(ctx, releaseScript).Result()
	if err != nil {
		return fmt.Errorf("loading release script: %w", err)
	}
	rc.releaseSHA = sha
	return nil
}

func (rc *RedisCoordinator) initBudgets(ctx context.Context) error {
	pipe := rc.client.Pipeline()
	for _, b := range rc.budgets {
		pipe.Set(ctx, fmt.Sprintf(keyContextMax, b.ContextName), b.MaxConnections, 0)
		pipe.SetNX(ctx, fmt.Sprintf(keyContextCount, b.ContextName), 0, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (rc *RedisCoordinator) registerInstance(ctx context.Context) error {
	pipe := rc.client.Pipeline()
	pipe.SAdd(ctx, keyInstanceList, rc.instanceID)
	instKey := fmt.Sprintf(keyInstanceConn, rc.instanceID)
	for _, b := range rc.budgets {
		pipe.HSetNX(ctx, instKey, b.ContextName, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Acquire claims one connection slot for contextName against the shared
// budget, or returns an error if the budget is exhausted.
func (rc *RedisCoordinator) Acquire(ctx context.Context, contextName string) error {
	if rc.fallbackMode.Load() {
		return rc.acquireFallback(contextName)
	}

	countKey := fmt.Sprintf(keyContextCount, contextName)
	maxKey := fmt.Sprintf(keyContextMax, contextName)
	instKey := fmt.Sprintf(keyInstanceConn, rc.instanceID)

	result, err := rc.client.EvalSha(ctx, rc.acquireSHA,
		[]string{countKey, maxKey, instKey}, contextName, rc.instanceID,
	).Int64()
	if err != nil {
		metrics.RedisOperations.WithLabelValues("acquire", "error").Inc()
		rc.enterFallback()
		return rc.acquireFallback(contextName)
	}
	metrics.RedisOperations.WithLabelValues("acquire", "ok").Inc()

	switch result {
	case -1:
		return fmt.Errorf("context %s at distributed capacity", contextName)
	case -2:
		return fmt.Errorf("context %s budget not configured in Redis", contextName)
	default:
		return nil
	}
}

// Release returns one connection slot for contextName and wakes any
// instance waiting on that context's Pub/Sub channel.
func (rc *RedisCoordinator) Release(ctx context.Context, contextName string) {
	if rc.fallbackMode.Load() {
		rc.releaseFallback(contextName)
		return
	}

	countKey := fmt.Sprintf(keyContextCount, contextName)
	instKey := fmt.Sprintf(keyInstanceConn, rc.instanceID)
	channel := fmt.Sprintf(channelRelease, contextName)

	if _, err := rc.client.EvalSha(ctx, rc.releaseSHA, []string{countKey, instKey}, contextName, channel).Result(); err != nil {
		metrics.RedisOperations.WithLabelValues("release", "error").Inc()
		rc.enterFallback()
		rc.releaseFallback(contextName)
		return
	}
	metrics.RedisOperations.WithLabelValues("release", "ok").Inc()
}

// Subscribe returns a channel that receives contextName whenever any
// instance releases a slot for it, so Wait (semaphore.go) can wake
// immediately instead of only on its poll interval.
func (rc *RedisCoordinator) Subscribe(ctx context.Context, contextName string) <-chan string {
	if rc.fallbackMode.Load() {
		ch := make(chan string)
		close(ch)
		return ch
	}

	channel := fmt.Sprintf(channelRelease, contextName)
	sub := rc.client.Subscribe(ctx, channel)

	rc.subMu.Lock()
	rc.subscribers[contextName] = sub
	rc.subMu.Unlock()

	notifyCh := make(chan string, 16)
	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		defer close(notifyCh)
		ch := sub.Channel()
		for {
			select {
			case <-rc.stopCh:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case notifyCh <- msg.Payload:
				default:
				}
			}
		}
	}()
	return notifyCh
}

func (rc *RedisCoordinator) enterFallback() {
	if rc.fallbackMode.CompareAndSwap(false, true) {
		log.Printf("[coordinator] entering fallback mode (local limits)")
		metrics.ConnectionErrors.WithLabelValues("coordinator", "fallback_entered").Inc()
	}
}

// ExitFallback attempts to reconnect to Redis and reconcile local fallback
// counts back into the shared budget.
func (rc *RedisCoordinator) ExitFallback(ctx context.Context) error {
	if err := rc.client.Ping(ctx).Err(); err != nil {
		return err
	}
	if err := rc.loadScripts(ctx); err != nil {
		return err
	}
	if err := rc.reconcileCounts(ctx); err != nil {
		log.Printf("[coordinator] reconciliation failed: %v", err)
		return err
	}
	rc.fallbackMode.Store(false)
	log.Printf("[coordinator] exited fallback mode, Redis reconnected")
	return nil
}

// IsFallback reports whether the coordinator is currently running without
// Redis.
func (rc *RedisCoordinator) IsFallback() bool { return rc.fallbackMode.Load() }

func (rc *RedisCoordinator) acquireFallback(contextName string) error {
	rc.fallbackMu.Lock()
	defer rc.fallbackMu.Unlock()

	limit := rc.localLimit(contextName)
	current := rc.fallbackCounts[contextName]
	if current >= limit {
		return fmt.Errorf("context %s at local fallback limit (%d/%d)", contextName, current, limit)
	}
	rc.fallbackCounts[contextName] = current + 1
	return nil
}

func (rc *RedisCoordinator) releaseFallback(contextName string) {
	rc.fallbackMu.Lock()
	defer rc.fallbackMu.Unlock()
	if rc.fallbackCounts[contextName] > 0 {
		rc.fallbackCounts[contextName]--
	}
}

func (rc *RedisCoordinator) localLimit(contextName string) int {
	for _, b := range rc.budgets {
		if b.ContextName == contextName {
			limit := b.MaxConnections / rc.localDivisor
			if limit < 1 {
				limit = 1
			}
			return limit
		}
	}
	return 1
}

func (rc *RedisCoordinator) reconcileCounts(ctx context.Context) error {
	rc.fallbackMu.Lock()
	counts := make(map[string]int, len(rc.fallbackCounts))
	for k, v := range rc.fallbackCounts {
		counts[k] = v
	}
	rc.fallbackMu.Unlock()

	pipe := rc.client.Pipeline()
	instKey := fmt.Sprintf(keyInstanceConn, rc.instanceID)
	for contextName, count := range counts {
		pipe.HSet(ctx, instKey, contextName, count)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// InstanceID returns this coordinator's registered instance identifier.
func (rc *RedisCoordinator) InstanceID() string { return rc.instanceID }

// Client exposes the underlying Redis client for heartbeat use.
func (rc *RedisCoordinator) Client() redis.UniversalClient { return rc.client }

// Close unregisters the instance and closes all subscriptions and the
// Redis client.
func (rc *RedisCoordinator) Close(ctx context.Context) error {
	close(rc.stopCh)

	rc.subMu.Lock()
	for _, sub := range rc.subscribers {
		sub.Close()
	}
	rc.subscribers = nil
	rc.subMu.Unlock()

	rc.wg.Wait()

	if !rc.fallbackMode.Load() {
		rc.client.SRem(ctx, keyInstanceList, rc.instanceID)
		rc.client.Del(ctx, fmt.Sprintf(keyInstanceConn, rc.instanceID))
		rc.client.Del(ctx, fmt.Sprintf(keyInstanceHB, rc.instanceID))
	}

	log.Printf("[coordinator] instance %s unregistered", rc.instanceID)
	return rc.client.Close()
}
