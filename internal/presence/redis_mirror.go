package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-talk/internal/config"
	"github.com/weiawesome/wes-io-talk/pkg/log"
)

// deleteIfOwner removes the key only while it still names this instance.
var deleteIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type mirrorOp struct {
	userID string
	online bool
}

// RedisMirror publishes local presence to Redis as TTL keys so other
// processes can see which instance holds a user. Keys are refreshed by a
// heartbeat and expire on their own if this instance dies.
type RedisMirror struct {
	client            *redis.Client
	instanceID        string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration

	managedKeys map[string]struct{}
	mu          sync.RWMutex

	ops    chan mirrorOp
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisMirror connects to Redis and mirrors this instance's presence under instanceID.
func NewRedisMirror(cfg config.RedisConfig, instanceID string) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisMirrorFromClient(client, cfg, instanceID), nil
}

// NewRedisMirrorFromClient wraps an existing client.
func NewRedisMirrorFromClient(client *redis.Client, cfg config.RedisConfig, instanceID string) *RedisMirror {
	return &RedisMirror{
		client:            client,
		instanceID:        instanceID,
		prefix:            cfg.PresencePrefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managedKeys:       make(map[string]struct{}),
		ops:               make(chan mirrorOp, 1024),
	}
}

func (m *RedisMirror) keyFor(userID string) string {
	return fmt.Sprintf("%s:user:%s", m.prefix, userID)
}

// UserOnline queues a SET for userID.
func (m *RedisMirror) UserOnline(userID string) {
	m.enqueue(mirrorOp{userID: userID, online: true})
}

// UserOffline queues a guarded DEL for userID.
func (m *RedisMirror) UserOffline(userID string) {
	m.enqueue(mirrorOp{userID: userID, online: false})
}

func (m *RedisMirror) enqueue(op mirrorOp) {
	select {
	case m.ops <- op:
	default:
		l := log.L()
		l.Warn().Str(log.FieldUserID, op.userID).Bool("online", op.online).Msg("presence mirror queue full, dropping update")
	}
}

// Start runs the update worker and the heartbeat until ctx is done or Stop is called.
func (m *RedisMirror) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go m.worker(ctx)
	go m.heartbeatLoop(ctx)

	l := log.L()
	l.Info().Dur("interval", m.heartbeatInterval).Dur("ttl", m.keyTTL).Str("instance_id", m.instanceID).Msg("presence mirror started")
}

func (m *RedisMirror) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-m.ops:
			var err error
			if op.online {
				err = m.setOnline(ctx, op.userID)
			} else {
				err = m.setOffline(ctx, op.userID)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				l := log.L()
				l.Error().Err(err).Str(log.FieldUserID, op.userID).Msg("presence mirror update failed")
			}
		}
	}
}

func (m *RedisMirror) setOnline(ctx context.Context, userID string) error {
	key := m.keyFor(userID)
	if err := m.client.Set(ctx, key, m.instanceID, m.keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to mirror online user: %w", err)
	}

	m.mu.Lock()
	m.managedKeys[key] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *RedisMirror) setOffline(ctx context.Context, userID string) error {
	key := m.keyFor(userID)

	m.mu.Lock()
	delete(m.managedKeys, key)
	m.mu.Unlock()

	if err := deleteIfOwner.Run(ctx, m.client, []string{key}, m.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to mirror offline user: %w", err)
	}
	return nil
}

// Lookup returns the instance that currently holds userID.
func (m *RedisMirror) Lookup(ctx context.Context, userID string) (string, bool, error) {
	instance, err := m.client.Get(ctx, m.keyFor(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to lookup presence: %w", err)
	}
	return instance, true, nil
}

func (m *RedisMirror) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshKeys(ctx)
		}
	}
}

func (m *RedisMirror) refreshKeys(ctx context.Context) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.managedKeys))
	for k := range m.managedKeys {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	if len(keys) == 0 {
		return
	}

	pipe := m.client.Pipeline()
	for _, key := range keys {
		pipe.Set(ctx, key, m.instanceID, m.keyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l := log.L()
		l.Error().Err(err).Int("keys", len(keys)).Msg("failed to refresh presence keys")
	}
}

// Stop halts the worker and heartbeat and removes every key this instance owns.
func (m *RedisMirror) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	keys := make([]string, 0, len(m.managedKeys))
	for k := range m.managedKeys {
		keys = append(keys, k)
	}
	m.managedKeys = make(map[string]struct{})
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := deleteIfOwner.Run(ctx, m.client, []string{key}, m.instanceID).Err(); err != nil {
			l := log.L()
			l.Error().Err(err).Str("key", key).Msg("failed to remove presence key")
		}
	}
}

// Close closes the Redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
