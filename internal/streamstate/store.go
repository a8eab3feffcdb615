// Package streamstate stores resumable-stream descriptors so a reconnecting
// client can learn whether a participant stream is still running.
// This package is internal and should not be imported by external projects.
package streamstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/roundflow/config"
	"github.com/BaSui01/roundflow/round"
)

// DefaultTTL 描述符默认过期时间
const DefaultTTL = time.Hour

// Store 流描述符存储接口
// 每个会话同一时刻至多有一个参与者流，因此以会话 ID 作为键
type Store interface {
	// Put 写入（覆盖）会话当前的流描述符
	Put(ctx context.Context, desc round.StreamDescriptor) error

	// Get 读取会话当前的流描述符，不存在时 ok 为 false
	Get(ctx context.Context, conversationID string) (round.StreamDescriptor, bool, error)

	// Clear 删除会话的流描述符
	Clear(ctx context.Context, conversationID string) error

	// Close 释放资源
	Close() error
}

// =============================================================================
// 🗄️ Redis 实现
// =============================================================================

// RedisStore 基于 Redis 的描述符存储，键带 TTL，进程重启后仍可恢复
type RedisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
	owned  bool
}

// NewRedisStore 按配置连接 Redis 并创建描述符存储
func NewRedisStore(cfg config.RedisConfig, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStoreWithClient(client, cfg.KeyPrefix, ttl, logger)
	s.owned = true
	s.logger.Info("redis descriptor store initialized", zap.String("addr", cfg.Addr))
	return s, nil
}

// NewRedisStoreWithClient 使用已有客户端创建描述符存储，Close 不会关闭该客户端
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "roundflow:stream:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "stream_state")),
	}
}

// Put 实现 Store.Put
func (s *RedisStore) Put(ctx context.Context, desc round.StreamDescriptor) error {
	if desc.ConversationID == "" {
		return errors.New("descriptor has no conversation id")
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := s.redis.Set(ctx, s.prefix+desc.ConversationID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store descriptor in redis: %w", err)
	}

	s.logger.Debug("descriptor stored",
		zap.String("conversation_id", desc.ConversationID),
		zap.Int("round", desc.RoundNumber),
		zap.Int("participant_index", desc.ParticipantIndex),
		zap.String("state", string(desc.State)),
	)
	return nil
}

// Get 实现 Store.Get
func (s *RedisStore) Get(ctx context.Context, conversationID string) (round.StreamDescriptor, bool, error) {
	data, err := s.redis.Get(ctx, s.prefix+conversationID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return round.StreamDescriptor{}, false, nil
		}
		return round.StreamDescriptor{}, false, fmt.Errorf("load descriptor from redis: %w", err)
	}
	var desc round.StreamDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return round.StreamDescriptor{}, false, fmt.Errorf("unmarshal descriptor: %w", err)
	}
	return desc, true, nil
}

// Clear 实现 Store.Clear
func (s *RedisStore) Clear(ctx context.Context, conversationID string) error {
	if err := s.redis.Del(ctx, s.prefix+conversationID).Err(); err != nil {
		return fmt.Errorf("delete descriptor from redis: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连通性，供健康检查使用
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close 实现 Store.Close
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.redis.Close()
}

// =============================================================================
// 🧠 内存实现
// =============================================================================

type memoryEntry struct {
	desc      round.StreamDescriptor
	expiresAt time.Time
}

// MemoryStore 基于内存的描述符存储，用于单实例部署和测试
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore 创建内存描述符存储
// cleanupInterval 大于 0 时启动后台过期清理
func NewMemoryStore(ttl, cleanupInterval time.Duration, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "stream_state")),
		stopCh:  make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}
	return s
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expired := 0
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, id)
			expired++
		}
	}
	if expired > 0 {
		s.logger.Debug("expired descriptors removed",
			zap.Int("expired", expired),
			zap.Int("remaining", len(s.entries)))
	}
}

// Put 实现 Store.Put
func (s *MemoryStore) Put(_ context.Context, desc round.StreamDescriptor) error {
	if desc.ConversationID == "" {
		return errors.New("descriptor has no conversation id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[desc.ConversationID] = memoryEntry{desc: desc, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Get 实现 Store.Get
func (s *MemoryStore) Get(_ context.Context, conversationID string) (round.StreamDescriptor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[conversationID]
	if !ok || s.now().After(e.expiresAt) {
		return round.StreamDescriptor{}, false, nil
	}
	return e.desc, true, nil
}

// Clear 实现 Store.Clear
func (s *MemoryStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, conversationID)
	return nil
}

// Len 返回当前条目数（含未清理的过期条目）
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close 停止后台清理
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	return nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
