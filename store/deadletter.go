package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DeadLetterSink 接收重试耗尽后仍然失败的批次，供离线补偿或人工排查。
type DeadLetterSink interface {
	Record(ctx context.Context, operation string, docs []Document, cause error) error
	Close() error
}

// DeadLetterEntry 死信队列中的一条记录
type DeadLetterEntry struct {
	ID        string     `json:"id"`
	Operation string     `json:"operation"`
	Documents []Document `json:"documents"`
	Error     string     `json:"error"`
	FailedAt  time.Time  `json:"failed_at"`
}

// RedisDeadLetterConfig 配置 Redis 死信队列
type RedisDeadLetterConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"` // List key (default "pufferflow:deadletter")
}

// RedisDeadLetter 基于 Redis List 的死信队列实现，适合分布式部署。
type RedisDeadLetter struct {
	client *redis.Client
	key    string
}

// NewRedisDeadLetter 创建 Redis 死信队列并验证连接。
func NewRedisDeadLetter(cfg RedisDeadLetterConfig) (*RedisDeadLetter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = "pufferflow:deadletter"
	}

	return &RedisDeadLetter{client: client, key: key}, nil
}

// Record 实现 DeadLetterSink.Record
func (d *RedisDeadLetter) Record(ctx context.Context, operation string, docs []Document, cause error) error {
	entry := DeadLetterEntry{
		ID:        uuid.New().String(),
		Operation: operation,
		Documents: docs,
		Error:     cause.Error(),
		FailedAt:  time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", err)
	}

	return d.client.LPush(ctx, d.key, data).Err()
}

// Close 实现 DeadLetterSink.Close
func (d *RedisDeadLetter) Close() error {
	return d.client.Close()
}

// Pending 返回当前积压的死信条数。
func (d *RedisDeadLetter) Pending(ctx context.Context) (int64, error) {
	return d.client.LLen(ctx, d.key).Result()
}

// Drain 取出至多 limit 条死信记录（按入队顺序），用于补偿回放。
func (d *RedisDeadLetter) Drain(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	out := make([]DeadLetterEntry, 0, limit)
	for len(out) < limit {
		data, err := d.client.RPop(ctx, d.key).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, err
		}
		var entry DeadLetterEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return out, fmt.Errorf("failed to unmarshal dead letter entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}
