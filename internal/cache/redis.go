// Package cache is the Redis boundary: an append-only journal of accepted
// game actions, consumed asynchronously by the historian.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list carrying journaled actions.
const DefaultQueueName = "trigrid_actions"

// ActionRecord is one journaled action as it travels through the queue.
type ActionRecord struct {
	GameID    uuid.UUID       `json:"game_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Journal wraps a Redis client around the action queue.
type Journal struct {
	rdb   *redis.Client
	queue string
}

// Connect builds a journal from REDIS_ADDR / REDIS_DB /
// HISTORIAN_QUEUE_NAME and verifies the connection.
func Connect() (*Journal, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: GetEnv("REDIS_ADDR", "localhost:6379"),
		DB:   GetEnvInt("REDIS_DB", 0),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewJournal(rdb, GetEnv("HISTORIAN_QUEUE_NAME", DefaultQueueName)), nil
}

// NewJournal wraps an existing client, mainly for tests.
func NewJournal(rdb *redis.Client, queue string) *Journal {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Journal{rdb: rdb, queue: queue}
}

// Append serializes the action and pushes it onto the queue tail.
func (j *Journal) Append(ctx context.Context, gameID uuid.UUID, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal action payload: %w", err)
	}
	rec := ActionRecord{
		GameID:    gameID,
		Kind:      kind,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal action record: %w", err)
	}
	if err := j.rdb.RPush(ctx, j.queue, data).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", j.queue, err)
	}
	return nil
}

// Pop blocks up to timeout for the next action. A drained queue returns
// (nil, nil).
func (j *Journal) Pop(ctx context.Context, timeout time.Duration) (*ActionRecord, error) {
	res, err := j.rdb.BLPop(ctx, timeout, j.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("blpop %s: %w", j.queue, err)
	}
	if len(res) < 2 {
		return nil, nil
	}
	var rec ActionRecord
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return nil, fmt.Errorf("decode action record: %w", err)
	}
	return &rec, nil
}

// Len reports the number of queued actions.
func (j *Journal) Len(ctx context.Context) (int64, error) {
	return j.rdb.LLen(ctx, j.queue).Result()
}

// Close releases the underlying client.
func (j *Journal) Close() error { return j.rdb.Close() }

// GetEnv reads an environment variable with a fallback.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvInt reads an integer environment variable with a fallback.
func GetEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
