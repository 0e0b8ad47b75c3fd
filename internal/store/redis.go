package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

const defaultRedisURL = "redis://localhost:6379"

// RedisStore keeps each session run in a sorted set scored by step order,
// plus a per-session index of run timestamps.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix changes the "roast" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithTTL expires a run's keys after d of inactivity. Zero keeps them forever.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore connects to url and pings the server.
func NewRedisStore(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	if url == "" {
		url = defaultRedisURL
	}
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisStoreFromClient(client, opts...), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "roast"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) Save(ctx context.Context, rec *schema.StateRecord) error {
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	runKey := s.runKey(cp.SessionID, cp.Timestamp)
	runsKey := s.runsKey(cp.SessionID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, runKey, redis.Z{Score: float64(cp.Order), Member: payload})
	pipe.ZAddNX(ctx, runsKey, redis.Z{Score: float64(cp.CreatedAt.UnixMilli()), Member: cp.Timestamp})
	if s.ttl > 0 {
		pipe.Expire(ctx, runKey, s.ttl)
		pipe.Expire(ctx, runsKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeError("save snapshot", err)
	}
	return nil
}

func (s *RedisStore) LoadBefore(ctx context.Context, sessionID, step, timestamp string) (*schema.StateRecord, error) {
	recs, err := s.List(ctx, sessionID, timestamp)
	if err != nil {
		return nil, err
	}
	return pickBefore(recs, step), nil
}

func (s *RedisStore) List(ctx context.Context, sessionID, timestamp string) ([]*schema.StateRecord, error) {
	if timestamp == "" {
		runs, err := s.client.ZRange(ctx, s.runsKey(sessionID), 0, -1).Result()
		if err != nil {
			return nil, storeError("list runs", err)
		}
		timestamp = latest(runs)
		if timestamp == "" {
			return nil, nil
		}
	}

	members, err := s.client.ZRange(ctx, s.runKey(sessionID, timestamp), 0, -1).Result()
	if err != nil {
		return nil, storeError("list snapshots", err)
	}
	recs := make([]*schema.StateRecord, 0, len(members))
	for _, m := range members {
		rec := &schema.StateRecord{}
		if err := json.Unmarshal([]byte(m), rec); err != nil {
			return nil, storeError("decode snapshot", err)
		}
		recs = append(recs, rec)
	}
	sortRecords(recs)
	return recs, nil
}

func (s *RedisStore) runKey(sessionID, timestamp string) string {
	return fmt.Sprintf("%s:snapshots:%s:%s", s.prefix, sessionID, timestamp)
}

func (s *RedisStore) runsKey(sessionID string) string {
	return fmt.Sprintf("%s:runs:%s", s.prefix, sessionID)
}

var _ Repository = (*RedisStore)(nil)
