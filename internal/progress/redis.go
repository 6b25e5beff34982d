package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mirror to zewnętrzna kopia migawek, z której mogą czytać inne instancje portalu.
type Mirror interface {
	Publish(ctx context.Context, id string, s Snapshot) error
	Get(ctx context.Context, id string) (Snapshot, bool, error)
}

// RedisMirror zapisuje migawki jako JSON pod kluczem "catalog2erp:sync:<preview_id>" z TTL.
type RedisMirror struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMirror(ctx context.Context, addr, password string, dbIndex int, ttl time.Duration) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbIndex,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisMirror{rdb: rdb, prefix: "catalog2erp:sync:", ttl: ttl}, nil
}

func (m *RedisMirror) Publish(ctx context.Context, id string, s Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, m.prefix+id, raw, m.ttl).Err()
}

func (m *RedisMirror) Get(ctx context.Context, id string) (Snapshot, bool, error) {
	raw, err := m.rdb.Get(ctx, m.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
