package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const dedupKeyPrefix = "dermabot:seen:"

// MemoryDeduper remembers provider message ids for ttl in process memory.
type MemoryDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	stopCh chan struct{}
	once   sync.Once
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	d := &MemoryDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}
	go d.cleanup()
	return d
}

// Seen records id and reports whether it was already recorded within ttl.
// An empty id is never a duplicate.
func (d *MemoryDeduper) Seen(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.ttl {
		return true, nil
	}
	d.seen[id] = now
	return false, nil
}

func (d *MemoryDeduper) Stop() {
	d.once.Do(func() { close(d.stopCh) })
}

func (d *MemoryDeduper) cleanup() {
	tick := d.ttl / 4
	if tick < time.Minute {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.expire(time.Now())
		case <-d.stopCh:
			return
		}
	}
}

func (d *MemoryDeduper) expire(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// RedisDeduper shares seen ids across replicas with SET NX.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper connects to url (redis://host:port/db) and pings it.
func NewRedisDeduper(ctx context.Context, url string, ttl time.Duration) (*RedisDeduper, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 2

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Redis deduplication enabled")
	return &RedisDeduper{client: client, ttl: ttl}, nil
}

func (d *RedisDeduper) Seen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	fresh, err := d.client.SetNX(ctx, dedupKeyPrefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return !fresh, nil
}

func (d *RedisDeduper) Close() error {
	return d.client.Close()
}
