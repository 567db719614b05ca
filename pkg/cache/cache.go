// Package cache stores intermediate results (usable cycles, neighbor graphs,
// building counts) by key so repeated runs over the same map skip the
// expensive passes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is an opaque key→blob store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// LoadOrCompute returns the cached value for key, or computes it, stores it
// and returns it. The second result reports a cache hit. Values are encoded
// as JSON. A nil cache always computes.
func LoadOrCompute[T any](ctx context.Context, c Cache, key string, compute func() (T, error)) (T, bool, error) {
	var zero T
	if c != nil {
		b, ok, err := c.Get(ctx, key)
		if err != nil {
			return zero, false, fmt.Errorf("reading %s: %w", key, err)
		}
		if ok {
			var v T
			if err := json.Unmarshal(b, &v); err == nil {
				return v, true, nil
			}
		}
	}

	v, err := compute()
	if err != nil {
		return zero, false, err
	}
	if c == nil {
		return v, false, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return zero, false, fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := c.Put(ctx, key, b); err != nil {
		return zero, false, fmt.Errorf("writing %s: %w", key, err)
	}
	return v, false, nil
}

// Memory is an in-process cache.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// FileCache keeps one file per key under a directory.
type FileCache struct {
	dir string
}

// NewFileCache returns a cache rooted at dir, creating it if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

var unsafeKey = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")

func (f *FileCache) path(key string) string {
	return filepath.Join(f.dir, unsafeKey.Replace(key))
}

func (f *FileCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Put writes through a temporary file so readers never see a partial blob.
func (f *FileCache) Put(_ context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(f.dir, ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

// RedisCache stores blobs in Redis under a key prefix with an optional TTL.
type RedisCache struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client.
func NewRedisCache(rc *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{rc: rc, prefix: prefix, ttl: ttl}
}

// OpenRedis dials addr and returns a cache over it.
func OpenRedis(addr, password string, db int, prefix string, ttl time.Duration) *RedisCache {
	return NewRedisCache(redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), prefix, ttl)
}

func (r *RedisCache) key(k string) string {
	return r.prefix + k
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rc.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r *RedisCache) Put(ctx context.Context, key string, value []byte) error {
	return r.rc.Set(ctx, r.key(key), value, r.ttl).Err()
}

// Close releases the underlying client.
func (r *RedisCache) Close() error {
	return r.rc.Close()
}
