// Package blob persists small named values for the local-only mode: the demo
// canvas collection, dismissal feedback, theme and auth flag.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"canvas/api/internal/config"
)

var ErrNotFound = errors.New("blob not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Open builds the store selected by cfg.BlobBackend.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.BlobBackend)) {
	case config.BlobBackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL)
	case config.BlobBackendMinio:
		return NewMinioStore(ctx, MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	case config.BlobBackendMemory:
		return NewMemoryStore(), nil
	case config.BlobBackendFile, "":
		return NewFileStore(cfg.BlobDir)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string][]byte{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), value...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
