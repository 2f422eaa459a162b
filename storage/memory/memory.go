package memory

import (
	"bytes"
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/storage"
)

const (
	// BackendName identifies this backend in spans and metrics.
	BackendName = "memory"

	shardCount = 32

	// DefaultCleanupInterval is how often expired entries are purged.
	DefaultCleanupInterval = time.Minute
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Store is an in-memory storage.Datasource.
type Store struct {
	shards [shardCount]*shard
	now    func() time.Time
	logger *slog.Logger

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

var _ storage.Datasource = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval.
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// If cleanupInterval is 0 or negative, DefaultCleanupInterval is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		now:             time.Now,
		logger:          slog.Default(),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}

	go s.cleanupLoop()
	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetClock replaces the time source used for expiry. Call before first use.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetInstrumentation reports the entry count through the storage.entries gauge.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	if err := inst.RegisterStorageSizeCallback(BackendName, func() int64 { return int64(s.Len()) }); err != nil {
		s.logger.Warn("Failed to register storage size callback", "error", err)
	}
}

// Stop gracefully stops the cleanup goroutine. It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Lookup returns a copy of the value stored under key.
func (s *Store) Lookup(_ context.Context, key string) ([]byte, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || e.expired(s.now()) {
		return nil, storage.ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

// Insert stores a copy of value under key.
func (s *Store) Insert(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := &entry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.entries[key] = e
	sh.mu.Unlock()
	return nil
}

// Remove deletes key.
func (s *Store) Remove(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
	return nil
}

// TestAndSet swaps the value of key under the shard lock.
func (s *Store) TestAndSet(_ context.Context, key string, expected, value []byte) (bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || e.expired(s.now()) || !bytes.Equal(e.value, expected) {
		return false, nil
	}
	e.value = bytes.Clone(value)
	return true, nil
}

// Len returns the number of stored entries, including expired entries not
// yet purged.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() int {
	now := s.now()
	cleaned := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if e.expired(now) {
				delete(sh.entries, key)
				cleaned++
			}
		}
		sh.mu.Unlock()
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
	return cleaned
}
