// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package l2 is the shared result cache. Entries are keyed only by content
// fingerprint, so identical bytes reached through different paths or
// machines share one entry. Every network failure degrades: a failed lookup
// is a miss and a failed store is a no-op. Expiry is left to the backing
// store; the cache passes the configured TTL on every write.
package l2

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pdiddy/docudactyl/internal/abi"
	"github.com/pdiddy/docudactyl/pkg/types"
)

const (
	defaultNamespace = "ddac"
	defaultTTL       = 7 * 24 * time.Hour
	defaultTimeout   = 2 * time.Second
)

// Store is a key/value backend with per-entry TTL.
type Store interface {
	// Get returns ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Count returns the number of live keys starting with prefix.
	Count(ctx context.Context, prefix string) (uint64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits     uint64 `json:"hits" yaml:"hits"`
	Misses   uint64 `json:"misses" yaml:"misses"`
	Stores   uint64 `json:"stores" yaml:"stores"`
	Failures uint64 `json:"failures" yaml:"failures"`
}

// Cache is a handle on a shared store. A nil *Cache behaves as an always
// missing cache.
type Cache struct {
	store   Store
	ns      string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger

	hits, misses, stores, failures atomic.Uint64
	closed                         atomic.Bool
}

// stageEnvelope carries a stage side-channel blob with its mask.
type stageEnvelope struct {
	Mask    uint64 `msgpack:"mask"`
	Results []byte `msgpack:"results"`
}

// Connect builds the store named by cfg.Backend and pings it. It fails only
// on invalid configuration; an unreachable endpoint is logged and the handle
// is returned so later calls degrade to misses. Backend "none" returns a nil
// cache.
func Connect(ctx context.Context, cfg types.L2Config, logger *slog.Logger) (*Cache, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "", types.L2None:
		return nil, nil
	case types.L2Redis:
		store, err = NewRedisStore(cfg)
	case types.L2S3:
		store, err = NewS3Store(ctx, cfg)
	case types.L2Postgres:
		store, err = NewPostgresStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown l2 backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting l2 %s: %w", cfg.Backend, err)
	}

	c := New(store, cfg, logger)
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := store.Ping(pctx); err != nil {
		c.logger.Warn("l2 endpoint unreachable; lookups will miss", "backend", cfg.Backend, "endpoint", cfg.Endpoint, "error", err)
	}
	return c, nil
}

// New wraps an existing store.
func New(store Store, cfg types.L2Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		store:   store,
		ns:      cfg.Namespace,
		ttl:     cfg.TTL,
		timeout: cfg.OpTimeout,
		logger:  logger.With("component", "l2"),
	}
	if c.ns == "" {
		c.ns = defaultNamespace
	}
	if c.ttl <= 0 {
		c.ttl = defaultTTL
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	return c
}

// Key returns the store key for a fingerprint: "<namespace>:<fingerprint>".
func (c *Cache) Key(fingerprint string) string { return c.ns + ":" + fingerprint }

func (c *Cache) stagesKey(fingerprint string) string { return c.ns + ".stages:" + fingerprint }

func (c *Cache) usable() bool { return c != nil && !c.closed.Load() }

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	val, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.failures.Add(1)
		c.logger.Warn("l2 lookup failed", "key", key, "error", err)
		return nil, false
	}
	return val, ok
}

func (c *Cache) set(ctx context.Context, key string, val []byte) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.store.Set(ctx, key, val, c.ttl); err != nil {
		c.failures.Add(1)
		c.logger.Warn("l2 store failed", "key", key, "error", err)
		return
	}
	c.stores.Add(1)
}

// Lookup returns the result stored for fingerprint. Any failure is a miss.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (types.ParseResult, bool) {
	if !c.usable() || fingerprint == "" {
		return types.ParseResult{}, false
	}
	val, ok := c.get(ctx, c.Key(fingerprint))
	if !ok {
		c.misses.Add(1)
		return types.ParseResult{}, false
	}
	r, err := abi.DecodeParseResult(val)
	if err != nil {
		c.failures.Add(1)
		c.misses.Add(1)
		c.logger.Warn("l2 entry undecodable", "fingerprint", fingerprint, "error", err)
		return types.ParseResult{}, false
	}
	c.hits.Add(1)
	return r, true
}

// Store writes r under fingerprint. Failures are logged and dropped.
func (c *Cache) Store(ctx context.Context, fingerprint string, r types.ParseResult) {
	if !c.usable() || fingerprint == "" {
		return
	}
	c.set(ctx, c.Key(fingerprint), abi.EncodeParseResult(r))
}

// LookupStages returns the stage side-channel stored for fingerprint.
func (c *Cache) LookupStages(ctx context.Context, fingerprint string) (types.StageFlags, []byte, bool) {
	if !c.usable() || fingerprint == "" {
		return 0, nil, false
	}
	val, ok := c.get(ctx, c.stagesKey(fingerprint))
	if !ok {
		return 0, nil, false
	}
	var env stageEnvelope
	if err := msgpack.Unmarshal(val, &env); err != nil {
		c.failures.Add(1)
		c.logger.Warn("l2 stage entry undecodable", "fingerprint", fingerprint, "error", err)
		return 0, nil, false
	}
	return types.StageFlags(env.Mask), env.Results, true
}

// StoreStages writes the stage side-channel for fingerprint.
func (c *Cache) StoreStages(ctx context.Context, fingerprint string, mask types.StageFlags, blob []byte) {
	if !c.usable() || fingerprint == "" || mask == 0 {
		return
	}
	val, err := msgpack.Marshal(&stageEnvelope{Mask: uint64(mask), Results: blob})
	if err != nil {
		c.logger.Warn("encoding l2 stage entry", "error", err)
		return
	}
	c.set(ctx, c.stagesKey(fingerprint), val)
}

// Count returns the number of result entries in this namespace.
func (c *Cache) Count(ctx context.Context) (uint64, error) {
	if !c.usable() {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout*5)
	defer cancel()
	n, err := c.store.Count(ctx, c.ns+":")
	if err != nil {
		return 0, fmt.Errorf("counting l2 entries: %w", err)
	}
	return n, nil
}

// Stats returns a snapshot of the activity counters.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Stores:   c.stores.Load(),
		Failures: c.failures.Load(),
	}
}

// Close releases the store. Closing twice, or a nil cache, is a no-op.
func (c *Cache) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.store.Close()
}
