// Package cache is a peer-replicated key/value cache. Writes land locally
// and are pushed to every peer; local misses are read through from peers.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"
	"kmesh/pkg/transport"
)

const defaultPeerTimeout = 3 * time.Second

// Options configures a DistributedCache.
type Options struct {
	// Timeout bounds each peer call.
	Timeout time.Duration
	// Metrics is optional.
	Metrics *metrics.Registry
}

// DistributedCache keeps entries in process memory and replicates them to
// the configured peers. There is no conflict resolution: the last local
// write wins, and on a read-through the first peer in roster order that
// has the key wins.
type DistributedCache struct {
	channel transport.Channel
	peers   []models.PeerID
	timeout time.Duration
	metrics *metrics.Registry
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]models.CacheEntry
}

// New creates a cache replicating to peers over channel.
func New(channel transport.Channel, peers []models.PeerID, opts Options) *DistributedCache {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultPeerTimeout
	}

	return &DistributedCache{
		channel: channel,
		peers:   append([]models.PeerID(nil), peers...),
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		logger:  log.Component("cache"),
		now:     time.Now,
		entries: make(map[string]models.CacheEntry),
	}
}

// Set stores value locally and then pushes it to every peer concurrently.
// Propagation failures are logged and counted but never returned; the local
// write always succeeds.
func (c *DistributedCache) Set(ctx context.Context, key string, value any) {
	c.SetLocal(key, value)
	c.countOp("set", "ok")

	if len(c.peers) == 0 {
		return
	}

	request := models.CacheSetRequest{Key: key, Value: value}
	outcomes := transport.FanOut(ctx, c.peers, c.timeout, func(ctx context.Context, peer models.PeerID) (json.RawMessage, error) {
		return c.channel.Send(ctx, peer, models.PathCacheSet, request)
	})

	failed := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
			c.countPropagation("failure")
			c.logger.Warn().
				Str("key", key).
				Str("peer", outcome.Target.String()).
				Err(outcome.Err).
				Msg("Cache propagation failed")
			continue
		}
		c.countPropagation("success")
	}

	c.logger.Debug().
		Str("key", key).
		Int("peers", len(c.peers)).
		Int("failed", failed).
		Msg("Cache write propagated")
}

// Get returns the local value of key. On a local miss every peer is asked
// concurrently; the answer of the first peer in roster order that has the
// key is stored locally and returned.
func (c *DistributedCache) Get(ctx context.Context, key string) (any, bool) {
	if value, ok := c.GetLocal(key); ok {
		c.countOp("get", "hit")
		return value, true
	}

	if len(c.peers) == 0 {
		c.countOp("get", "miss")
		return nil, false
	}

	request := models.CacheGetRequest{Key: key}
	outcomes := transport.FanOut(ctx, c.peers, c.timeout, func(ctx context.Context, peer models.PeerID) (models.CacheGetResponse, error) {
		raw, err := c.channel.Send(ctx, peer, models.PathCacheGet, request)
		if err != nil {
			return models.CacheGetResponse{}, err
		}
		var response models.CacheGetResponse
		if err := transport.Decode(raw, &response); err != nil {
			return models.CacheGetResponse{}, err
		}
		return response, nil
	})

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			c.logger.Debug().
				Str("key", key).
				Str("peer", outcome.Target.String()).
				Err(outcome.Err).
				Msg("Peer cache read failed")
			continue
		}
		if outcome.Value.Found {
			c.SetLocal(key, outcome.Value.Value)
			c.countOp("get", "peer_hit")
			c.logger.Debug().
				Str("key", key).
				Str("peer", outcome.Target.String()).
				Msg("Cache filled from peer")
			return outcome.Value.Value, true
		}
	}

	c.countOp("get", "miss")
	return nil, false
}

// SetLocal stores value without propagating it. Peers call it through the
// cache-set endpoint.
func (c *DistributedCache) SetLocal(key string, value any) {
	c.mu.Lock()
	c.entries[key] = models.CacheEntry{Key: key, Value: value, WrittenAt: c.now()}
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(size))
	}
}

// GetLocal reads the local store only. Peers call it through the cache-get
// endpoint.
func (c *DistributedCache) GetLocal(key string) (any, bool) {
	entry, ok := c.Entry(key)
	return entry.Value, ok
}

// Entry returns the local entry of key with its write time.
func (c *DistributedCache) Entry(key string) (models.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	return entry, ok
}

// Len returns the number of local entries.
func (c *DistributedCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *DistributedCache) countOp(op, result string) {
	if c.metrics != nil {
		c.metrics.CacheOperationsTotal.WithLabelValues(op, result).Inc()
	}
}

func (c *DistributedCache) countPropagation(result string) {
	if c.metrics != nil {
		c.metrics.CachePropagationTotal.WithLabelValues(result).Inc()
	}
}
