// Package balancer picks one healthy peer per request.
package balancer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"
	"kmesh/pkg/transport"
)

// Strategy selects among healthy peers.
type Strategy string

const (
	RoundRobin    Strategy = "round-robin"
	LowestLatency Strategy = "lowest-latency"
	Random        Strategy = "random"
)

// ParseStrategy converts a strategy name, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(name))); s {
	case RoundRobin, LowestLatency, Random:
		return s, nil
	case "":
		return RoundRobin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Scorer exposes the health view the balancer selects from.
// *health.Monitor implements it.
type Scorer interface {
	LinkScore(peer models.PeerID) int
	Latency(peer models.PeerID) (int64, bool)
}

// LoadBalancer spreads requests across the roster by link health.
type LoadBalancer struct {
	scorer  Scorer
	channel transport.Channel
	roster  []models.PeerID
	metrics *metrics.Registry
	logger  zerolog.Logger

	cursor atomic.Uint64
}

// New creates a balancer over roster. metrics may be nil.
func New(scorer Scorer, channel transport.Channel, roster []models.PeerID, reg *metrics.Registry) *LoadBalancer {
	return &LoadBalancer{
		scorer:  scorer,
		channel: channel,
		roster:  append([]models.PeerID(nil), roster...),
		metrics: reg,
		logger:  log.Component("balancer"),
	}
}

// SelectNode returns one peer with a link score above 0. Peers keep their
// input order for round-robin and latency ties. An empty strategy means
// round-robin; any other unknown strategy fails with ErrUnknownStrategy.
func (b *LoadBalancer) SelectNode(peers []models.PeerID, strategy Strategy) (models.PeerID, error) {
	switch strategy {
	case RoundRobin, LowestLatency, Random:
	case "":
		strategy = RoundRobin
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	healthy := make([]models.PeerID, 0, len(peers))
	for _, peer := range peers {
		if b.scorer.LinkScore(peer) > 0 {
			healthy = append(healthy, peer)
		}
	}

	if len(healthy) == 0 {
		b.count(strategy, "no_healthy_peers")
		return "", ErrNoHealthyPeers
	}

	var selected models.PeerID
	switch strategy {
	case LowestLatency:
		selected = b.lowestLatency(healthy)
	case Random:
		selected = healthy[rand.IntN(len(healthy))] //nolint:gosec // load spreading, not security
	case RoundRobin:
		next := b.cursor.Add(1) - 1
		selected = healthy[next%uint64(len(healthy))]
	}

	b.count(strategy, "selected")
	return selected, nil
}

func (b *LoadBalancer) lowestLatency(healthy []models.PeerID) models.PeerID {
	type candidate struct {
		peer    models.PeerID
		latency int64
	}

	candidates := make([]candidate, len(healthy))
	for i, peer := range healthy {
		latency, _ := b.scorer.Latency(peer)
		candidates[i] = candidate{peer: peer, latency: latency}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].latency < candidates[j].latency
	})
	return candidates[0].peer
}

// RouteQuery sends one request to a peer selected from the roster and
// returns its response unmodified. Failures are not retried.
func (b *LoadBalancer) RouteQuery(ctx context.Context, apiPath string, payload any, strategy Strategy) (json.RawMessage, error) {
	peer, err := b.SelectNode(b.roster, strategy)
	if err != nil {
		return nil, err
	}

	b.logger.Debug().
		Str("peer", peer.String()).
		Str("api_path", apiPath).
		Str("strategy", string(strategy)).
		Msg("Routing request")

	return b.channel.Send(ctx, peer, apiPath, payload)
}

func (b *LoadBalancer) count(strategy Strategy, result string) {
	if b.metrics == nil {
		return
	}
	if strategy == "" {
		strategy = RoundRobin
	}
	b.metrics.BalancerSelectionsTotal.WithLabelValues(string(strategy), result).Inc()
}
