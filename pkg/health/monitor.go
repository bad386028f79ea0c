// Package health probes mesh peers and scores their links.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"
	"kmesh/pkg/transport"
)

const (
	defaultCheckInterval = 15 * time.Second
	defaultCheckTimeout  = 5 * time.Second
)

// Options configures a Monitor.
type Options struct {
	// Interval between background rounds started by Start.
	Interval time.Duration
	// Timeout bounds each single probe.
	Timeout time.Duration
	// Policy maps latencies to link scores. Zero value means DefaultPolicy.
	Policy ScorePolicy
	// Metrics is optional.
	Metrics *metrics.Registry
}

// Monitor keeps the latest HealthRecord of every probed peer.
type Monitor struct {
	channel transport.Channel
	roster  []models.PeerID

	interval time.Duration
	timeout  time.Duration
	policy   ScorePolicy
	metrics  *metrics.Registry
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	records map[models.PeerID]models.HealthRecord

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor that probes peers through channel. The roster
// is the set of peers checked by the background loop.
func NewMonitor(channel transport.Channel, roster []models.PeerID, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultCheckInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCheckTimeout
	}
	if opts.Policy.Thresholds == nil {
		opts.Policy = DefaultPolicy()
	}

	return &Monitor{
		channel:  channel,
		roster:   append([]models.PeerID(nil), roster...),
		interval: opts.Interval,
		timeout:  opts.Timeout,
		policy:   opts.Policy,
		metrics:  opts.Metrics,
		logger:   log.Component("health"),
		now:      time.Now,
		records:  make(map[models.PeerID]models.HealthRecord, len(roster)),
		stopCh:   make(chan struct{}),
	}
}

// Roster returns the configured peers.
func (m *Monitor) Roster() []models.PeerID {
	return append([]models.PeerID(nil), m.roster...)
}

// Start runs one synchronous round over the roster and then keeps checking it
// every interval until Stop is called or ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	m.CheckAll(ctx, m.roster)

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info().
		Int("peer_count", len(m.roster)).
		Dur("interval", m.interval).
		Msg("Health monitor started")
}

// Stop ends the background loop and waits for it.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	m.logger.Info().Msg("Health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx, m.roster)
		}
	}
}

// CheckAll probes every peer concurrently, stores the new records and returns
// them. A failed probe records the peer offline with no latency.
func (m *Monitor) CheckAll(ctx context.Context, peers []models.PeerID) map[models.PeerID]models.HealthRecord {
	outcomes := transport.FanOut(ctx, peers, m.timeout, m.probe)

	results := make(map[models.PeerID]models.HealthRecord, len(outcomes))
	for _, outcome := range outcomes {
		record := outcome.Value
		if outcome.Err != nil {
			record = models.HealthRecord{
				Peer:          outcome.Target,
				Status:        models.PeerOffline,
				LastCheckedAt: m.now(),
				LastError:     outcome.Err.Error(),
			}
		}
		m.Observe(record)
		results[outcome.Target] = record
	}

	if m.metrics != nil {
		m.metrics.HealthChecksRun.Inc()
		m.metrics.PeersOnline.Set(float64(m.onlineCount()))
	}

	return results
}

func (m *Monitor) probe(ctx context.Context, peer models.PeerID) (models.HealthRecord, error) {
	start := m.now()
	raw, err := m.channel.Send(ctx, peer, models.PathHealth, nil)
	latency := m.now().Sub(start).Milliseconds()
	if err != nil {
		return models.HealthRecord{}, err
	}

	var reply models.HealthResponse
	if err := transport.Decode(raw, &reply); err != nil {
		return models.HealthRecord{}, err
	}
	if reply.Status != "" && reply.Status != string(models.PeerOnline) {
		return models.HealthRecord{}, fmt.Errorf("%w: %s", ErrUnhealthyReply, reply.Status)
	}

	return models.HealthRecord{
		Peer:          peer,
		Status:        models.PeerOnline,
		LatencyMs:     &latency,
		LastCheckedAt: m.now(),
	}, nil
}

// Observe stores record as the latest state of its peer, replacing any
// previous one, and logs online/offline transitions.
func (m *Monitor) Observe(record models.HealthRecord) {
	m.mu.Lock()
	previous, seen := m.records[record.Peer]
	m.records[record.Peer] = record
	m.mu.Unlock()

	switch {
	case seen && previous.Online() && !record.Online():
		m.logger.Warn().
			Str("peer", record.Peer.String()).
			Str("error", record.LastError).
			Msg("Peer marked offline")
	case seen && !previous.Online() && record.Online():
		event := m.logger.Info().Str("peer", record.Peer.String())
		if record.LatencyMs != nil {
			event = event.Int64("latency_ms", *record.LatencyMs)
		}
		event.Msg("Peer back online")
	case !seen:
		m.logger.Debug().
			Str("peer", record.Peer.String()).
			Str("status", string(record.Status)).
			Msg("First health record")
	}

	if m.metrics != nil {
		m.metrics.PeerLinkScore.WithLabelValues(record.Peer.String()).Set(float64(m.policy.Score(record)))
		if record.LatencyMs != nil {
			m.metrics.PeerLatencyMs.WithLabelValues(record.Peer.String()).Set(float64(*record.LatencyMs))
		}
	}
}

// Record returns the latest record of peer.
func (m *Monitor) Record(peer models.PeerID) (models.HealthRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[peer]
	return record, ok
}

// LinkScore returns the 0-10 score of peer's latest record. Unknown peers
// score 0.
func (m *Monitor) LinkScore(peer models.PeerID) int {
	record, ok := m.Record(peer)
	if !ok {
		return 0
	}
	return m.policy.Score(record)
}

// Latency returns the latest measured latency of peer, if any.
func (m *Monitor) Latency(peer models.PeerID) (int64, bool) {
	record, ok := m.Record(peer)
	if !ok || record.LatencyMs == nil {
		return 0, false
	}
	return *record.LatencyMs, true
}

// Snapshot returns every known record with its score, sorted by peer.
func (m *Monitor) Snapshot() []models.PeerStatusView {
	m.mu.RLock()
	views := make([]models.PeerStatusView, 0, len(m.records))
	for _, record := range m.records {
		views = append(views, models.PeerStatusView{
			HealthRecord: record,
			LinkScore:    m.policy.Score(record),
		})
	}
	m.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool {
		return views[i].Peer < views[j].Peer
	})
	return views
}

func (m *Monitor) onlineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, record := range m.records {
		if record.Online() {
			n++
		}
	}
	return n
}
