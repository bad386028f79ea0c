// Package broadcast fans one request out to many peers or remote clusters
// and combines the answers.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"
	"kmesh/pkg/transport"
)

const defaultTargetTimeout = 5 * time.Second

// Options configures a Broadcaster.
type Options struct {
	// Timeout bounds each target's send.
	Timeout time.Duration
	// Metrics is optional.
	Metrics *metrics.Registry
}

// Broadcaster sends one request to many targets concurrently.
type Broadcaster struct {
	channel transport.Channel
	timeout time.Duration
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// NewBroadcaster creates a broadcaster over channel.
func NewBroadcaster(channel transport.Channel, opts Options) *Broadcaster {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTargetTimeout
	}

	return &Broadcaster{
		channel: channel,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		logger:  log.Component("broadcast"),
	}
}

// Broadcast sends payload to every target and returns one result per
// target, in target order. Failures are recorded in the results, never
// returned.
func (b *Broadcaster) Broadcast(ctx context.Context, apiPath string, payload any, targets []models.PeerID) []models.BroadcastResult {
	outcomes := transport.FanOut(ctx, targets, b.timeout, func(ctx context.Context, target models.PeerID) (json.RawMessage, error) {
		return b.channel.Send(ctx, target, apiPath, payload)
	})

	results := make([]models.BroadcastResult, len(outcomes))
	failed := 0
	for i, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
			results[i] = models.BroadcastResult{
				Target:       outcome.Target,
				Outcome:      models.OutcomeError,
				ErrorMessage: outcome.Err.Error(),
			}
		} else {
			results[i] = models.BroadcastResult{
				Target:  outcome.Target,
				Outcome: models.OutcomeSuccess,
				Payload: outcome.Value,
			}
		}

		if b.metrics != nil {
			b.metrics.BroadcastTargetsTotal.WithLabelValues(apiPath, string(results[i].Outcome)).Inc()
		}
	}

	b.logger.Debug().
		Str("api_path", apiPath).
		Int("targets", len(targets)).
		Int("failed", failed).
		Msg("Broadcast finished")

	return results
}

// Aggregate combines results under mode. See Combine.
func (b *Broadcaster) Aggregate(results []models.BroadcastResult, mode Mode) (Aggregate, error) {
	return Combine(results, mode)
}
