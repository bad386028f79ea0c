// Package consensus runs lightweight majority votes over the peer roster.
// It is not Byzantine fault tolerant: peers are trusted to vote honestly.
package consensus

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"
	"kmesh/pkg/transport"
)

const defaultVoteTimeout = 3 * time.Second

// Result is the verdict of one round with the ballot it was derived from.
type Result struct {
	Verdict models.Verdict         `json:"verdict"`
	Ballot  models.ConsensusBallot `json:"ballot"`
}

// Achieved reports whether a majority voted yes.
func (r Result) Achieved() bool {
	return r.Verdict == models.ConsensusAchieved
}

// Options configures a Manager.
type Options struct {
	// Timeout bounds each peer's vote.
	Timeout time.Duration
	// Metrics is optional.
	Metrics *metrics.Registry
}

// Manager asks every roster peer for a vote.
type Manager struct {
	channel transport.Channel
	roster  []models.PeerID
	timeout time.Duration
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// NewManager creates a manager voting over roster.
func NewManager(channel transport.Channel, roster []models.PeerID, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultVoteTimeout
	}

	return &Manager{
		channel: channel,
		roster:  append([]models.PeerID(nil), roster...),
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		logger:  log.Component("consensus"),
	}
}

// Vote proposes value for topic to every roster peer concurrently.
// Consensus is achieved when strictly more than half of the whole roster
// (integer division) answered the literal token "yes". Peers that fail,
// time out or answer anything else count against it. Vote never errors.
func (m *Manager) Vote(ctx context.Context, topic string, value any) Result {
	ballot := models.ConsensusBallot{
		Topic:         topic,
		ProposedValue: value,
		Votes:         make(map[models.PeerID]string, len(m.roster)),
	}

	request := models.VoteRequest{Topic: topic, Value: value}
	outcomes := transport.FanOut(ctx, m.roster, m.timeout, func(ctx context.Context, peer models.PeerID) (string, error) {
		raw, err := m.channel.Send(ctx, peer, models.PathConsensusVote, request)
		if err != nil {
			return "", err
		}
		var response models.VoteResponse
		if err := transport.Decode(raw, &response); err != nil {
			return "", err
		}
		return response.Vote, nil
	})

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			m.logger.Debug().
				Str("topic", topic).
				Str("peer", outcome.Target.String()).
				Err(outcome.Err).
				Msg("No vote from peer")
			continue
		}
		ballot.Votes[outcome.Target] = outcome.Value
	}

	verdict := models.ConsensusFailed
	yes := ballot.YesCount()
	if yes > len(m.roster)/2 {
		verdict = models.ConsensusAchieved
	}

	if m.metrics != nil {
		m.metrics.ConsensusRoundsTotal.WithLabelValues(string(verdict)).Inc()
	}
	m.logger.Info().
		Str("topic", topic).
		Int("yes", yes).
		Int("responded", len(ballot.Votes)).
		Int("roster", len(m.roster)).
		Str("verdict", string(verdict)).
		Msg("Consensus round finished")

	return Result{Verdict: verdict, Ballot: ballot}
}
