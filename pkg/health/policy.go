package health

import "kmesh/pkg/models"

// MaxLinkScore is the score of a peer answering below the fastest threshold.
const MaxLinkScore = 10

// Threshold maps latencies strictly below BelowMs to Score.
type Threshold struct {
	BelowMs int64
	Score   int
}

// ScorePolicy turns a health record into a link score. Thresholds are checked
// in order; a latency matching none of them gets Floor.
type ScorePolicy struct {
	Thresholds []Threshold
	Floor      int
}

// DefaultPolicy scores <100ms as 10, <300ms as 7, <1000ms as 4 and anything
// slower as 1.
func DefaultPolicy() ScorePolicy {
	return ScorePolicy{
		Thresholds: []Threshold{
			{BelowMs: 100, Score: 10},
			{BelowMs: 300, Score: 7},
			{BelowMs: 1000, Score: 4},
		},
		Floor: 1,
	}
}

// Score returns the link score of a record. Offline peers and online peers
// without a measured latency always score 0.
func (p ScorePolicy) Score(record models.HealthRecord) int {
	if !record.Online() || record.LatencyMs == nil {
		return 0
	}

	latency := *record.LatencyMs
	for _, t := range p.Thresholds {
		if latency < t.BelowMs {
			return t.Score
		}
	}
	return p.Floor
}
