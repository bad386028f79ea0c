package broadcast

import (
	"encoding/json"
	"fmt"
	"strings"

	"kmesh/pkg/models"
)

// Mode selects how broadcast results are combined.
type Mode string

const (
	FirstSuccess    Mode = "first-success"
	AllSuccesses    Mode = "all-successes"
	MajoritySuccess Mode = "majority-success"
)

// ParseMode converts a mode name, case-insensitively.
func ParseMode(name string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(name))); m {
	case FirstSuccess, AllSuccesses, MajoritySuccess:
		return m, nil
	case "":
		return FirstSuccess, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == FirstSuccess || m == AllSuccesses || m == MajoritySuccess
}

// Verdict is the coarse outcome of an aggregation.
type Verdict string

const (
	VerdictSuccess         Verdict = "success"
	VerdictNoSuccess       Verdict = "no-success"
	VerdictMajoritySuccess Verdict = "majority-success"
	VerdictMajorityFailure Verdict = "majority-failure"
)

// Aggregate is the combination of one broadcast's results.
//
// first-success sets Value and Target to the first success in result order.
// all-successes lists every success in Results. majority-success only
// reports the verdict.
type Aggregate struct {
	Mode      Mode                     `json:"mode"`
	Verdict   Verdict                  `json:"verdict"`
	Target    models.PeerID            `json:"target,omitempty"`
	Value     json.RawMessage          `json:"value,omitempty"`
	Results   []models.BroadcastResult `json:"results,omitempty"`
	Successes int                      `json:"successes"`
	Total     int                      `json:"total"`
}

// Found reports whether at least one target succeeded.
func (a Aggregate) Found() bool {
	return a.Successes > 0
}

// Combine aggregates results under mode. It depends only on the order of
// results, never on arrival time.
func Combine(results []models.BroadcastResult, mode Mode) (Aggregate, error) {
	agg := Aggregate{Mode: mode, Total: len(results)}
	for _, result := range results {
		if result.Succeeded() {
			agg.Successes++
		}
	}

	switch mode {
	case FirstSuccess:
		agg.Verdict = VerdictNoSuccess
		for _, result := range results {
			if result.Succeeded() {
				agg.Verdict = VerdictSuccess
				agg.Target = result.Target
				agg.Value = result.Payload
				break
			}
		}

	case AllSuccesses:
		agg.Verdict = VerdictNoSuccess
		agg.Results = make([]models.BroadcastResult, 0, agg.Successes)
		for _, result := range results {
			if result.Succeeded() {
				agg.Results = append(agg.Results, result)
			}
		}
		if agg.Successes > 0 {
			agg.Verdict = VerdictSuccess
		}

	case MajoritySuccess:
		agg.Verdict = VerdictMajorityFailure
		if agg.Successes*2 > agg.Total {
			agg.Verdict = VerdictMajoritySuccess
		}

	default:
		return Aggregate{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	return agg, nil
}
