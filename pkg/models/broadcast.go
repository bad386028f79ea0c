package models

import "encoding/json"

// Outcome of a single broadcast target.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// BroadcastResult records what one target returned for one broadcast call.
type BroadcastResult struct {
	Target       PeerID          `json:"target"`
	Outcome      Outcome         `json:"outcome"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
}

// Succeeded reports whether the target answered successfully.
func (r BroadcastResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}
