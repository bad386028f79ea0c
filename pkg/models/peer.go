package models

import "time"

// PeerID names a reachable mesh node or service endpoint. It is opaque to the
// mesh layer: for HTTP it is a base URL, for the packet mesh an NNG address
// and for the radio mesh a station callsign.
type PeerID string

// String implements fmt.Stringer.
func (p PeerID) String() string {
	return string(p)
}

// PeerStatus is the liveness verdict of the latest health probe.
type PeerStatus string

const (
	PeerOnline  PeerStatus = "online"
	PeerOffline PeerStatus = "offline"
)

// HealthRecord is the result of the most recent probe of one peer. A new
// probe overwrites the previous record; history is not kept.
type HealthRecord struct {
	Peer          PeerID     `json:"peer"`
	Status        PeerStatus `json:"status"`
	LatencyMs     *int64     `json:"latency_ms,omitempty"`
	LastCheckedAt time.Time  `json:"last_checked_at"`
	LastError     string     `json:"last_error,omitempty"`
}

// Online reports whether the record marks the peer reachable.
func (r HealthRecord) Online() bool {
	return r.Status == PeerOnline
}

// PeerStatusView is a health record joined with its derived link score.
type PeerStatusView struct {
	HealthRecord
	LinkScore int `json:"link_score"`
}
