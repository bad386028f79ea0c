package models

import "strings"

// BackendKind is a category of data store with its own access protocol.
type BackendKind string

const (
	BackendDocument   BackendKind = "document"
	BackendGraph      BackendKind = "graph"
	BackendRelational BackendKind = "relational"
	BackendVector     BackendKind = "vector"
	BackendCache      BackendKind = "cache"
)

// BackendKinds lists every known backend kind.
var BackendKinds = []BackendKind{BackendDocument, BackendGraph, BackendRelational, BackendVector, BackendCache}

// Valid reports whether k is a known backend kind.
func (k BackendKind) Valid() bool {
	for _, known := range BackendKinds {
		if k == known {
			return true
		}
	}
	return false
}

// QueryType names a logical operation, e.g. "knowledge.search".
type QueryType string

// Payload is the JSON-shaped argument of a logical operation.
type Payload map[string]any

// MatchMode selects how a descriptor's QueryType is compared.
type MatchMode string

const (
	MatchExact  MatchMode = "exact"
	MatchPrefix MatchMode = "prefix"
)

// BackendDescriptor is static routing configuration for one query type (or
// query type prefix): the primary backend kind and the ordered fallbacks.
type BackendDescriptor struct {
	QueryType QueryType     `json:"query_type" yaml:"query_type"`
	Match     MatchMode     `json:"match" yaml:"match"`
	Primary   BackendKind   `json:"primary" yaml:"primary"`
	Fallbacks []BackendKind `json:"fallbacks" yaml:"fallbacks"`
}

// Matches reports whether the descriptor applies to qt.
func (d BackendDescriptor) Matches(qt QueryType) bool {
	if d.Match == MatchPrefix {
		return strings.HasPrefix(string(qt), string(d.QueryType))
	}
	return d.QueryType == qt
}

// Candidates returns primary followed by fallbacks.
func (d BackendDescriptor) Candidates() []BackendKind {
	out := make([]BackendKind, 0, 1+len(d.Fallbacks))
	out = append(out, d.Primary)
	return append(out, d.Fallbacks...)
}
