package broadcast

import "errors"

var (
	// ErrUnknownMode is returned for an unsupported aggregation mode.
	ErrUnknownMode = errors.New("unknown aggregation mode")

	// ErrNoClusters is returned when a federated query has no cluster to ask.
	ErrNoClusters = errors.New("no remote clusters configured")
)
