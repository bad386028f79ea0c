package balancer

import "errors"

var (
	// ErrNoHealthyPeers is returned when every candidate peer has a link score of 0.
	ErrNoHealthyPeers = errors.New("no healthy peers")

	// ErrUnknownStrategy is returned when parsing an unsupported strategy name.
	ErrUnknownStrategy = errors.New("unknown balancing strategy")
)
