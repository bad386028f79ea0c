package consensus

import (
	"context"

	"kmesh/pkg/models"
)

// Voter decides this node's answer to a proposal from a peer.
type Voter interface {
	Decide(ctx context.Context, topic string, value any) bool
}

// VoterFunc adapts a function to Voter.
type VoterFunc func(ctx context.Context, topic string, value any) bool

// Decide implements Voter.
func (f VoterFunc) Decide(ctx context.Context, topic string, value any) bool {
	return f(ctx, topic, value)
}

// AcceptAll votes yes on every proposal.
var AcceptAll Voter = VoterFunc(func(context.Context, string, any) bool { return true })

// Answer turns a vote request into the response served on the vote endpoint.
func Answer(ctx context.Context, voter Voter, request models.VoteRequest) models.VoteResponse {
	if voter == nil {
		voter = AcceptAll
	}
	if voter.Decide(ctx, request.Topic, request.Value) {
		return models.VoteResponse{Vote: models.VoteYes}
	}
	return models.VoteResponse{Vote: models.VoteNo}
}
