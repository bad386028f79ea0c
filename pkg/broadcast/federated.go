package broadcast

import (
	"context"
	"fmt"

	"kmesh/pkg/models"
	"kmesh/pkg/transport"
)

// FederatedQueryExecutor runs one query on whole remote clusters. Cluster
// endpoints are reached over HTTP regardless of the node's mesh transport.
type FederatedQueryExecutor struct {
	channel     *transport.HTTPChannel
	broadcaster *Broadcaster
	clusters    []models.PeerID
}

// NewFederatedQueryExecutor creates an executor over the cluster base URLs.
func NewFederatedQueryExecutor(node models.PeerID, clusters []models.PeerID, opts Options) *FederatedQueryExecutor {
	channel := transport.NewHTTPChannel(transport.Options{
		Node:    node,
		Timeout: opts.Timeout,
		Metrics: opts.Metrics,
	})

	return &FederatedQueryExecutor{
		channel:     channel,
		broadcaster: NewBroadcaster(channel, opts),
		clusters:    append([]models.PeerID(nil), clusters...),
	}
}

// Clusters returns the configured cluster endpoints.
func (f *FederatedQueryExecutor) Clusters() []models.PeerID {
	return append([]models.PeerID(nil), f.clusters...)
}

// Query sends queryType to every cluster concurrently and aggregates the
// answers under mode.
func (f *FederatedQueryExecutor) Query(ctx context.Context, queryType models.QueryType, payload models.Payload, mode Mode) (Aggregate, []models.BroadcastResult, error) {
	if len(f.clusters) == 0 {
		return Aggregate{}, nil, ErrNoClusters
	}
	if !mode.Valid() {
		return Aggregate{}, nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	request := models.QueryRequest{QueryType: queryType, Payload: payload}
	results := f.broadcaster.Broadcast(ctx, models.PathQuery, request, f.clusters)

	agg, err := Combine(results, mode)
	return agg, results, err
}

// Close releases the HTTP channel.
func (f *FederatedQueryExecutor) Close() error {
	return f.channel.Close()
}
