package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"kmesh/pkg/cache"
	"kmesh/pkg/consensus"
	"kmesh/pkg/models"
	"kmesh/pkg/transport"
)

// QueryExecutor runs a logical query against the local backends.
// *router.FailoverRouter implements it.
type QueryExecutor interface {
	Execute(ctx context.Context, queryType models.QueryType, payload models.Payload) (any, error)
}

// Dispatcher serves the internal mesh API. The same dispatcher answers HTTP,
// packet mesh and radio requests, so every transport sees identical behavior.
type Dispatcher struct {
	node     models.PeerID
	cache    *cache.DistributedCache
	voter    consensus.Voter
	queries  QueryExecutor
	handlers map[string]transport.Handler
}

// NewDispatcher wires the mesh endpoints. A nil cache or query executor
// leaves the matching endpoints unregistered; a nil voter accepts every
// proposal.
func NewDispatcher(node models.PeerID, c *cache.DistributedCache, voter consensus.Voter, queries QueryExecutor) *Dispatcher {
	d := &Dispatcher{
		node:     node,
		cache:    c,
		voter:    voter,
		queries:  queries,
		handlers: make(map[string]transport.Handler),
	}

	d.handlers[models.PathHealth] = d.health
	d.handlers[models.PathConsensusVote] = d.vote
	if c != nil {
		d.handlers[models.PathCacheSet] = d.cacheSet
		d.handlers[models.PathCacheGet] = d.cacheGet
	}
	if queries != nil {
		d.handlers[models.PathQuery] = d.query
	}
	return d
}

// Serve implements transport.Handler.
func (d *Dispatcher) Serve(ctx context.Context, apiPath string, payload json.RawMessage) (any, error) {
	handler, ok := d.handlers[apiPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAPIPath, apiPath)
	}
	return handler(ctx, apiPath, payload)
}

// Paths returns the registered API paths, sorted.
func (d *Dispatcher) Paths() []string {
	paths := make([]string, 0, len(d.handlers))
	for path := range d.handlers {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (d *Dispatcher) health(context.Context, string, json.RawMessage) (any, error) {
	return models.HealthResponse{Node: d.node, Status: string(models.PeerOnline)}, nil
}

func (d *Dispatcher) cacheSet(_ context.Context, _ string, payload json.RawMessage) (any, error) {
	var request models.CacheSetRequest
	if err := decodeBody(payload, &request); err != nil {
		return nil, err
	}
	if request.Key == "" {
		return nil, fmt.Errorf("%w: key is required", ErrBadRequest)
	}

	d.cache.SetLocal(request.Key, request.Value)
	return map[string]string{"status": "ok"}, nil
}

func (d *Dispatcher) cacheGet(_ context.Context, _ string, payload json.RawMessage) (any, error) {
	var request models.CacheGetRequest
	if err := decodeBody(payload, &request); err != nil {
		return nil, err
	}

	value, found := d.cache.GetLocal(request.Key)
	return models.CacheGetResponse{Found: found, Value: value}, nil
}

func (d *Dispatcher) vote(ctx context.Context, _ string, payload json.RawMessage) (any, error) {
	var request models.VoteRequest
	if err := decodeBody(payload, &request); err != nil {
		return nil, err
	}
	return consensus.Answer(ctx, d.voter, request), nil
}

func (d *Dispatcher) query(ctx context.Context, _ string, payload json.RawMessage) (any, error) {
	var request models.QueryRequest
	if err := decodeBody(payload, &request); err != nil {
		return nil, err
	}
	if request.QueryType == "" {
		return nil, fmt.Errorf("%w: query_type is required", ErrBadRequest)
	}

	result, err := d.queries.Execute(ctx, request.QueryType, request.Payload)
	if err != nil {
		return nil, err
	}
	return models.QueryResponse{Result: result}, nil
}

func decodeBody(payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
