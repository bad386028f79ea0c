package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"kmesh/pkg/balancer"
	"kmesh/pkg/broadcast"
	"kmesh/pkg/models"
)

// QueryCall is the body of the operator query endpoints.
type QueryCall struct {
	QueryType models.QueryType `json:"query_type" validate:"required"`
	Payload   models.Payload   `json:"payload"`
	// Strategy is read by /api/route only.
	Strategy string `json:"strategy,omitempty"`
	// Mode is read by /api/broadcast and /api/federated only.
	Mode string `json:"mode,omitempty"`
}

// BroadcastReply is returned by /api/broadcast and /api/federated.
type BroadcastReply struct {
	Aggregate broadcast.Aggregate      `json:"aggregate"`
	Results   []models.BroadcastResult `json:"results"`
}

// VoteCall is the body of /api/consensus.
type VoteCall struct {
	Topic string `json:"topic" validate:"required"`
	Value any    `json:"value"`
}

// meshHandler serves one internal mesh path through the dispatcher.
func (s *Server) meshHandler(apiPath string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return fail(c, fmt.Errorf("%w: %w", ErrBadRequest, err))
		}

		result, err := s.opts.Dispatcher.Serve(c.Request().Context(), apiPath, body)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}
}

func (s *Server) bindQuery(c echo.Context) (QueryCall, error) {
	var call QueryCall
	if err := c.Bind(&call); err != nil {
		return call, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if err := c.Validate(&call); err != nil {
		return call, err
	}
	return call, nil
}

// localQuery runs a query against this node's backends with failover.
func (s *Server) localQuery(c echo.Context) error {
	if s.opts.Queries == nil {
		return fail(c, fmt.Errorf("%w: query router", ErrNotConfigured))
	}
	call, err := s.bindQuery(c)
	if err != nil {
		return fail(c, err)
	}

	result, err := s.opts.Queries.Execute(c.Request().Context(), call.QueryType, call.Payload)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, models.QueryResponse{Result: result})
}

// routeQuery forwards a query to one healthy peer picked by the balancer.
// The peer's reply is returned as-is.
func (s *Server) routeQuery(c echo.Context) error {
	if s.opts.Balancer == nil {
		return fail(c, fmt.Errorf("%w: load balancer", ErrNotConfigured))
	}
	call, err := s.bindQuery(c)
	if err != nil {
		return fail(c, err)
	}

	strategy := s.opts.Strategy
	if call.Strategy != "" {
		if strategy, err = balancer.ParseStrategy(call.Strategy); err != nil {
			return fail(c, err)
		}
	}

	request := models.QueryRequest{QueryType: call.QueryType, Payload: call.Payload}
	raw, err := s.opts.Balancer.RouteQuery(c.Request().Context(), models.PathQuery, request, strategy)
	if err != nil {
		return fail(c, err)
	}
	return c.JSONBlob(http.StatusOK, raw)
}

func (s *Server) mode(call QueryCall) (broadcast.Mode, error) {
	if call.Mode == "" {
		return s.opts.Mode, nil
	}
	return broadcast.ParseMode(call.Mode)
}

// broadcastQuery sends a query to every online peer of the roster and
// aggregates the answers.
func (s *Server) broadcastQuery(c echo.Context) error {
	if s.opts.Broadcaster == nil || s.opts.Monitor == nil {
		return fail(c, fmt.Errorf("%w: broadcaster", ErrNotConfigured))
	}
	call, err := s.bindQuery(c)
	if err != nil {
		return fail(c, err)
	}
	mode, err := s.mode(call)
	if err != nil {
		return fail(c, err)
	}

	var targets []models.PeerID
	for _, peer := range s.opts.Monitor.Roster() {
		if s.opts.Monitor.LinkScore(peer) > 0 {
			targets = append(targets, peer)
		}
	}
	if len(targets) == 0 {
		return fail(c, balancer.ErrNoHealthyPeers)
	}

	request := models.QueryRequest{QueryType: call.QueryType, Payload: call.Payload}
	results := s.opts.Broadcaster.Broadcast(c.Request().Context(), models.PathQuery, request, targets)
	agg, err := s.opts.Broadcaster.Aggregate(results, mode)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, BroadcastReply{Aggregate: agg, Results: results})
}

// federatedQuery asks every configured remote cluster.
func (s *Server) federatedQuery(c echo.Context) error {
	if s.opts.Federated == nil {
		return fail(c, fmt.Errorf("%w: federated query executor", ErrNotConfigured))
	}
	call, err := s.bindQuery(c)
	if err != nil {
		return fail(c, err)
	}
	mode, err := s.mode(call)
	if err != nil {
		return fail(c, err)
	}

	agg, results, err := s.opts.Federated.Query(c.Request().Context(), call.QueryType, call.Payload, mode)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, BroadcastReply{Aggregate: agg, Results: results})
}

// cacheSet stores the JSON body under :key and propagates it to peers.
func (s *Server) cacheSet(c echo.Context) error {
	if s.opts.Cache == nil {
		return fail(c, fmt.Errorf("%w: cache", ErrNotConfigured))
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, fmt.Errorf("%w: %w", ErrBadRequest, err))
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return fail(c, fmt.Errorf("%w: body must be JSON: %w", ErrBadRequest, err))
	}

	key := c.Param("key")
	s.opts.Cache.Set(c.Request().Context(), key, value)
	return c.JSON(http.StatusOK, map[string]any{"key": key, "value": value})
}

// cacheGet reads :key locally, falling back to peers.
func (s *Server) cacheGet(c echo.Context) error {
	if s.opts.Cache == nil {
		return fail(c, fmt.Errorf("%w: cache", ErrNotConfigured))
	}

	key := c.Param("key")
	value, found := s.opts.Cache.Get(c.Request().Context(), key)
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "cache miss", "key": key})
	}
	return c.JSON(http.StatusOK, map[string]any{"key": key, "value": value})
}

// vote runs one consensus round over the roster.
func (s *Server) vote(c echo.Context) error {
	if s.opts.Consensus == nil {
		return fail(c, fmt.Errorf("%w: consensus", ErrNotConfigured))
	}

	var call VoteCall
	if err := c.Bind(&call); err != nil {
		return fail(c, fmt.Errorf("%w: %w", ErrBadRequest, err))
	}
	if err := c.Validate(&call); err != nil {
		return fail(c, err)
	}

	result := s.opts.Consensus.Vote(c.Request().Context(), call.Topic, call.Value)
	return c.JSON(http.StatusOK, result)
}

// peerStatus lists the latest health record and link score of every peer.
func (s *Server) peerStatus(c echo.Context) error {
	if s.opts.Monitor == nil {
		return c.JSON(http.StatusOK, []models.PeerStatusView{})
	}
	return c.JSON(http.StatusOK, s.opts.Monitor.Snapshot())
}
