package router

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"kmesh/pkg/log"
	"kmesh/pkg/metrics"
	"kmesh/pkg/models"
)

// Executor runs one query type against one backend kind.
// *QueryRouter implements it.
type Executor interface {
	Route(ctx context.Context, kind models.BackendKind, queryType models.QueryType, payload models.Payload) (any, error)
}

// FailoverRouter tries the backends configured for a query type in order
// until one succeeds. The order comes from configuration only; live health
// never reorders it.
type FailoverRouter struct {
	descriptors []models.BackendDescriptor
	executor    Executor
	metrics     *metrics.Registry
	logger      zerolog.Logger
}

// NewFailoverRouter creates a router over descriptors. metrics may be nil.
func NewFailoverRouter(descriptors []models.BackendDescriptor, executor Executor, reg *metrics.Registry) *FailoverRouter {
	return &FailoverRouter{
		descriptors: append([]models.BackendDescriptor(nil), descriptors...),
		executor:    executor,
		metrics:     reg,
		logger:      log.Component("failover"),
	}
}

// Candidates returns the backend kinds to try for queryType, primary first.
// An exact descriptor wins over prefix descriptors; among prefixes the
// longest match wins.
func (r *FailoverRouter) Candidates(queryType models.QueryType) ([]models.BackendKind, error) {
	var best *models.BackendDescriptor

	for i := range r.descriptors {
		d := &r.descriptors[i]
		if d.Match != models.MatchPrefix && d.QueryType == queryType {
			return d.Candidates(), nil
		}
		if d.Match == models.MatchPrefix && d.Matches(queryType) {
			if best == nil || len(d.QueryType) > len(best.QueryType) {
				best = d
			}
		}
	}

	if best == nil {
		return nil, &UnsupportedQueryTypeError{QueryType: queryType}
	}
	return best.Candidates(), nil
}

// Execute runs queryType on each candidate backend in order and returns the
// first success. When every candidate fails it returns an
// *AllBackendsFailedError carrying the last failure.
func (r *FailoverRouter) Execute(ctx context.Context, queryType models.QueryType, payload models.Payload) (any, error) {
	candidates, err := r.Candidates(queryType)
	if err != nil {
		return nil, err
	}

	var (
		lastErr   error
		attempted []models.BackendKind
	)
	for i, kind := range candidates {
		attempted = append(attempted, kind)

		result, err := r.executor.Route(ctx, kind, queryType, payload)
		if err == nil {
			r.count(queryType, kind, "success")
			if i > 0 {
				r.logger.Info().
					Str("query_type", string(queryType)).
					Str("backend", string(kind)).
					Int("attempt", i+1).
					Msg("Served by fallback backend")
			}
			return result, nil
		}

		if errors.Is(err, ErrUnsupportedQueryType) {
			return nil, err
		}

		lastErr = err
		r.count(queryType, kind, "failure")
		r.logger.Warn().
			Str("query_type", string(queryType)).
			Str("backend", string(kind)).
			Int("attempt", i+1).
			Int("candidates", len(candidates)).
			Err(err).
			Msg("Backend attempt failed")

		if ctx.Err() != nil {
			break
		}
	}

	if r.metrics != nil {
		r.metrics.FailoverExhaustedTotal.WithLabelValues(string(queryType)).Inc()
	}
	r.logger.Error().
		Str("query_type", string(queryType)).
		Int("attempted", len(attempted)).
		Err(lastErr).
		Msg("All backends failed")

	return nil, &AllBackendsFailedError{QueryType: queryType, Attempted: attempted, LastError: lastErr}
}

func (r *FailoverRouter) count(queryType models.QueryType, kind models.BackendKind, result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.FailoverAttemptsTotal.WithLabelValues(string(queryType), string(kind), result).Inc()
}
