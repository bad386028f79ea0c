package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmesh/pkg/backend"
	"kmesh/pkg/models"
)

func newRegistry() *backend.Registry {
	return backend.NewRegistry(
		backend.NewMemoryAdapter(models.BackendDocument),
		backend.NewMemoryAdapter(models.BackendCache),
		backend.NewVectorAdapter(models.BackendVector),
		backend.NewGraphAdapter(models.BackendGraph),
	)
}

func TestRouteSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	router := NewQueryRouter(newRegistry())

	_, err := router.Route(ctx, models.BackendCache, SessionSet, models.Payload{
		"session_id": "s-1",
		"data":       map[string]any{"user": "ana"},
	})
	require.NoError(t, err)

	result, err := router.Route(ctx, models.BackendCache, SessionGet, models.Payload{"session_id": "s-1"})
	require.NoError(t, err)

	record := result.(backend.Record)
	assert.Equal(t, "sessions", record.Collection)
	assert.Equal(t, "ana", record.Document["user"])
}

func TestRouteKnowledgeDefaultsCollection(t *testing.T) {
	ctx := context.Background()
	router := NewQueryRouter(newRegistry())

	_, err := router.Route(ctx, models.BackendDocument, KnowledgePut, models.Payload{
		"id":       "k1",
		"document": map[string]any{"title": "Failover"},
	})
	require.NoError(t, err)

	result, err := router.Route(ctx, models.BackendDocument, KnowledgeSearch, models.Payload{"query": "failover"})
	require.NoError(t, err)

	records := result.([]backend.Record)
	require.Len(t, records, 1)
	assert.Equal(t, "knowledge", records[0].Collection)
}

func TestRouteSearchTranslatesPerKind(t *testing.T) {
	ctx := context.Background()
	router := NewQueryRouter(newRegistry())

	_, err := router.Route(ctx, models.BackendVector, KnowledgePut, models.Payload{
		"collection": "emb", "id": "v1", "document": map[string]any{"t": "x"}, "vector": []float32{1, 0},
	})
	require.NoError(t, err)

	result, err := router.Route(ctx, models.BackendVector, KnowledgeSearch, models.Payload{
		"collection": "emb", "embedding": []float32{1, 0}, "text": "ignored", "limit": 1,
	})
	require.NoError(t, err)
	assert.Len(t, result.([]backend.Record), 1)

	// A text-only search cannot run on the vector backend.
	_, err = router.Route(ctx, models.BackendVector, KnowledgeSearch, models.Payload{"collection": "emb", "text": "x"})
	assert.ErrorIs(t, err, backend.ErrInvalidPayload)
}

func TestRouteRelatedDefaultsDepth(t *testing.T) {
	assert.Equal(t, 1, relatedPayload(models.BackendGraph, models.Payload{"id": "a"})["depth"])
	assert.Equal(t, 3, relatedPayload(models.BackendGraph, models.Payload{"id": "a", "depth": 3})["depth"])
}

func TestRouteLinkAndRelated(t *testing.T) {
	ctx := context.Background()
	router := NewQueryRouter(newRegistry())

	for _, id := range []string{"a", "b"} {
		_, err := router.Route(ctx, models.BackendGraph, KnowledgePut, models.Payload{
			"id": id, "document": map[string]any{"n": id},
		})
		require.NoError(t, err)
	}
	_, err := router.Route(ctx, models.BackendGraph, KnowledgeLink, models.Payload{"from": "a", "to": "b", "relation": "cites"})
	require.NoError(t, err)

	result, err := router.Route(ctx, models.BackendGraph, KnowledgeRelated, models.Payload{"id": "a"})
	require.NoError(t, err)
	assert.Len(t, result.([]backend.Record), 1)
}

func TestRouteUnknownQueryType(t *testing.T) {
	router := NewQueryRouter(newRegistry())

	_, err := router.Route(context.Background(), models.BackendDocument, "knowledge.teleport", models.Payload{})

	var unsupported *UnsupportedQueryTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, models.QueryType("knowledge.teleport"), unsupported.QueryType)
	assert.ErrorIs(t, err, ErrUnsupportedQueryType)
}

func TestRouteUnconfiguredKind(t *testing.T) {
	router := NewQueryRouter(backend.NewRegistry())

	_, err := router.Route(context.Background(), models.BackendRelational, KnowledgeGet, models.Payload{"id": "x"})

	assert.ErrorIs(t, err, ErrBackendNotConfigured)
}

func TestRouteUnsupportedOperationIsFailure(t *testing.T) {
	router := NewQueryRouter(newRegistry())

	_, err := router.Route(context.Background(), models.BackendCache, KnowledgeLink, models.Payload{"from": "a", "to": "b"})

	assert.ErrorIs(t, err, backend.ErrUnsupportedOperation)
	assert.NotErrorIs(t, err, ErrUnsupportedQueryType)
}

func TestEveryQueryTypeIsRouted(t *testing.T) {
	for _, qt := range QueryTypes() {
		assert.True(t, Supported(qt), qt)
	}
	assert.Len(t, routes, len(QueryTypes()))
	assert.False(t, Supported("session.drop"))
}

func TestRouteConcurrentUse(t *testing.T) {
	ctx := context.Background()
	router := NewQueryRouter(newRegistry())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			_, err := router.Route(ctx, models.BackendCache, SessionSet, models.Payload{"id": id, "document": map[string]any{"n": n}})
			assert.NoError(t, err)
			_, err = router.Route(ctx, models.BackendCache, SessionGet, models.Payload{"id": id})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}
