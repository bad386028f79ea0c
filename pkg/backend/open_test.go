package backend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kmesh/pkg/models"
)

// MockAdapter is a mock implementation of Adapter for testing
type MockAdapter struct {
	mock.Mock
	kind models.BackendKind
}

func (m *MockAdapter) Kind() models.BackendKind {
	return m.kind
}

func (m *MockAdapter) Execute(ctx context.Context, op Op, payload models.Payload) (any, error) {
	args := m.Called(ctx, op, payload)
	return args.Get(0), args.Error(1)
}

func (m *MockAdapter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestOpenSchemes(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "open.db")

	tests := []struct {
		dsn  string
		want any
	}{
		{"sqlite://" + dbPath, &SQLiteAdapter{}},
		{"memory://", &MemoryAdapter{}},
		{"vector://", &VectorAdapter{}},
		{"graph://", &GraphAdapter{}},
	}

	for _, tt := range tests {
		adapter, err := Open(ctx, models.BackendDocument, tt.dsn)
		require.NoError(t, err, tt.dsn)
		assert.IsType(t, tt.want, adapter)
		assert.Equal(t, models.BackendDocument, adapter.Kind())
		require.NoError(t, adapter.Close())
	}

	_, err := Open(ctx, models.BackendDocument, "mongodb://localhost")
	assert.ErrorIs(t, err, ErrUnknownScheme)
	_, err = Open(ctx, models.BackendDocument, "no-scheme")
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestChainFallsBackToAlternative(t *testing.T) {
	ctx := context.Background()
	payload := models.Payload{"collection": "c", "id": "1"}

	primary := &MockAdapter{kind: models.BackendRelational}
	primary.On("Execute", ctx, OpGet, payload).Return(nil, ErrDatabaseError)
	alternative := &MockAdapter{kind: models.BackendRelational}
	alternative.On("Execute", ctx, OpGet, payload).Return("from-alternative", nil)

	result, err := NewChain(models.BackendRelational, primary, alternative).Execute(ctx, OpGet, payload)

	require.NoError(t, err)
	assert.Equal(t, "from-alternative", result)
	primary.AssertExpectations(t)
	alternative.AssertExpectations(t)
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	ctx := context.Background()
	payload := models.Payload{"collection": "c", "id": "1"}

	primary := &MockAdapter{kind: models.BackendCache}
	primary.On("Execute", ctx, OpGet, payload).Return("primary", nil)
	alternative := &MockAdapter{kind: models.BackendCache}

	result, err := NewChain(models.BackendCache, primary, alternative).Execute(ctx, OpGet, payload)

	require.NoError(t, err)
	assert.Equal(t, "primary", result)
	alternative.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestChainReturnsLastError(t *testing.T) {
	ctx := context.Background()
	payload := models.Payload{}
	last := errors.New("alternative down")

	primary := &MockAdapter{kind: models.BackendCache}
	primary.On("Execute", ctx, OpPut, payload).Return(nil, errors.New("primary down"))
	alternative := &MockAdapter{kind: models.BackendCache}
	alternative.On("Execute", ctx, OpPut, payload).Return(nil, last)

	_, err := NewChain(models.BackendCache, primary, alternative).Execute(ctx, OpPut, payload)

	assert.ErrorIs(t, err, last)
}

func TestChainDoesNotRetryInvalidPayload(t *testing.T) {
	ctx := context.Background()
	alternative := &MockAdapter{kind: models.BackendCache}

	chain := NewChain(models.BackendCache, NewMemoryAdapter(models.BackendCache), alternative)
	_, err := chain.Execute(ctx, OpGet, models.Payload{})

	assert.ErrorIs(t, err, ErrInvalidPayload)
	alternative.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestOpenChainSkipsBrokenConnections(t *testing.T) {
	ctx := context.Background()

	chain, err := OpenChain(ctx, models.BackendCache, "bogus://x", []string{"memory://"})
	require.NoError(t, err)
	assert.Equal(t, 1, chain.Len())
	require.NoError(t, chain.Close())

	_, err = OpenChain(ctx, models.BackendCache, "bogus://x", []string{"nope://y"})
	assert.ErrorIs(t, err, ErrNoConnection)
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestRegistry(t *testing.T) {
	graph := NewGraphAdapter(models.BackendGraph)
	cache := NewMemoryAdapter(models.BackendCache)
	registry := NewRegistry(cache, graph)

	adapter, ok := registry.Lookup(models.BackendGraph)
	assert.True(t, ok)
	assert.Same(t, graph, adapter)

	_, ok = registry.Lookup(models.BackendVector)
	assert.False(t, ok)

	assert.Equal(t, []models.BackendKind{models.BackendGraph, models.BackendCache}, registry.Kinds())

	closing := &MockAdapter{kind: models.BackendVector}
	closing.On("Close").Return(errors.New("close failed"))
	registry.Register(closing)
	assert.Error(t, registry.Close())
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "postgres://kmesh:xxxxx@db:5432/kmesh", redact("postgres://kmesh:secret@db:5432/kmesh"))
	assert.NotContains(t, redact("s3://bucket/p?access_key=ak&secret_key=sk"), "secret_key=sk")
}
