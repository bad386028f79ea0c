package backend

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmesh/pkg/models"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}

	_, err := CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestVectorAdapterNearest(t *testing.T) {
	ctx := context.Background()
	adapter := NewVectorAdapter(models.BackendVector)

	vectors := map[string][]float32{
		"north": {0, 1},
		"east":  {1, 0},
		"ne":    {1, 1},
	}
	for id, vector := range vectors {
		_, err := adapter.Execute(ctx, OpPut, models.Payload{
			"collection": "emb",
			"id":         id,
			"document":   map[string]any{"label": id},
			"vector":     vector,
		})
		require.NoError(t, err)
	}

	result, err := adapter.Execute(ctx, OpSearch, models.Payload{
		"collection": "emb",
		"vector":     []float32{0.9, 1},
		"limit":      2,
	})
	require.NoError(t, err)

	records := result.([]Record)
	require.Len(t, records, 2)
	assert.Equal(t, "ne", records[0].ID)
	assert.Equal(t, "north", records[1].ID)
	require.NotNil(t, records[0].Score)
	assert.Greater(t, *records[0].Score, *records[1].Score)
	assert.LessOrEqual(t, *records[0].Score, 1.0+1e-9)
	assert.False(t, math.IsNaN(*records[1].Score))
}

func TestVectorAdapterValidation(t *testing.T) {
	ctx := context.Background()
	adapter := NewVectorAdapter(models.BackendVector)

	_, err := adapter.Execute(ctx, OpPut, models.Payload{
		"collection": "emb", "id": "x", "document": map[string]any{},
	})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = adapter.Execute(ctx, OpPut, models.Payload{
		"collection": "emb", "id": "x", "document": map[string]any{}, "vector": []float32{1, 2},
	})
	require.NoError(t, err)

	_, err = adapter.Execute(ctx, OpPut, models.Payload{
		"collection": "emb", "id": "y", "document": map[string]any{}, "vector": []float32{1, 2, 3},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = adapter.Execute(ctx, OpSearch, models.Payload{"collection": "emb", "text": "x"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = adapter.Execute(ctx, OpDelete, models.Payload{"collection": "emb", "id": "x"})
	require.NoError(t, err)
	result, err := adapter.Execute(ctx, OpSearch, models.Payload{"collection": "emb", "vector": []float32{1, 2}})
	require.NoError(t, err)
	assert.Empty(t, result.([]Record))
}
