package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmesh/pkg/models"
)

func linkedAdapters(t *testing.T) map[string]Adapter {
	t.Helper()

	sqlite, err := NewSQLiteAdapter(context.Background(), models.BackendRelational, filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Adapter{
		"graph":  NewGraphAdapter(models.BackendGraph),
		"sqlite": sqlite,
	}
}

func TestRelatedTraversal(t *testing.T) {
	ctx := context.Background()

	for name, adapter := range linkedAdapters(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"a", "b", "c", "d"} {
				_, err := adapter.Execute(ctx, OpPut, models.Payload{
					"collection": "kb", "id": id, "document": map[string]any{"name": id},
				})
				require.NoError(t, err)
			}
			// a -> b -> c -> d, plus a cycle c -> a.
			for _, edge := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}, {"c", "a"}} {
				_, err := adapter.Execute(ctx, OpLink, models.Payload{
					"collection": "kb", "from": edge[0], "to": edge[1], "relation": "cites",
				})
				require.NoError(t, err)
			}

			result, err := adapter.Execute(ctx, OpRelated, models.Payload{"collection": "kb", "id": "a"})
			require.NoError(t, err)
			records := result.([]Record)
			require.Len(t, records, 1)
			assert.Equal(t, "b", records[0].ID)
			assert.Equal(t, 1, records[0].Depth)

			result, err = adapter.Execute(ctx, OpRelated, models.Payload{"collection": "kb", "id": "a", "depth": 3})
			require.NoError(t, err)
			records = result.([]Record)
			require.Len(t, records, 3)
			assert.Equal(t, []string{"b", "c", "d"}, []string{records[0].ID, records[1].ID, records[2].ID})
			assert.Equal(t, 3, records[2].Depth)
			assert.Equal(t, "d", records[2].Document["name"])

			_, err = adapter.Execute(ctx, OpRelated, models.Payload{"collection": "kb", "id": "missing"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDeleteDropsLinks(t *testing.T) {
	ctx := context.Background()

	for name, adapter := range linkedAdapters(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"a", "b"} {
				_, err := adapter.Execute(ctx, OpPut, models.Payload{
					"collection": "kb", "id": id, "document": map[string]any{"name": id},
				})
				require.NoError(t, err)
			}
			_, err := adapter.Execute(ctx, OpLink, models.Payload{"collection": "kb", "from": "a", "to": "b"})
			require.NoError(t, err)

			_, err = adapter.Execute(ctx, OpDelete, models.Payload{"collection": "kb", "id": "b"})
			require.NoError(t, err)

			result, err := adapter.Execute(ctx, OpRelated, models.Payload{"collection": "kb", "id": "a"})
			require.NoError(t, err)
			assert.Empty(t, result.([]Record))
		})
	}
}

func TestLinkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	adapter := NewGraphAdapter(models.BackendGraph)

	payload := models.Payload{"collection": "kb", "from": "a", "to": "b", "relation": "cites"}
	for i := 0; i < 3; i++ {
		_, err := adapter.Execute(ctx, OpLink, payload)
		require.NoError(t, err)
	}

	assert.Len(t, adapter.edges["kb"]["a"], 1)
}
