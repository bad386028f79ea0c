package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmesh/pkg/models"
)

// documentAdapters returns every adapter that stores plain documents.
func documentAdapters(t *testing.T) map[string]Adapter {
	t.Helper()

	sqlite, err := NewSQLiteAdapter(context.Background(), models.BackendRelational, filepath.Join(t.TempDir(), "kmesh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Adapter{
		"memory": NewMemoryAdapter(models.BackendCache),
		"graph":  NewGraphAdapter(models.BackendGraph),
		"sqlite": sqlite,
		"s3":     newS3Adapter(models.BackendDocument, newFakeObjectStore(), "knowledge", "mesh"),
	}
}

func TestAdaptersDocumentLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, adapter := range documentAdapters(t) {
		t.Run(name, func(t *testing.T) {
			put, err := adapter.Execute(ctx, OpPut, models.Payload{
				"collection": "notes",
				"id":         "n1",
				"document":   map[string]any{"title": "Mesh Routing", "tags": []any{"net"}},
			})
			require.NoError(t, err)
			assert.Equal(t, "n1", put.(Record).ID)

			got, err := adapter.Execute(ctx, OpGet, models.Payload{"collection": "notes", "id": "n1"})
			require.NoError(t, err)
			record := got.(Record)
			assert.Equal(t, "Mesh Routing", record.Document["title"])
			assert.Equal(t, "notes", record.Collection)

			_, err = adapter.Execute(ctx, OpPut, models.Payload{
				"collection": "notes",
				"id":         "n1",
				"document":   map[string]any{"title": "Mesh Routing v2"},
			})
			require.NoError(t, err)
			got, err = adapter.Execute(ctx, OpGet, models.Payload{"collection": "notes", "id": "n1"})
			require.NoError(t, err)
			assert.Equal(t, "Mesh Routing v2", got.(Record).Document["title"])

			deleted, err := adapter.Execute(ctx, OpDelete, models.Payload{"collection": "notes", "id": "n1"})
			require.NoError(t, err)
			assert.True(t, deleted.(Deleted).Deleted)

			_, err = adapter.Execute(ctx, OpGet, models.Payload{"collection": "notes", "id": "n1"})
			assert.ErrorIs(t, err, ErrNotFound)

			deleted, err = adapter.Execute(ctx, OpDelete, models.Payload{"collection": "notes", "id": "n1"})
			require.NoError(t, err)
			assert.False(t, deleted.(Deleted).Deleted)
		})
	}
}

func TestAdaptersTextSearch(t *testing.T) {
	ctx := context.Background()

	for name, adapter := range documentAdapters(t) {
		t.Run(name, func(t *testing.T) {
			for id, title := range map[string]string{"a": "Radio mesh", "b": "Packet mesh", "c": "Cooking"} {
				_, err := adapter.Execute(ctx, OpPut, models.Payload{
					"collection": "notes",
					"id":         id,
					"document":   map[string]any{"title": title},
				})
				require.NoError(t, err)
			}

			found, err := adapter.Execute(ctx, OpSearch, models.Payload{"collection": "notes", "text": "MESH", "limit": 10})
			require.NoError(t, err)
			records := found.([]Record)
			require.Len(t, records, 2)
			assert.Equal(t, "a", records[0].ID)
			assert.Equal(t, "b", records[1].ID)

			found, err = adapter.Execute(ctx, OpSearch, models.Payload{"collection": "notes", "limit": 1})
			require.NoError(t, err)
			assert.Len(t, found.([]Record), 1)

			found, err = adapter.Execute(ctx, OpSearch, models.Payload{"collection": "empty", "text": "x"})
			require.NoError(t, err)
			assert.Empty(t, found.([]Record))
		})
	}
}

func TestAdaptersRejectInvalidPayload(t *testing.T) {
	ctx := context.Background()

	for name, adapter := range documentAdapters(t) {
		t.Run(name, func(t *testing.T) {
			_, err := adapter.Execute(ctx, OpGet, models.Payload{"collection": "notes"})
			assert.ErrorIs(t, err, ErrInvalidPayload)

			_, err = adapter.Execute(ctx, OpPut, models.Payload{"collection": "notes", "id": "x"})
			assert.ErrorIs(t, err, ErrInvalidPayload)

			_, err = adapter.Execute(ctx, OpGet, models.Payload{"collection": 42, "id": "x"})
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestUnsupportedOperations(t *testing.T) {
	ctx := context.Background()
	payload := models.Payload{"collection": "notes", "from": "a", "to": "b", "id": "a"}

	tests := []struct {
		adapter Adapter
		op      Op
	}{
		{NewMemoryAdapter(models.BackendCache), OpLink},
		{NewMemoryAdapter(models.BackendCache), OpRelated},
		{NewVectorAdapter(models.BackendVector), OpLink},
		{newS3Adapter(models.BackendDocument, newFakeObjectStore(), "b", ""), OpRelated},
		{NewGraphAdapter(models.BackendGraph), Op("drop")},
	}

	for _, tt := range tests {
		_, err := tt.adapter.Execute(ctx, tt.op, payload)
		assert.ErrorIs(t, err, ErrUnsupportedOperation, "%s/%s", tt.adapter.Kind(), tt.op)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryAdapter(models.BackendCache).Execute(ctx, OpGet, models.Payload{"collection": "c", "id": "1"})
	assert.ErrorIs(t, err, context.Canceled)
}
