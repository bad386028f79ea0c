package backend

import (
	"context"

	"kmesh/pkg/models"
)

// MemoryAdapter keeps documents in process memory. It serves get, put,
// delete and text search; contents are lost on restart.
type MemoryAdapter struct {
	kind models.BackendKind
	docs *documents
}

// NewMemoryAdapter creates an empty in-memory adapter reporting kind.
func NewMemoryAdapter(kind models.BackendKind) *MemoryAdapter {
	return &MemoryAdapter{kind: kind, docs: newDocuments()}
}

// Kind implements Adapter.
func (a *MemoryAdapter) Kind() models.BackendKind {
	return a.kind
}

// Execute implements Adapter.
func (a *MemoryAdapter) Execute(ctx context.Context, op Op, payload models.Payload) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch op {
	case OpGet:
		var req keyRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.docs.get(req.Collection, req.ID)

	case OpPut:
		var req putRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.docs.put(req.Collection, req.ID, req.Document), nil

	case OpDelete:
		var req keyRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return Deleted{Collection: req.Collection, ID: req.ID, Deleted: a.docs.delete(req.Collection, req.ID)}, nil

	case OpSearch:
		var req searchRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.docs.search(req.Collection, req.Text, req.limit()), nil

	default:
		return nil, unsupported(a.kind, op)
	}
}

// Len returns the number of stored records.
func (a *MemoryAdapter) Len() int {
	return a.docs.size()
}

// Close implements Adapter.
func (a *MemoryAdapter) Close() error {
	return nil
}
