package backend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"kmesh/pkg/models"
)

// VectorAdapter stores documents with an embedding and answers nearest
// neighbour searches by cosine similarity. Searching is a linear scan.
type VectorAdapter struct {
	kind models.BackendKind
	docs *documents

	mu         sync.RWMutex
	dimensions int
	vectors    map[string]map[string][]float32
}

// NewVectorAdapter creates an empty vector adapter reporting kind.
func NewVectorAdapter(kind models.BackendKind) *VectorAdapter {
	return &VectorAdapter{
		kind:    kind,
		docs:    newDocuments(),
		vectors: make(map[string]map[string][]float32),
	}
}

// Kind implements Adapter.
func (a *VectorAdapter) Kind() models.BackendKind {
	return a.kind
}

// Execute implements Adapter.
func (a *VectorAdapter) Execute(ctx context.Context, op Op, payload models.Payload) (any, error) {
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
		if len(req.Vector) == 0 {
			return nil, fmt.Errorf("%w: put: vector is required", ErrInvalidPayload)
		}
		if err := a.storeVector(req.Collection, req.ID, req.Vector); err != nil {
			return nil, err
		}
		return a.docs.put(req.Collection, req.ID, req.Document), nil

	case OpDelete:
		var req keyRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		a.mu.Lock()
		delete(a.vectors[req.Collection], req.ID)
		a.mu.Unlock()
		return Deleted{Collection: req.Collection, ID: req.ID, Deleted: a.docs.delete(req.Collection, req.ID)}, nil

	case OpSearch:
		var req searchRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		if len(req.Vector) == 0 {
			return nil, fmt.Errorf("%w: search: vector is required", ErrInvalidPayload)
		}
		return a.nearest(req.Collection, req.Vector, req.limit())

	default:
		return nil, unsupported(a.kind, op)
	}
}

func (a *VectorAdapter) storeVector(collection, id string, vector []float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dimensions == 0 {
		a.dimensions = len(vector)
	}
	if len(vector) != a.dimensions {
		return fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(vector), a.dimensions)
	}

	if a.vectors[collection] == nil {
		a.vectors[collection] = make(map[string][]float32)
	}
	a.vectors[collection][id] = append([]float32(nil), vector...)
	return nil
}

func (a *VectorAdapter) nearest(collection string, query []float32, limit int) ([]Record, error) {
	type scored struct {
		id    string
		score float64
	}

	a.mu.RLock()
	candidates := make([]scored, 0, len(a.vectors[collection]))
	for id, vector := range a.vectors[collection] {
		similarity, err := CosineSimilarity(query, vector)
		if err != nil {
			a.mu.RUnlock()
			return nil, err
		}
		candidates = append(candidates, scored{id: id, score: similarity})
	}
	a.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]Record, 0, len(candidates))
	for _, c := range candidates {
		record, err := a.docs.get(collection, c.id)
		if err != nil {
			continue
		}
		score := c.score
		record.Score = &score
		results = append(results, record)
	}
	return results, nil
}

// Close implements Adapter.
func (a *VectorAdapter) Close() error {
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. Zero vectors have similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
