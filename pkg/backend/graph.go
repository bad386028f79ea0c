package backend

import (
	"context"
	"sort"
	"sync"

	"kmesh/pkg/models"
)

// GraphAdapter stores documents as nodes joined by labelled, directed
// links and answers neighbourhood queries.
type GraphAdapter struct {
	kind models.BackendKind
	docs *documents

	mu    sync.RWMutex
	edges map[string]map[string][]Link
}

// NewGraphAdapter creates an empty graph adapter reporting kind.
func NewGraphAdapter(kind models.BackendKind) *GraphAdapter {
	return &GraphAdapter{
		kind:  kind,
		docs:  newDocuments(),
		edges: make(map[string]map[string][]Link),
	}
}

// Kind implements Adapter.
func (a *GraphAdapter) Kind() models.BackendKind {
	return a.kind
}

// Execute implements Adapter.
func (a *GraphAdapter) Execute(ctx context.Context, op Op, payload models.Payload) (any, error) {
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
		a.unlinkAll(req.Collection, req.ID)
		return Deleted{Collection: req.Collection, ID: req.ID, Deleted: a.docs.delete(req.Collection, req.ID)}, nil

	case OpSearch:
		var req searchRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.docs.search(req.Collection, req.Text, req.limit()), nil

	case OpLink:
		var req linkRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.link(Link(req)), nil

	case OpRelated:
		var req relatedRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.related(ctx, req.Collection, req.ID, req.depth())

	default:
		return nil, unsupported(a.kind, op)
	}
}

func (a *GraphAdapter) link(link Link) Link {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.edges[link.Collection] == nil {
		a.edges[link.Collection] = make(map[string][]Link)
	}
	for _, existing := range a.edges[link.Collection][link.From] {
		if existing == link {
			return link
		}
	}
	a.edges[link.Collection][link.From] = append(a.edges[link.Collection][link.From], link)
	return link
}

// unlinkAll drops every edge touching id.
func (a *GraphAdapter) unlinkAll(collection, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	edges := a.edges[collection]
	delete(edges, id)
	for from, links := range edges {
		kept := links[:0]
		for _, link := range links {
			if link.To != id {
				kept = append(kept, link)
			}
		}
		edges[from] = kept
	}
}

func (a *GraphAdapter) neighbors(collection string) neighborsFunc {
	return func(_ context.Context, id string) ([]string, error) {
		a.mu.RLock()
		defer a.mu.RUnlock()

		ids := make([]string, 0, len(a.edges[collection][id]))
		for _, link := range a.edges[collection][id] {
			ids = append(ids, link.To)
		}
		sort.Strings(ids)
		return ids, nil
	}
}

func (a *GraphAdapter) related(ctx context.Context, collection, id string, depth int) ([]Record, error) {
	if _, err := a.docs.get(collection, id); err != nil {
		return nil, err
	}

	hops, err := traverse(ctx, id, depth, a.neighbors(collection))
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(hops))
	for _, h := range hops {
		record, err := a.docs.get(collection, h.id)
		if err != nil {
			record = Record{Collection: collection, ID: h.id}
		}
		record.Depth = h.depth
		records = append(records, record)
	}
	return records, nil
}

// Close implements Adapter.
func (a *GraphAdapter) Close() error {
	return nil
}
