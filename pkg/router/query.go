// Package router turns logical query types into adapter operations and walks
// the configured backend failover order.
package router

import (
	"context"
	"fmt"

	"kmesh/pkg/backend"
	"kmesh/pkg/models"
)

// Logical query types understood by the mesh.
const (
	KnowledgeGet     models.QueryType = "knowledge.get"
	KnowledgePut     models.QueryType = "knowledge.put"
	KnowledgeDelete  models.QueryType = "knowledge.delete"
	KnowledgeSearch  models.QueryType = "knowledge.search"
	KnowledgeRelated models.QueryType = "knowledge.related"
	KnowledgeLink    models.QueryType = "knowledge.link"
	SessionGet       models.QueryType = "session.get"
	SessionSet       models.QueryType = "session.set"
)

const (
	defaultCollection = "knowledge"
	sessionCollection = "sessions"
)

// translateFunc reshapes a logical payload for one backend kind.
type translateFunc func(kind models.BackendKind, in models.Payload) models.Payload

type route struct {
	op        backend.Op
	translate translateFunc
}

var routes = map[models.QueryType]route{
	KnowledgeGet:     {backend.OpGet, keyPayload},
	KnowledgePut:     {backend.OpPut, putPayload},
	KnowledgeDelete:  {backend.OpDelete, keyPayload},
	KnowledgeSearch:  {backend.OpSearch, searchPayload},
	KnowledgeRelated: {backend.OpRelated, relatedPayload},
	KnowledgeLink:    {backend.OpLink, linkPayload},
	SessionGet:       {backend.OpGet, sessionGetPayload},
	SessionSet:       {backend.OpPut, sessionSetPayload},
}

// QueryTypes returns every query type Route accepts.
func QueryTypes() []models.QueryType {
	return []models.QueryType{
		KnowledgeGet, KnowledgePut, KnowledgeDelete, KnowledgeSearch,
		KnowledgeRelated, KnowledgeLink, SessionGet, SessionSet,
	}
}

// Supported reports whether qt is a known query type.
func Supported(qt models.QueryType) bool {
	_, ok := routes[qt]
	return ok
}

// AdapterLookup resolves the adapter of a backend kind.
// *backend.Registry implements it.
type AdapterLookup interface {
	Lookup(kind models.BackendKind) (backend.Adapter, bool)
}

// QueryRouter dispatches a query type to one backend. It holds no mutable
// state and is safe for concurrent use.
type QueryRouter struct {
	adapters AdapterLookup
}

// NewQueryRouter creates a router over adapters.
func NewQueryRouter(adapters AdapterLookup) *QueryRouter {
	return &QueryRouter{adapters: adapters}
}

// Route runs the adapter operation of queryType against the backend of kind
// and returns the adapter's result.
func (r *QueryRouter) Route(ctx context.Context, kind models.BackendKind, queryType models.QueryType, payload models.Payload) (any, error) {
	rt, ok := routes[queryType]
	if !ok {
		return nil, &UnsupportedQueryTypeError{QueryType: queryType}
	}

	adapter, ok := r.adapters.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotConfigured, kind)
	}

	return adapter.Execute(ctx, rt.op, rt.translate(kind, payload))
}

// pick copies the listed keys that are present in in.
func pick(in models.Payload, keys ...string) models.Payload {
	out := make(models.Payload, len(keys))
	for _, key := range keys {
		if value, ok := in[key]; ok && value != nil {
			out[key] = value
		}
	}
	return out
}

// first returns the value of the first present key.
func first(in models.Payload, keys ...string) (any, bool) {
	for _, key := range keys {
		if value, ok := in[key]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

func withCollection(out models.Payload, in models.Payload, fallback string) models.Payload {
	if collection, ok := first(in, "collection"); ok {
		out["collection"] = collection
	} else {
		out["collection"] = fallback
	}
	return out
}

func keyPayload(_ models.BackendKind, in models.Payload) models.Payload {
	return withCollection(pick(in, "id"), in, defaultCollection)
}

func putPayload(_ models.BackendKind, in models.Payload) models.Payload {
	return withCollection(pick(in, "id", "document", "vector"), in, defaultCollection)
}

func searchPayload(kind models.BackendKind, in models.Payload) models.Payload {
	out := withCollection(pick(in, "limit"), in, defaultCollection)
	if kind == models.BackendVector {
		if vector, ok := first(in, "vector", "embedding"); ok {
			out["vector"] = vector
		}
		return out
	}
	if text, ok := first(in, "text", "query"); ok {
		out["text"] = text
	}
	return out
}

func relatedPayload(_ models.BackendKind, in models.Payload) models.Payload {
	out := withCollection(pick(in, "id", "depth"), in, defaultCollection)
	if _, ok := out["depth"]; !ok {
		out["depth"] = 1
	}
	return out
}

func linkPayload(_ models.BackendKind, in models.Payload) models.Payload {
	return withCollection(pick(in, "from", "to", "relation"), in, defaultCollection)
}

func sessionGetPayload(_ models.BackendKind, in models.Payload) models.Payload {
	out := models.Payload{"collection": sessionCollection}
	if id, ok := first(in, "session_id", "id"); ok {
		out["id"] = id
	}
	return out
}

func sessionSetPayload(_ models.BackendKind, in models.Payload) models.Payload {
	out := sessionGetPayload(models.BackendCache, in)
	if document, ok := first(in, "data", "document"); ok {
		out["document"] = document
	}
	return out
}
