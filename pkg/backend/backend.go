// Package backend implements the storage adapters the query router targets:
// SQLite, PostgreSQL, S3 and in-memory document, vector, graph and cache stores.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"kmesh/pkg/models"
)

// Op is one adapter operation.
type Op string

const (
	OpGet     Op = "get"
	OpPut     Op = "put"
	OpDelete  Op = "delete"
	OpSearch  Op = "search"
	OpRelated Op = "related"
	OpLink    Op = "link"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 1000
	defaultDepth       = 1
	maxDepth           = 5
)

// Adapter executes operations against one storage backend.
//
// Any error is a failure of this backend; the failover router moves on to
// the next candidate.
type Adapter interface {
	Kind() models.BackendKind
	Execute(ctx context.Context, op Op, payload models.Payload) (any, error)
	Close() error
}

// Record is one stored document.
type Record struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Document   map[string]any `json:"document,omitempty"`
	Score      *float64       `json:"score,omitempty"`
	Depth      int            `json:"depth,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}

// Link is a directed, labelled edge between two records of a collection.
type Link struct {
	Collection string `json:"collection"`
	From       string `json:"from"`
	To         string `json:"to"`
	Relation   string `json:"relation"`
}

// Deleted is the result of a delete.
type Deleted struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Deleted    bool   `json:"deleted"`
}

type keyRequest struct {
	Collection string `json:"collection" validate:"required"`
	ID         string `json:"id" validate:"required"`
}

type putRequest struct {
	Collection string         `json:"collection" validate:"required"`
	ID         string         `json:"id" validate:"required"`
	Document   map[string]any `json:"document" validate:"required"`
	Vector     []float32      `json:"vector,omitempty"`
}

type searchRequest struct {
	Collection string    `json:"collection" validate:"required"`
	Text       string    `json:"text,omitempty"`
	Vector     []float32 `json:"vector,omitempty"`
	Limit      int       `json:"limit,omitempty" validate:"gte=0"`
}

type relatedRequest struct {
	Collection string `json:"collection" validate:"required"`
	ID         string `json:"id" validate:"required"`
	Depth      int    `json:"depth,omitempty" validate:"gte=0"`
}

type linkRequest struct {
	Collection string `json:"collection" validate:"required"`
	From       string `json:"from" validate:"required"`
	To         string `json:"to" validate:"required"`
	Relation   string `json:"relation,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeRequest converts a loose payload into a typed request and validates it.
func decodeRequest(op Op, payload models.Payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, op, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, op, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, op, err)
	}
	return nil
}

func (r *searchRequest) limit() int {
	switch {
	case r.Limit <= 0:
		return defaultSearchLimit
	case r.Limit > maxSearchLimit:
		return maxSearchLimit
	default:
		return r.Limit
	}
}

func (r *relatedRequest) depth() int {
	switch {
	case r.Depth <= 0:
		return defaultDepth
	case r.Depth > maxDepth:
		return maxDepth
	default:
		return r.Depth
	}
}

func unsupported(kind models.BackendKind, op Op) error {
	return fmt.Errorf("%w: %s on %s backend", ErrUnsupportedOperation, op, kind)
}

func notFound(collection, id string) error {
	return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
}
