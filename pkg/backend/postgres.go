package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kmesh/pkg/models"
)

// PostgresAdapter stores records as JSONB rows in PostgreSQL.
type PostgresAdapter struct {
	kind models.BackendKind
	pool *pgxpool.Pool
}

// NewPostgresAdapter connects to databaseURL, verifies the connection and
// creates the tables if they don't exist.
func NewPostgresAdapter(ctx context.Context, kind models.BackendKind, databaseURL string) (*PostgresAdapter, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: database unreachable: %w", ErrDatabaseError, err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: migration failed: %w", ErrDatabaseError, err)
	}

	return &PostgresAdapter{kind: kind, pool: pool}, nil
}

// Kind implements Adapter.
func (a *PostgresAdapter) Kind() models.BackendKind {
	return a.kind
}

// Execute implements Adapter.
func (a *PostgresAdapter) Execute(ctx context.Context, op Op, payload models.Payload) (any, error) {
	switch op {
	case OpGet:
		var req keyRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.get(ctx, req.Collection, req.ID)

	case OpPut:
		var req putRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.put(ctx, req)

	case OpDelete:
		var req keyRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.delete(ctx, req)

	case OpSearch:
		var req searchRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.search(ctx, req)

	case OpLink:
		var req linkRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.link(ctx, Link(req))

	case OpRelated:
		var req relatedRequest
		if err := decodeRequest(op, payload, &req); err != nil {
			return nil, err
		}
		return a.related(ctx, req)

	default:
		return nil, unsupported(a.kind, op)
	}
}

func (a *PostgresAdapter) get(ctx context.Context, collection, id string) (Record, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := a.pool.QueryRow(ctx,
		`SELECT document, updated_at FROM kmesh_records WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw, &updatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, notFound(collection, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return decodeRecord(collection, id, raw, updatedAt)
}

func (a *PostgresAdapter) put(ctx context.Context, req putRequest) (Record, error) {
	raw, err := json.Marshal(req.Document)
	if err != nil {
		return Record{}, fmt.Errorf("%w: put: %w", ErrInvalidPayload, err)
	}

	var updatedAt time.Time
	err = a.pool.QueryRow(ctx,
		`INSERT INTO kmesh_records (collection, id, document, updated_at) VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (collection, id) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()
		 RETURNING updated_at`,
		req.Collection, req.ID, raw,
	).Scan(&updatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return Record{Collection: req.Collection, ID: req.ID, Document: req.Document, UpdatedAt: updatedAt}, nil
}

func (a *PostgresAdapter) delete(ctx context.Context, req keyRequest) (Deleted, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return Deleted{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM kmesh_records WHERE collection = $1 AND id = $2`, req.Collection, req.ID)
	if err != nil {
		return Deleted{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM kmesh_links WHERE collection = $1 AND (from_id = $2 OR to_id = $2)`,
		req.Collection, req.ID,
	); err != nil {
		return Deleted{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Deleted{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return Deleted{Collection: req.Collection, ID: req.ID, Deleted: tag.RowsAffected() > 0}, nil
}

func (a *PostgresAdapter) search(ctx context.Context, req searchRequest) ([]Record, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, document, updated_at FROM kmesh_records
		 WHERE collection = $1 AND document::text ILIKE $2
		 ORDER BY id LIMIT $3`,
		req.Collection, "%"+escapeLike(req.Text)+"%", req.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			id        string
			raw       []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &raw, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
		}
		record, err := decodeRecord(req.Collection, id, raw, updatedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return records, nil
}

func (a *PostgresAdapter) link(ctx context.Context, link Link) (Link, error) {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO kmesh_links (collection, from_id, to_id, relation) VALUES ($1, $2, $3, $4)
		 ON CONFLICT DO NOTHING`,
		link.Collection, link.From, link.To, link.Relation,
	)
	if err != nil {
		return Link{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return link, nil
}

func (a *PostgresAdapter) neighbors(collection string) neighborsFunc {
	return func(ctx context.Context, id string) ([]string, error) {
		rows, err := a.pool.Query(ctx,
			`SELECT DISTINCT to_id FROM kmesh_links WHERE collection = $1 AND from_id = $2 ORDER BY to_id`,
			collection, id,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
		}
		return ids, nil
	}
}

func (a *PostgresAdapter) related(ctx context.Context, req relatedRequest) ([]Record, error) {
	if _, err := a.get(ctx, req.Collection, req.ID); err != nil {
		return nil, err
	}

	hops, err := traverse(ctx, req.ID, req.depth(), a.neighbors(req.Collection))
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(hops))
	for _, h := range hops {
		record, err := a.get(ctx, req.Collection, h.id)
		if errors.Is(err, ErrNotFound) {
			record = Record{Collection: req.Collection, ID: h.id}
		} else if err != nil {
			return nil, err
		}
		record.Depth = h.depth
		records = append(records, record)
	}
	return records, nil
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close implements Adapter.
func (a *PostgresAdapter) Close() error {
	a.pool.Close()
	return nil
}
