package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"kmesh/pkg/models"

	_ "modernc.org/sqlite"
)

// SQLiteAdapter stores records and links in a SQLite database.
type SQLiteAdapter struct {
	kind models.BackendKind
	db   *sql.DB
}

// NewSQLiteAdapter opens (creating if needed) the database at dbPath.
func NewSQLiteAdapter(ctx context.Context, kind models.BackendKind, dbPath string) (*SQLiteAdapter, error) {
	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseError, err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		database.SetMaxOpenConns(1)
	}

	// WAL lets readers proceed while a writer holds the database.
	if _, err := database.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %w", ErrDatabaseError, err)
	}
	if _, err := database.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to set busy timeout: %w", ErrDatabaseError, err)
	}

	if _, err := database.ExecContext(ctx, sqliteSchema); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %w", ErrDatabaseError, err)
	}

	return &SQLiteAdapter{kind: kind, db: database}, nil
}

// Kind implements Adapter.
func (a *SQLiteAdapter) Kind() models.BackendKind {
	return a.kind
}

// Execute implements Adapter.
func (a *SQLiteAdapter) Execute(ctx context.Context, op Op, payload models.Payload) (any, error) {
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

func (a *SQLiteAdapter) get(ctx context.Context, collection, id string) (Record, error) {
	var (
		raw       string
		updatedAt time.Time
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT document, updated_at FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&raw, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound(collection, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return decodeRecord(collection, id, []byte(raw), updatedAt)
}

func (a *SQLiteAdapter) put(ctx context.Context, req putRequest) (Record, error) {
	raw, err := json.Marshal(req.Document)
	if err != nil {
		return Record{}, fmt.Errorf("%w: put: %w", ErrInvalidPayload, err)
	}

	now := time.Now().UTC()
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, document, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		req.Collection, req.ID, string(raw), now,
	)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	return Record{Collection: req.Collection, ID: req.ID, Document: req.Document, UpdatedAt: now}, nil
}

func (a *SQLiteAdapter) delete(ctx context.Context, req keyRequest) (Deleted, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return Deleted{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, req.Collection, req.ID)
	if err != nil {
		return Deleted{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM links WHERE collection = ? AND (from_id = ? OR to_id = ?)`,
		req.Collection, req.ID, req.ID,
	); err != nil {
		return Deleted{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	if err := tx.Commit(); err != nil {
		return Deleted{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return Deleted{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return Deleted{Collection: req.Collection, ID: req.ID, Deleted: affected > 0}, nil
}

func (a *SQLiteAdapter) search(ctx context.Context, req searchRequest) ([]Record, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, document, updated_at FROM records
		 WHERE collection = ? AND document LIKE ? ESCAPE '\'
		 ORDER BY id LIMIT ?`,
		req.Collection, "%"+escapeLike(req.Text)+"%", req.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			id, raw   string
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &raw, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
		}
		record, err := decodeRecord(req.Collection, id, []byte(raw), updatedAt)
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

func (a *SQLiteAdapter) link(ctx context.Context, link Link) (Link, error) {
	_, err := a.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO links (collection, from_id, to_id, relation) VALUES (?, ?, ?, ?)`,
		link.Collection, link.From, link.To, link.Relation,
	)
	if err != nil {
		return Link{}, fmt.Errorf("%w: %w", ErrDatabaseError, err)
	}
	return link, nil
}

func (a *SQLiteAdapter) neighbors(collection string) neighborsFunc {
	return func(ctx context.Context, id string) ([]string, error) {
		rows, err := a.db.QueryContext(ctx,
			`SELECT DISTINCT to_id FROM links WHERE collection = ? AND from_id = ? ORDER BY to_id`,
			collection, id,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var to string
			if err := rows.Scan(&to); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrDatabaseError, err)
			}
			ids = append(ids, to)
		}
		return ids, rows.Err()
	}
}

func (a *SQLiteAdapter) related(ctx context.Context, req relatedRequest) ([]Record, error) {
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
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close implements Adapter.
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

func decodeRecord(collection, id string, raw []byte, updatedAt time.Time) (Record, error) {
	var document map[string]any
	if err := json.Unmarshal(raw, &document); err != nil {
		return Record{}, fmt.Errorf("%w: corrupt document %s/%s: %w", ErrDatabaseError, collection, id, err)
	}
	return Record{Collection: collection, ID: id, Document: document, UpdatedAt: updatedAt}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(text string) string {
	return likeEscaper.Replace(text)
}
