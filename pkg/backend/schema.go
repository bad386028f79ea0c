package backend

// sqliteSchema creates the record and link tables of the SQLite adapter.
const sqliteSchema = `
-- Records table: one JSON document per (collection, id)
CREATE TABLE IF NOT EXISTS records (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    document   TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (collection, id)
);

-- Links table: directed labelled edges between records
CREATE TABLE IF NOT EXISTS links (
    collection TEXT NOT NULL,
    from_id    TEXT NOT NULL,
    to_id      TEXT NOT NULL,
    relation   TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (collection, from_id, to_id, relation)
);

CREATE INDEX IF NOT EXISTS idx_links_from ON links(collection, from_id);
CREATE INDEX IF NOT EXISTS idx_links_to ON links(collection, to_id);
`

// postgresSchema is the PostgreSQL counterpart of sqliteSchema.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS kmesh_records (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    document   JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (collection, id)
);

CREATE TABLE IF NOT EXISTS kmesh_links (
    collection TEXT NOT NULL,
    from_id    TEXT NOT NULL,
    to_id      TEXT NOT NULL,
    relation   TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (collection, from_id, to_id, relation)
);

CREATE INDEX IF NOT EXISTS idx_kmesh_links_from ON kmesh_links(collection, from_id);
`
