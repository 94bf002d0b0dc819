package store

// schema contains the SQL statements to create the session database schema.
const schema = `
-- Forest roots in display order
CREATE TABLE IF NOT EXISTS trees (
    position  INTEGER PRIMARY KEY,
    root_key  TEXT NOT NULL,
    tree_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trees_root_key ON trees(root_key);

-- Per-key UI state. checked is NULL when the key has no explicit entry.
CREATE TABLE IF NOT EXISTS node_state (
    key      TEXT PRIMARY KEY,
    checked  INTEGER,
    selected INTEGER NOT NULL DEFAULT 0,
    expanded INTEGER NOT NULL DEFAULT 0
);

-- Search history
CREATE TABLE IF NOT EXISTS searches (
    id          TEXT PRIMARY KEY,
    symbol      TEXT NOT NULL,
    namespace   TEXT,
    file        TEXT,
    line        INTEGER,
    mode        TEXT NOT NULL,
    strategy    TEXT,
    started_at  TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    methods     INTEGER NOT NULL DEFAULT 0,
    refs        INTEGER NOT NULL DEFAULT 0,
    cancelled   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_searches_started_at ON searches(started_at);
CREATE INDEX IF NOT EXISTS idx_searches_symbol ON searches(symbol);

-- Metadata table for session info
CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT
);
`
