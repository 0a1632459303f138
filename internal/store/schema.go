package store

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;

-- One row per completed run
CREATE TABLE IF NOT EXISTS runs (
    run_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_timestamp TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
    records INTEGER NOT NULL,
    malformed INTEGER NOT NULL,
    malformed_reasons TEXT,      -- JSON object: {"too_few_fields": n, ...}
    lookup_rows INTEGER NOT NULL,
    lookup_entries INTEGER NOT NULL,
    lookup_invalid_rows INTEGER NOT NULL,
    lookup_overridden INTEGER NOT NULL,
    chunks INTEGER NOT NULL,
    failed_chunks TEXT,          -- JSON array of chunk failures
    incomplete BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);

CREATE TABLE IF NOT EXISTS tag_counts (
    run_id INTEGER NOT NULL,
    tag TEXT NOT NULL,
    count INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE,
    PRIMARY KEY (run_id, tag)
);

CREATE TABLE IF NOT EXISTS pair_counts (
    run_id INTEGER NOT NULL,
    dst_port INTEGER NOT NULL,
    protocol TEXT NOT NULL,
    count INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE,
    PRIMARY KEY (run_id, dst_port, protocol)
);
`
