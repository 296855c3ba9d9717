package store

const cursorSchemaSQL = `
CREATE TABLE IF NOT EXISTS file_cursors (
    file_path            TEXT PRIMARY KEY,
    session_key          TEXT NOT NULL,
    last_timestamp       INTEGER NOT NULL,
    mtime_ns             INTEGER NOT NULL,
    size_bytes           INTEGER NOT NULL,
    updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS csv_rows (
    row_hash             TEXT PRIMARY KEY,
    file_path            TEXT NOT NULL,
    imported_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_fetches (
    fetch_date           TEXT PRIMARY KEY,
    fetched_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_markers (
    source               TEXT PRIMARY KEY,
    pid                  INTEGER NOT NULL,
    started_at           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_csv_rows_file ON csv_rows(file_path);
`
