package cache

// Schema contains SQL schema definitions for the cache
const Schema = `
-- Key/blob table backing every cached collection
CREATE TABLE IF NOT EXISTS blobs (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_blobs_updated_at ON blobs(updated_at);
`
