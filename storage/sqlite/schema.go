package sqlite

// document_id holds core.ID bit-cast to int64, so the full uint64 range round-trips.
const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
    id           TEXT PRIMARY KEY,
    document_id  INTEGER NOT NULL,
    chunk_index  INTEGER NOT NULL,
    text         TEXT NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset   INTEGER NOT NULL,
    vector       BLOB NOT NULL,
    model        TEXT NOT NULL,
    created_at   INTEGER NOT NULL,
    metadata     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_embeddings_document ON embeddings(document_id, chunk_index, id);

CREATE TABLE IF NOT EXISTS model_dimensions (
    model     TEXT PRIMARY KEY,
    dimension INTEGER NOT NULL
);
`
