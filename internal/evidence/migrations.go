package evidence

import "context"

const schemaV1 = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id            TEXT PRIMARY KEY,
	url               TEXT NOT NULL,
	domain            TEXT NOT NULL,
	tier              INTEGER NOT NULL,
	title             TEXT,
	content_hash      TEXT NOT NULL UNIQUE,
	page_content_hash TEXT,
	parser_version    TEXT NOT NULL,
	fetched_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_domain ON documents(domain);
CREATE INDEX IF NOT EXISTS idx_documents_tier ON documents(tier);

CREATE TABLE IF NOT EXISTS snippets (
	snippet_id TEXT PRIMARY KEY,
	doc_id     TEXT NOT NULL REFERENCES documents(doc_id),
	chunk_idx  INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	text       TEXT NOT NULL DEFAULT '',
	key        TEXT NOT NULL DEFAULT '',
	value      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_snippets_doc ON snippets(doc_id);

CREATE VIRTUAL TABLE IF NOT EXISTS snippets_fts USING fts5(
	snippet_id UNINDEXED,
	content
);

CREATE TABLE IF NOT EXISTS field_facts (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	field             TEXT NOT NULL,
	raw_value         TEXT NOT NULL,
	snippet_id        TEXT NOT NULL REFERENCES snippets(snippet_id),
	doc_id            TEXT NOT NULL REFERENCES documents(doc_id),
	url               TEXT NOT NULL,
	tier              INTEGER NOT NULL,
	extraction_method TEXT NOT NULL,
	score             REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_field_facts_field ON field_facts(field);
CREATE UNIQUE INDEX IF NOT EXISTS idx_field_facts_field_snippet ON field_facts(field, snippet_id);
`

// migrate applies the evidence index schema. There is a single schema
// generation today; this is the seam a future column addition would
// extend the same way the rest of this codebase's stores apply
// additive migrations — CREATE TABLE/INDEX IF NOT EXISTS, never DROP.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaV1)
	return err
}
