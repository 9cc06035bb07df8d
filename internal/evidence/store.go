package evidence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	// Register the modernc sqlite driver under the name "sqlite".
	_ "modernc.org/sqlite"

	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

// Store is the sqlite-backed Evidence Index. Writes go through a
// single connection (db.SetMaxOpenConns(1)) the same way the rest of
// this codebase's stores serialize writers under WAL — FTS5 rebuilds
// are not safe to run from two connections at once, and a harvest run
// is dominated by fetch/parse latency, not index-write latency, so
// serializing writes costs nothing in practice.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open creates or opens the Evidence Index database at path, running
// migrations if needed.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create evidence index directory %s: %w", dir, err)
		}
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open evidence index %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate evidence index: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// IndexDocument inserts a Document if its content_hash is not already
// present, returning the existing doc_id on a duplicate so re-fetches
// of an unchanged page are a no-op write. The returned DedupeOutcome
// tells the caller whether it's safe to skip re-indexing that
// document's snippets and field facts (DedupeReused) or whether this
// is a genuinely new row (DedupeNew/DedupeUpdated).
func (s *Store) IndexDocument(ctx context.Context, doc Document) (IndexDocumentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getDocumentByHashLocked(ctx, doc.ContentHash)
	if err != nil {
		return IndexDocumentResult{}, err
	}
	if existing != nil {
		logging.EvidenceDebug("document %s already indexed as %s, skipping", doc.URL, existing.DocID)
		return IndexDocumentResult{DocID: existing.DocID, DedupeOutcome: DedupeReused}, nil
	}

	priorForURL, err := s.getDocumentByURLLocked(ctx, doc.URL)
	if err != nil {
		return IndexDocumentResult{}, err
	}
	outcome := DedupeNew
	if priorForURL != nil {
		outcome = DedupeUpdated
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, url, domain, tier, title, content_hash, page_content_hash, parser_version, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DocID, doc.URL, doc.Domain, int(doc.Tier), doc.Title, doc.ContentHash, doc.PageContentHash, doc.ParserVersion, doc.FetchedAt)
	if err != nil {
		return IndexDocumentResult{}, fmt.Errorf("insert document %s: %w", doc.URL, err)
	}
	logging.Evidence("indexed document %s (tier %d, %s, outcome=%s)", doc.DocID, doc.Tier, doc.URL, outcome)
	return IndexDocumentResult{DocID: doc.DocID, DedupeOutcome: outcome}, nil
}

// IndexSnippets bulk-inserts the chunks belonging to a document,
// along with their FTS5 search rows.
func (s *Store) IndexSnippets(ctx context.Context, snippets []Snippet) error {
	if len(snippets) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snippet index tx: %w", err)
	}
	defer tx.Rollback()

	for _, sn := range snippets {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO snippets (snippet_id, doc_id, chunk_idx, kind, text, key, value)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sn.SnippetID, sn.DocID, sn.ChunkIdx, sn.Kind, sn.Text, sn.Key, sn.Value)
		if err != nil {
			return fmt.Errorf("insert snippet %s: %w", sn.SnippetID, err)
		}
		searchText := sn.Text
		if sn.Kind == "kv" {
			searchText = sn.Key + " " + sn.Value
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO snippets_fts (rowid, snippet_id, content)
			SELECT (SELECT rowid FROM snippets WHERE snippet_id = ?), ?, ?`,
			sn.SnippetID, sn.SnippetID, searchText)
		if err != nil {
			return fmt.Errorf("index snippet %s into fts: %w", sn.SnippetID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snippet index tx: %w", err)
	}
	logging.Evidence("indexed %d snippets", len(snippets))
	return nil
}

// IndexFieldFacts records candidate field values extracted from
// snippets, so GetFactsForField can serve them without
// re-running extraction.
func (s *Store) IndexFieldFacts(ctx context.Context, facts []FieldFact) error {
	if len(facts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin field fact tx: %w", err)
	}
	defer tx.Rollback()

	for _, f := range facts {
		// A (field, snippet_id) pair is reingested whenever a
		// previously-fetched URL is refetched unchanged; the unique
		// index plus OR IGNORE keeps that a no-op instead of growing
		// duplicate fact rows every round.
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO field_facts (field, raw_value, snippet_id, doc_id, url, tier, extraction_method, score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.Field, f.RawValue, f.SnippetID, f.DocID, f.URL, int(f.Tier), f.ExtractionMethod, f.Score)
		if err != nil {
			return fmt.Errorf("insert field fact for %s: %w", f.Field, err)
		}
	}
	return tx.Commit()
}

// GetDocumentByHash returns the document matching a content hash, or
// nil if none is indexed yet.
func (s *Store) GetDocumentByHash(ctx context.Context, contentHash string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getDocumentByHashLocked(ctx, contentHash)
}

func (s *Store) getDocumentByHashLocked(ctx context.Context, contentHash string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, url, domain, tier, title, content_hash, page_content_hash, parser_version, fetched_at
		FROM documents WHERE content_hash = ?`, contentHash)
	var d Document
	var tier int
	err := row.Scan(&d.DocID, &d.URL, &d.Domain, &tier, &d.Title, &d.ContentHash, &d.PageContentHash, &d.ParserVersion, &d.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query document by hash: %w", err)
	}
	d.Tier = Tier(tier)
	return &d, nil
}

// getDocumentByURLLocked returns the most recently fetched document
// row indexed for url, or nil if none exists yet. Callers must hold
// s.mu.
func (s *Store) getDocumentByURLLocked(ctx context.Context, url string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, url, domain, tier, title, content_hash, page_content_hash, parser_version, fetched_at
		FROM documents WHERE url = ? ORDER BY fetched_at DESC LIMIT 1`, url)
	var d Document
	var tier int
	err := row.Scan(&d.DocID, &d.URL, &d.Domain, &tier, &d.Title, &d.ContentHash, &d.PageContentHash, &d.ParserVersion, &d.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query document by url: %w", err)
	}
	d.Tier = Tier(tier)
	return &d, nil
}

// GetChunksForDocument returns every snippet belonging to a document,
// ordered by chunk index.
func (s *Store) GetChunksForDocument(ctx context.Context, docID string) ([]Snippet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT snippet_id, doc_id, chunk_idx, kind, text, key, value
		FROM snippets WHERE doc_id = ? ORDER BY chunk_idx ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("query chunks for %s: %w", docID, err)
	}
	defer rows.Close()

	var out []Snippet
	for rows.Next() {
		var sn Snippet
		if err := rows.Scan(&sn.SnippetID, &sn.DocID, &sn.ChunkIdx, &sn.Kind, &sn.Text, &sn.Key, &sn.Value); err != nil {
			return nil, fmt.Errorf("scan snippet: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// GetFactsForField returns every recorded field fact for a field,
// highest score first.
func (s *Store) GetFactsForField(ctx context.Context, field string) ([]FieldFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT field, raw_value, snippet_id, doc_id, url, tier, extraction_method, score
		FROM field_facts WHERE field = ? ORDER BY score DESC`, field)
	if err != nil {
		return nil, fmt.Errorf("query facts for field %s: %w", field, err)
	}
	defer rows.Close()

	var out []FieldFact
	for rows.Next() {
		var f FieldFact
		var tier int
		if err := rows.Scan(&f.Field, &f.RawValue, &f.SnippetID, &f.DocID, &f.URL, &tier, &f.ExtractionMethod, &f.Score); err != nil {
			return nil, fmt.Errorf("scan field fact: %w", err)
		}
		f.Tier = Tier(tier)
		out = append(out, f)
	}
	return out, rows.Err()
}

// SearchEvidenceByField runs a BM25-ranked FTS5 query over indexed
// snippet text using the field's display name and synonyms as the
// query terms, returning the matching snippet IDs best match first.
func (s *Store) SearchEvidenceByField(ctx context.Context, queryTerms []string, limit int) ([]string, error) {
	if len(queryTerms) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := ftsMatchQuery(queryTerms)
	rows, err := s.db.QueryContext(ctx, `
		SELECT snippet_id FROM snippets_fts
		WHERE snippets_fts MATCH ?
		ORDER BY bm25(snippets_fts) ASC
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan fts result: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetEvidenceInventory summarizes indexed documents, snippets, and
// per-field coverage, for the NeedSet Planner's need scoring.
func (s *Store) GetEvidenceInventory(ctx context.Context) (Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inv Inventory
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&inv.DocumentCount); err != nil {
		return inv, fmt.Errorf("count documents: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snippets`).Scan(&inv.SnippetCount); err != nil {
		return inv, fmt.Errorf("count snippets: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT field, COUNT(*) FROM field_facts GROUP BY field`)
	if err != nil {
		return inv, fmt.Errorf("count field facts: %w", err)
	}
	defer rows.Close()
	inv.FieldCoverage = map[string]int{}
	for rows.Next() {
		var field string
		var n int
		if err := rows.Scan(&field, &n); err != nil {
			return inv, fmt.Errorf("scan field coverage: %w", err)
		}
		inv.FieldCoverage[field] = n
	}
	return inv, rows.Err()
}

func ftsMatchQuery(terms []string) string {
	out := ""
	for i, t := range terms {
		if t == "" {
			continue
		}
		if i > 0 {
			out += " OR "
		}
		out += `"` + t + `"`
	}
	return out
}
