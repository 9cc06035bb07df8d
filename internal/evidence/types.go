// Package evidence implements the tiered, content-addressed Evidence
// Index: every document and chunk fetched for a product is stored
// once, keyed by content hash, and made searchable so the Retriever
// can pull tier-ranked support for a field without re-fetching
// anything.
package evidence

// Tier ranks a source by how authoritative it is. Lower is better.
type Tier int

const (
	TierManufacturer Tier = 1
	TierLabReview    Tier = 2
	TierRetail       Tier = 3
	TierOther        Tier = 4
)

// Document is one fetched, parsed page.
type Document struct {
	DocID           string
	URL             string
	Domain          string
	Tier            Tier
	Title           string
	ContentHash     string
	PageContentHash string
	ParserVersion   string
	FetchedAt       int64 // unix seconds
}

// Snippet is one indexed chunk of a Document: either free text or a
// recognized key/value row, carried through from internal/parsing.
type Snippet struct {
	SnippetID string
	DocID     string
	ChunkIdx  int
	Kind      string // "prose" or "kv"
	Text      string
	Key       string
	Value     string
}

// FieldFact is a candidate value for a contract field, extracted from
// one snippet. It is the unit the Retriever assembles into an
// EvidencePool and the Gate audits against a field's pass threshold.
type FieldFact struct {
	Field           string
	RawValue        string
	SnippetID       string
	DocID           string
	URL             string
	Tier            Tier
	ExtractionMethod string // e.g. "table_kv", "regex", "llm"
	Score           float64
}

// Inventory summarizes what evidence exists for a product, used by
// the NeedSet Planner to decide what is still worth fetching.
type Inventory struct {
	DocumentCount int
	SnippetCount  int
	FieldCoverage map[string]int // field -> number of supporting facts indexed
}

// DedupeOutcome classifies what IndexDocument did with a document
// relative to what was already indexed.
type DedupeOutcome string

const (
	// DedupeNew means no prior document shared this content_hash or URL.
	DedupeNew DedupeOutcome = "new"
	// DedupeReused means this exact content_hash was already indexed —
	// the document row (and, by extension, its chunks/facts) are
	// untouched, and callers should skip re-indexing snippets/facts.
	DedupeReused DedupeOutcome = "reused"
	// DedupeUpdated means this URL was indexed before under a
	// different content_hash: the page changed since the last fetch,
	// so a new document row (with a new, content-addressed doc_id) is
	// inserted alongside the stale one rather than replacing it.
	DedupeUpdated DedupeOutcome = "updated"
)

// IndexDocumentResult is IndexDocument's return value.
type IndexDocumentResult struct {
	DocID         string
	DedupeOutcome DedupeOutcome
}
