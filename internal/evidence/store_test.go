package evidence

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evidence.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIndexDocumentDedupsByContentHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{
		DocID: "doc_aaaa000000000001", URL: "https://maker.example/pixel-9-pro",
		Domain: "maker.example", Tier: TierManufacturer, Title: "Pixel 9 Pro",
		ContentHash: "hash1", ParserVersion: "html-chunker-v1", FetchedAt: 1000,
	}
	first, err := s.IndexDocument(ctx, doc)
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if first.DedupeOutcome != DedupeNew {
		t.Errorf("expected new on first index, got %s", first.DedupeOutcome)
	}

	doc2 := doc
	doc2.DocID = "doc_bbbb000000000002"
	second, err := s.IndexDocument(ctx, doc2)
	if err != nil {
		t.Fatalf("IndexDocument (dup): %v", err)
	}
	if second.DedupeOutcome != DedupeReused {
		t.Errorf("expected reused on identical content_hash, got %s", second.DedupeOutcome)
	}
	if first.DocID != second.DocID {
		t.Errorf("expected dedup to return original doc_id %s, got %s", first.DocID, second.DocID)
	}
}

func TestIndexDocumentSameURLNewContentHashIsUpdated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{
		DocID: "doc_0000000000000010", URL: "https://maker.example/pixel-9-pro",
		Domain: "maker.example", Tier: TierManufacturer,
		ContentHash: "hash-v1", ParserVersion: "html-chunker-v1", FetchedAt: 1000,
	}
	if _, err := s.IndexDocument(ctx, doc); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	revised := doc
	revised.DocID = "doc_0000000000000011"
	revised.ContentHash = "hash-v2"
	revised.FetchedAt = 2000
	result, err := s.IndexDocument(ctx, revised)
	if err != nil {
		t.Fatalf("IndexDocument (revised): %v", err)
	}
	if result.DedupeOutcome != DedupeUpdated {
		t.Errorf("expected updated for a refetched URL with new content, got %s", result.DedupeOutcome)
	}
	if result.DocID != revised.DocID {
		t.Errorf("expected a new doc_id for the updated content, got %s", result.DocID)
	}
}

// TestReingestingUnchangedContentDoesNotGrowChunksOrFacts exercises the
// §8 dedup invariant: a caller that checks DedupeOutcome before
// re-indexing snippets/facts (as cmd/harvester's fetchAndIndex does)
// never grows the evidence index on a repeat fetch of the same page.
func TestReingestingUnchangedContentDoesNotGrowChunksOrFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{
		DocID: "doc_0000000000000020", URL: "https://maker.example/razer-viper",
		Domain: "maker.example", Tier: TierManufacturer,
		ContentHash: "hash-stable", ParserVersion: "html-chunker-v1", FetchedAt: 1000,
	}
	snippets := []Snippet{{SnippetID: "sn_0000000000000020", DocID: doc.DocID, ChunkIdx: 0, Kind: "kv", Key: "Weight", Value: "68 g"}}
	facts := []FieldFact{{Field: "weight", RawValue: "68 g", SnippetID: "sn_0000000000000020", DocID: doc.DocID, URL: doc.URL, Tier: TierManufacturer, ExtractionMethod: "table_kv", Score: 0.9}}

	indexOnce := func(d Document) IndexDocumentResult {
		t.Helper()
		result, err := s.IndexDocument(ctx, d)
		if err != nil {
			t.Fatalf("IndexDocument: %v", err)
		}
		if result.DedupeOutcome == DedupeReused {
			return result
		}
		if err := s.IndexSnippets(ctx, snippets); err != nil {
			t.Fatalf("IndexSnippets: %v", err)
		}
		if err := s.IndexFieldFacts(ctx, facts); err != nil {
			t.Fatalf("IndexFieldFacts: %v", err)
		}
		return result
	}

	first := indexOnce(doc)
	if first.DedupeOutcome != DedupeNew {
		t.Fatalf("expected new on first ingest, got %s", first.DedupeOutcome)
	}
	invAfterFirst, err := s.GetEvidenceInventory(ctx)
	if err != nil {
		t.Fatalf("GetEvidenceInventory: %v", err)
	}

	refetched := doc
	refetched.DocID = "doc_0000000000000021"
	refetched.FetchedAt = 2000
	second := indexOnce(refetched)
	if second.DedupeOutcome != DedupeReused {
		t.Fatalf("expected reused on refetch of unchanged content, got %s", second.DedupeOutcome)
	}

	invAfterSecond, err := s.GetEvidenceInventory(ctx)
	if err != nil {
		t.Fatalf("GetEvidenceInventory: %v", err)
	}
	if invAfterSecond.SnippetCount != invAfterFirst.SnippetCount {
		t.Errorf("snippet count grew on reingest: %d -> %d", invAfterFirst.SnippetCount, invAfterSecond.SnippetCount)
	}
	if invAfterSecond.FieldCoverage["weight"] != invAfterFirst.FieldCoverage["weight"] {
		t.Errorf("field fact count grew on reingest: %d -> %d",
			invAfterFirst.FieldCoverage["weight"], invAfterSecond.FieldCoverage["weight"])
	}
}

// TestIndexFieldFactsIgnoresDuplicateFieldSnippetPair covers the
// unique-index backstop directly: even a caller that does not check
// DedupeOutcome first cannot grow duplicate rows for the same
// (field, snippet_id) pair.
func TestIndexFieldFactsIgnoresDuplicateFieldSnippetPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{DocID: "doc_0000000000000030", URL: "https://maker.example/z", Domain: "maker.example", Tier: TierManufacturer, ContentHash: "hash-z", ParserVersion: "html-chunker-v1", FetchedAt: 1}
	if _, err := s.IndexDocument(ctx, doc); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	fact := FieldFact{Field: "weight", RawValue: "68 g", SnippetID: "sn_0000000000000030", DocID: doc.DocID, URL: doc.URL, Tier: TierManufacturer, ExtractionMethod: "table_kv", Score: 0.9}
	if err := s.IndexFieldFacts(ctx, []FieldFact{fact}); err != nil {
		t.Fatalf("IndexFieldFacts: %v", err)
	}
	if err := s.IndexFieldFacts(ctx, []FieldFact{fact}); err != nil {
		t.Fatalf("IndexFieldFacts (dup): %v", err)
	}

	got, err := s.GetFactsForField(ctx, "weight")
	if err != nil {
		t.Fatalf("GetFactsForField: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected duplicate (field, snippet_id) insert to be ignored, got %d rows", len(got))
	}
}

func TestIndexSnippetsAndSearchByField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{
		DocID: "doc_cccc000000000003", URL: "https://maker.example/pixel-9-pro",
		Domain: "maker.example", Tier: TierManufacturer, ContentHash: "hash2",
		ParserVersion: "html-chunker-v1", FetchedAt: 1000,
	}
	if _, err := s.IndexDocument(ctx, doc); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	snippets := []Snippet{
		{SnippetID: "sn_0000000000000001", DocID: doc.DocID, ChunkIdx: 0, Kind: "kv", Key: "Battery", Value: "5000 mAh"},
		{SnippetID: "sn_0000000000000002", DocID: doc.DocID, ChunkIdx: 1, Kind: "prose", Text: "This phone has a large battery capacity."},
	}
	if err := s.IndexSnippets(ctx, snippets); err != nil {
		t.Fatalf("IndexSnippets: %v", err)
	}

	ids, err := s.SearchEvidenceByField(ctx, []string{"battery"}, 10)
	if err != nil {
		t.Fatalf("SearchEvidenceByField: %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("expected at least one matching snippet for 'battery'")
	}

	chunks, err := s.GetChunksForDocument(ctx, doc.DocID)
	if err != nil {
		t.Fatalf("GetChunksForDocument: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
}

func TestIndexFieldFactsAndGetFactsForField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{DocID: "doc_dddd000000000004", URL: "https://maker.example/x", Domain: "maker.example", Tier: TierManufacturer, ContentHash: "hash3", ParserVersion: "html-chunker-v1", FetchedAt: 1}
	if _, err := s.IndexDocument(ctx, doc); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if err := s.IndexSnippets(ctx, []Snippet{{SnippetID: "sn_0000000000000003", DocID: doc.DocID, ChunkIdx: 0, Kind: "kv", Key: "Battery", Value: "5000 mAh"}}); err != nil {
		t.Fatalf("IndexSnippets: %v", err)
	}

	facts := []FieldFact{
		{Field: "battery_capacity_wh", RawValue: "5000 mAh", SnippetID: "sn_0000000000000003", DocID: doc.DocID, URL: doc.URL, Tier: TierManufacturer, ExtractionMethod: "table_kv", Score: 0.9},
	}
	if err := s.IndexFieldFacts(ctx, facts); err != nil {
		t.Fatalf("IndexFieldFacts: %v", err)
	}

	got, err := s.GetFactsForField(ctx, "battery_capacity_wh")
	if err != nil {
		t.Fatalf("GetFactsForField: %v", err)
	}
	if len(got) != 1 || got[0].RawValue != "5000 mAh" {
		t.Fatalf("GetFactsForField = %+v, want one fact with RawValue 5000 mAh", got)
	}
}

func TestGetEvidenceInventoryCountsDocumentsSnippetsAndFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{DocID: "doc_eeee000000000005", URL: "https://maker.example/y", Domain: "maker.example", Tier: TierManufacturer, ContentHash: "hash4", ParserVersion: "html-chunker-v1", FetchedAt: 1}
	if _, err := s.IndexDocument(ctx, doc); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if err := s.IndexSnippets(ctx, []Snippet{{SnippetID: "sn_0000000000000004", DocID: doc.DocID, ChunkIdx: 0, Kind: "prose", Text: "hello"}}); err != nil {
		t.Fatalf("IndexSnippets: %v", err)
	}
	if err := s.IndexFieldFacts(ctx, []FieldFact{{Field: "color", RawValue: "Black", SnippetID: "sn_0000000000000004", DocID: doc.DocID, URL: doc.URL, Tier: TierManufacturer, ExtractionMethod: "regex", Score: 0.5}}); err != nil {
		t.Fatalf("IndexFieldFacts: %v", err)
	}

	inv, err := s.GetEvidenceInventory(ctx)
	if err != nil {
		t.Fatalf("GetEvidenceInventory: %v", err)
	}
	if inv.DocumentCount != 1 || inv.SnippetCount != 1 || inv.FieldCoverage["color"] != 1 {
		t.Fatalf("unexpected inventory: %+v", inv)
	}
}

func TestGetDocumentByHashMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.GetDocumentByHash(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetDocumentByHash: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil for missing hash, got %+v", doc)
	}
}
