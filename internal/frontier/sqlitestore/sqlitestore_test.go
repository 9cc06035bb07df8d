package sqlitestore

import (
	"path/filepath"
	"testing"

	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frontier.db")
	s, err := Open(frontier.DefaultConfig(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShouldSkipQueryFalseUntilRecorded(t *testing.T) {
	s := newTestStore(t)
	if s.ShouldSkipQuery("p1", "best phone 2026") {
		t.Fatal("expected no skip before recording")
	}
	if err := s.RecordQuery("p1", "Best Phone 2026"); err != nil {
		t.Fatalf("RecordQuery: %v", err)
	}
	if !s.ShouldSkipQuery("p1", "best   phone  2026") {
		t.Fatal("expected skip after recording (normalized match)")
	}
}

func TestRecordFetch404SetsCooldown(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordFetch("p1", "https://example.com/gone", 404, 0); err != nil {
		t.Fatalf("RecordFetch: %v", err)
	}
	skip, reason := s.ShouldSkipURL("https://example.com/gone")
	if !skip || reason != frontier.SkipStatus404 {
		t.Fatalf("expected 404 skip, got skip=%v reason=%v", skip, reason)
	}
}

func TestRecordFetch404RepeatedEscalatesReason(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.RecordFetch("p1", "https://example.com/gone", 404, 0); err != nil {
			t.Fatalf("RecordFetch: %v", err)
		}
	}
	skip, reason := s.ShouldSkipURL("https://example.com/gone")
	if !skip || reason != frontier.SkipStatus404Repeated {
		t.Fatalf("expected 404_repeated skip after 3 repeats, got skip=%v reason=%v", skip, reason)
	}
}

func TestRecordFetch429BacksOff(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordFetch("p1", "https://example.com/throttled", 429, 0); err != nil {
		t.Fatalf("RecordFetch: %v", err)
	}
	skip, reason := s.ShouldSkipURL("https://example.com/throttled")
	if !skip || reason != frontier.SkipStatus429 {
		t.Fatalf("expected 429 skip, got skip=%v reason=%v", skip, reason)
	}
}

func TestSnapshotForProductCountsQueriesAndYield(t *testing.T) {
	s := newTestStore(t)
	s.RecordQuery("p1", "query one")
	s.RecordQuery("p1", "query two")
	s.RecordQuery("p2", "other product query")
	s.RecordFetch("p1", "https://example.com/a", 200, 3)
	s.RecordFetch("p1", "https://example.com/b", 200, 2)

	snap := s.SnapshotForProduct("p1")
	if snap.QueryCount != 2 {
		t.Errorf("QueryCount = %d, want 2", snap.QueryCount)
	}
	if snap.FieldYield != 5 {
		t.Errorf("FieldYield = %d, want 5", snap.FieldYield)
	}
}

func TestReopenPersistsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frontier.db")
	cfg := frontier.DefaultConfig()

	s1, err := Open(cfg, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.RecordQuery("p1", "durable query"); err != nil {
		t.Fatalf("RecordQuery: %v", err)
	}
	s1.Close()

	s2, err := Open(cfg, path)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	defer s2.Close()
	if !s2.ShouldSkipQuery("p1", "durable query") {
		t.Fatal("expected reopened store to remember the recorded query")
	}
}
