package jsonstore

import (
	"context"
	"testing"

	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform/storagefs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	fs, err := storagefs.New(t.TempDir())
	if err != nil {
		t.Fatalf("storagefs.New: %v", err)
	}
	cfg := frontier.DefaultConfig()
	s, err := New(context.Background(), cfg, fs)
	if err != nil {
		t.Fatalf("New: %v", err)
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

func TestShouldSkipURLNoneBeforeFetch(t *testing.T) {
	s := newTestStore(t)
	skip, reason := s.ShouldSkipURL("https://example.com/spec")
	if skip || reason != frontier.SkipNone {
		t.Fatalf("expected no skip, got skip=%v reason=%v", skip, reason)
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

func TestRecordFetch200DoesNotCooldown(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordFetch("p1", "https://example.com/ok", 200, 5); err != nil {
		t.Fatalf("RecordFetch: %v", err)
	}
	skip, _ := s.ShouldSkipURL("https://example.com/ok")
	if skip {
		t.Fatal("expected no skip for a successful fetch")
	}
}

func TestCanonicalizeStripsTrackingParamsWhenConfigured(t *testing.T) {
	got := Canonicalize("https://Example.com/spec?utm_source=x&id=7", true)
	want := "https://example.com/spec?id=7"
	if got != want {
		t.Errorf("Canonicalize = %q, want %q", got, want)
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

func TestNewReloadsPersistedState(t *testing.T) {
	dir := t.TempDir()
	fs, err := storagefs.New(dir)
	if err != nil {
		t.Fatalf("storagefs.New: %v", err)
	}
	cfg := frontier.DefaultConfig()
	ctx := context.Background()

	s1, err := New(ctx, cfg, fs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s1.RecordQuery("p1", "durable query"); err != nil {
		t.Fatalf("RecordQuery: %v", err)
	}
	s1.Close()

	s2, err := New(ctx, cfg, fs)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	defer s2.Close()
	if !s2.ShouldSkipQuery("p1", "durable query") {
		t.Fatal("expected reloaded store to remember the recorded query")
	}
}
