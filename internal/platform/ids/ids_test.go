package ids

import "testing"

func TestDocumentIDDeterministic(t *testing.T) {
	a := DocumentID("abc123", "html-v1")
	b := DocumentID("abc123", "html-v1")
	if a != b {
		t.Fatalf("DocumentID not deterministic: %s != %s", a, b)
	}
	if len(a) != len("doc_")+16 {
		t.Errorf("DocumentID length = %d, want %d", len(a), len("doc_")+16)
	}
}

func TestDocumentIDChangesWithParserVersion(t *testing.T) {
	a := DocumentID("abc123", "html-v1")
	b := DocumentID("abc123", "html-v2")
	if a == b {
		t.Fatal("expected different doc_id for different parser versions")
	}
}

func TestSnippetIDVariesByChunkIndex(t *testing.T) {
	a := SnippetID("abc123", "html-v1", 0)
	b := SnippetID("abc123", "html-v1", 1)
	if a == b {
		t.Fatal("expected different snippet_id for different chunk indices")
	}
	if len(a) != len("sn_")+16 {
		t.Errorf("SnippetID length = %d, want %d", len(a), len("sn_")+16)
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash([]byte("hello world"))
	b := ContentHash([]byte("hello world"))
	if a != b {
		t.Fatalf("ContentHash not deterministic: %s != %s", a, b)
	}
}
