package storagefs

import (
	"context"
	"testing"
)

type sample struct {
	Name string `json:"name"`
}

func TestWriteThenReadJSONRoundTrips(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	key := fs.ResolveOutputKey("latest", "normalized.json")
	if err := fs.WriteObject(ctx, key, []byte(`{"name":"pixel"}`), "application/json"); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}

	var out sample
	found, err := fs.ReadJSONOrNull(ctx, key, &out)
	if err != nil {
		t.Fatalf("ReadJSONOrNull: %v", err)
	}
	if !found {
		t.Fatal("expected object to be found")
	}
	if out.Name != "pixel" {
		t.Errorf("Name = %q, want pixel", out.Name)
	}
}

func TestReadJSONOrNullMissingKeyReturnsFalse(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var out sample
	found, err := fs.ReadJSONOrNull(context.Background(), "missing.json", &out)
	if err != nil {
		t.Fatalf("ReadJSONOrNull: %v", err)
	}
	if found {
		t.Fatal("expected missing key to report not found")
	}
}

func TestObjectExists(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	exists, err := fs.ObjectExists(ctx, "nope.json")
	if err != nil {
		t.Fatalf("ObjectExists: %v", err)
	}
	if exists {
		t.Fatal("expected nope.json to not exist")
	}

	if err := fs.WriteObject(ctx, "present.json", []byte("{}"), "application/json"); err != nil {
		t.Fatalf("WriteObject: %v", err)
	}
	exists, err = fs.ObjectExists(ctx, "present.json")
	if err != nil {
		t.Fatalf("ObjectExists: %v", err)
	}
	if !exists {
		t.Fatal("expected present.json to exist")
	}
}
