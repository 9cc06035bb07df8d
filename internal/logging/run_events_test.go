package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEventSinkEmitAppendsNDJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewEventSink(dir)
	if err != nil {
		t.Fatalf("NewEventSink: %v", err)
	}
	defer sink.Close()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := sink.Emit(fixed, EventRunStarted, "", map[string]interface{}{"products": 3}); err != nil {
		t.Fatalf("Emit run_started: %v", err)
	}
	if err := sink.Emit(fixed, EventProductStarted, "prod_abc", nil); err != nil {
		t.Fatalf("Emit product_started: %v", err)
	}

	path := filepath.Join(dir, ".harvester", "run_events.ndjson")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open ndjson file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []RunEvent
	for scanner.Scan() {
		var evt RunEvent
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, evt)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Type != EventRunStarted {
		t.Errorf("line0 type = %q, want %q", lines[0].Type, EventRunStarted)
	}
	if lines[1].ProductID != "prod_abc" {
		t.Errorf("line1 product_id = %q, want prod_abc", lines[1].ProductID)
	}
}

func TestGetReturnsNoOpLoggerWhenDebugDisabled(t *testing.T) {
	debugMode = false
	logsDir = ""
	l := Get(CategoryBoot)
	l.Info("should not panic or write anything: %d", 1)
}
