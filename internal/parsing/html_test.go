package parsing

import "testing"

func TestParseExtractsTitleAndProseParagraphs(t *testing.T) {
	doc, err := Parse(`<html><head><title>Pixel 9 Pro Review</title></head>
<body><p>The Pixel 9 Pro is a flagship phone.</p><p>It ships with a new chipset.</p></body></html>`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Title != "Pixel 9 Pro Review" {
		t.Errorf("Title = %q, want %q", doc.Title, "Pixel 9 Pro Review")
	}
	var prose []Chunk
	for _, c := range doc.Chunks {
		if c.Kind == ChunkProse {
			prose = append(prose, c)
		}
	}
	if len(prose) != 2 {
		t.Fatalf("got %d prose chunks, want 2: %+v", len(prose), prose)
	}
}

func TestParseExtractsTableRowsAsKV(t *testing.T) {
	doc, err := Parse(`<html><body><table>
<tr><th>Spec</th><th>Value</th></tr>
<tr><td>Battery</td><td>5000 mAh</td></tr>
<tr><td>Display</td><td>6.7in OLED</td></tr>
</table></body></html>`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	kv := kvMap(doc.Chunks)
	if kv["Battery"] != "5000 mAh" {
		t.Errorf("Battery = %q, want %q", kv["Battery"], "5000 mAh")
	}
	if kv["Display"] != "6.7in OLED" {
		t.Errorf("Display = %q, want %q", kv["Display"], "6.7in OLED")
	}
}

func TestParseExtractsDefinitionListAsKV(t *testing.T) {
	doc, err := Parse(`<html><body><dl>
<dt>Weight</dt><dd>210g</dd>
<dt>Color</dt><dd>Obsidian</dd>
</dl></body></html>`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	kv := kvMap(doc.Chunks)
	if kv["Weight"] != "210g" {
		t.Errorf("Weight = %q, want %q", kv["Weight"], "210g")
	}
	if kv["Color"] != "Obsidian" {
		t.Errorf("Color = %q, want %q", kv["Color"], "Obsidian")
	}
}

func TestParseExtractsLabeledListItemAsKV(t *testing.T) {
	doc, err := Parse(`<html><body><ul><li>Charging: 45W wired</li></ul></body></html>`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	kv := kvMap(doc.Chunks)
	if kv["Charging"] != "45W wired" {
		t.Errorf("Charging = %q, want %q", kv["Charging"], "45W wired")
	}
}

func TestParseSkipsScriptAndNavContent(t *testing.T) {
	doc, err := Parse(`<html><body><nav>Home About</nav><script>var x=1;</script><p>Real content here.</p></body></html>`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, c := range doc.Chunks {
		if c.Kind == ChunkProse && (contains(c.Text, "Home") || contains(c.Text, "var x")) {
			t.Errorf("unexpected nav/script content leaked into chunk: %q", c.Text)
		}
	}
}

func TestParseAssignsSequentialChunkIndices(t *testing.T) {
	doc, err := Parse(`<html><body><p>First.</p><p>Second.</p><table><tr><td>K</td><td>V</td></tr></table></body></html>`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for i, c := range doc.Chunks {
		if c.Index != i {
			t.Errorf("chunk %d has Index %d", i, c.Index)
		}
	}
}

func kvMap(chunks []Chunk) map[string]string {
	m := map[string]string{}
	for _, c := range chunks {
		if c.Kind == ChunkKV {
			m[c.Key] = c.Value
		}
	}
	return m
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
