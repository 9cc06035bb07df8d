// Package parsing turns fetched HTML pages into the chunk and
// key/value records the Evidence Index stores and the Retriever
// searches over. The tree-walking approach is adapted from the
// markdown-conversion pass the research tools use to hand page
// content to an LLM, generalized here to also recognize spec tables
// (the dl/table layouts manufacturer and review pages use for
// "Display: 6.7in OLED" style rows) as structured key/value pairs
// instead of flattening them into prose.
package parsing

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ParserVersion is embedded in content-addressed IDs so a change to
// the extraction algorithm below invalidates previously computed
// document and snippet IDs instead of silently reusing stale chunks.
const ParserVersion = "html-chunker-v1"

// ChunkKind distinguishes prose chunks from structured table/kv rows
// so the Evidence Index and Retriever can weight them differently —
// a kv chunk with "Battery: 5000mAh" is a stronger signal for a field
// than the same string buried in a paragraph.
type ChunkKind string

const (
	ChunkProse ChunkKind = "prose"
	ChunkKV    ChunkKind = "kv"
)

// Chunk is one unit of extracted text, ready for tokenization and
// storage. Index is the chunk's position within the document and
// feeds SnippetID so re-parsing the same document reproduces the
// same IDs.
type Chunk struct {
	Index int
	Kind  ChunkKind
	Text  string
	Key   string // set only for ChunkKV
	Value string // set only for ChunkKV
}

// Document is the result of parsing one fetched page.
type Document struct {
	Title  string
	Chunks []Chunk
}

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"svg": true, "nav": true, "footer": true, "header": true,
}

var headingPrefix = map[string]string{
	"h1": "# ", "h2": "## ", "h3": "### ",
	"h4": "#### ", "h5": "##### ", "h6": "###### ",
}

// Parse extracts a Document from raw HTML. It never returns an error
// for malformed markup — golang.org/x/net/html tolerates that the
// same way a browser does — only for input it cannot tokenize at
// all.
func Parse(rawHTML string) (Document, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	b := &builder{}
	b.walk(doc, 0)

	text := cleanText(b.prose.String())
	chunks := splitProse(text)
	chunks = append(chunks, b.kvChunks...)
	for i := range chunks {
		chunks[i].Index = i
	}

	return Document{Title: b.title, Chunks: chunks}, nil
}

type builder struct {
	prose    strings.Builder
	title    string
	kvChunks []Chunk
}

func (b *builder) walk(n *html.Node, depth int) {
	if depth > 60 {
		return
	}

	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			b.prose.WriteString(text)
			b.prose.WriteString(" ")
		}
		return
	case html.ElementNode:
		if skippedElements[n.Data] {
			return
		}
		switch n.Data {
		case "title":
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				collectText(c, &sb)
			}
			b.title = strings.TrimSpace(sb.String())
			return
		case "table":
			b.kvChunks = append(b.kvChunks, extractTableRows(n)...)
			return
		case "dl":
			b.kvChunks = append(b.kvChunks, extractDefinitionList(n)...)
			return
		case "li":
			if kv, ok := splitKVText(textOf(n)); ok {
				b.kvChunks = append(b.kvChunks, Chunk{Kind: ChunkKV, Key: kv[0], Value: kv[1]})
				return
			}
		}
		if prefix, ok := headingPrefix[n.Data]; ok {
			b.prose.WriteString("\n\n")
			b.prose.WriteString(prefix)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div":
			b.prose.WriteString("\n\n")
		}
	}
}

// extractTableRows treats a 2-column table (or any row whose first
// cell reads like a label) as a key/value record: spec sheets are
// overwhelmingly rendered this way.
func extractTableRows(table *html.Node) []Chunk {
	var chunks []Chunk
	var rows []*html.Node
	collectByTag(table, "tr", &rows)

	for _, tr := range rows {
		var cells []*html.Node
		collectByTag(tr, "td", &cells)
		if len(cells) == 0 {
			collectByTag(tr, "th", &cells)
		}
		if len(cells) < 2 {
			continue
		}
		key := strings.TrimSpace(textOf(cells[0]))
		value := strings.TrimSpace(textOf(cells[1]))
		if key == "" || value == "" {
			continue
		}
		chunks = append(chunks, Chunk{Kind: ChunkKV, Key: key, Value: value})
	}
	return chunks
}

func extractDefinitionList(dl *html.Node) []Chunk {
	var chunks []Chunk
	var key string
	for c := dl.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "dt":
			key = strings.TrimSpace(textOf(c))
		case "dd":
			value := strings.TrimSpace(textOf(c))
			if key != "" && value != "" {
				chunks = append(chunks, Chunk{Kind: ChunkKV, Key: key, Value: value})
			}
			key = ""
		}
	}
	return chunks
}

func collectByTag(n *html.Node, tag string, out *[]*html.Node) {
	if n.Type == html.ElementNode && n.Data == tag {
		*out = append(*out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectByTag(c, tag, out)
	}
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	collectText(n, &sb)
	return sb.String()
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

// splitKVText recognizes "Label: value" list-item text, the other
// common rendering of spec rows besides tables and definition lists.
func splitKVText(s string) ([2]string, bool) {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, ":")
	if idx <= 0 || idx >= len(s)-1 {
		return [2]string{}, false
	}
	key := strings.TrimSpace(s[:idx])
	value := strings.TrimSpace(s[idx+1:])
	if key == "" || value == "" || len(key) > 60 {
		return [2]string{}, false
	}
	return [2]string{key, value}, true
}

func cleanText(s string) string {
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// splitProse breaks cleaned prose into paragraph-sized chunks so
// each one is independently retrievable, rather than storing an
// entire page as a single oversized snippet.
func splitProse(text string) []Chunk {
	if text == "" {
		return nil
	}
	paras := strings.Split(text, "\n\n")
	chunks := make([]Chunk, 0, len(paras))
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		chunks = append(chunks, Chunk{Kind: ChunkProse, Text: p})
	}
	return chunks
}
