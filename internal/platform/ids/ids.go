// Package ids derives the content-addressed identifiers used throughout
// the harvester: doc_id for an indexed document, snippet_id for one
// extracted chunk. Both are deterministic functions of content and
// parser version, so re-ingesting the same page with the same parser
// always yields the same IDs — this is the only place those formulas
// are implemented, so every caller gets byte-identical results.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

func first16(sum [32]byte) string {
	return hex.EncodeToString(sum[:])[:16]
}

// DocumentID derives doc_id from a document's content hash and the
// parser version that produced it.
func DocumentID(contentHash, parserVersion string) string {
	sum := sha256.Sum256([]byte(contentHash + "|" + parserVersion))
	return "doc_" + first16(sum)
}

// SnippetID derives snippet_id from a document's content hash, parser
// version, and the index of the chunk within that document.
func SnippetID(contentHash, parserVersion string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", contentHash, parserVersion, chunkIndex)))
	return "sn_" + first16(sum)
}

// ContentHash hashes raw page bytes into the content_hash used as the
// input to DocumentID/SnippetID.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
