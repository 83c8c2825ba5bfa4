package embedding

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyKind separates cache namespaces for corpus and query embeddings.
type KeyKind string

const (
	KindCorpus KeyKind = "corpus"
	KindQuery  KeyKind = "query"
)

// CacheKey derives the cache key for text embedded by modelID on behalf of tenantID.
func CacheKey(kind KeyKind, modelID, tenantID, text string) string {
	h := sha256.New()
	for _, part := range []string{string(kind), modelID, tenantID, text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
