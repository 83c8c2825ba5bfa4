package vector

import (
	"fmt"
	"strings"
)

// IndexType names a VectorIndex implementation.
type IndexType string

const (
	// IndexTypeMemory is exact brute-force search held in memory.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS is a FAISS flat inner-product index. Needs -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// IndexTypes lists every index type in configuration order.
var IndexTypes = []IndexType{IndexTypeMemory, IndexTypeFAISS}

// ParseIndexType resolves a configured name. Empty selects memory.
func ParseIndexType(name string) (IndexType, error) {
	switch t := IndexType(strings.ToLower(strings.TrimSpace(name))); t {
	case "":
		return IndexTypeMemory, nil
	case IndexTypeMemory, IndexTypeFAISS:
		return t, nil
	default:
		return "", fmt.Errorf("unknown index type %q (supported: %s)", name, joinTypes())
	}
}

// NewVectorIndex builds an empty index of the named type.
func NewVectorIndex(name string, dimensions int) (VectorIndex, error) {
	t, err := ParseIndexType(name)
	if err != nil {
		return nil, err
	}
	if t == IndexTypeFAISS {
		idx, err := NewFAISSIndex(dimensions)
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
	idx, err := NewMemoryIndex(dimensions)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// IsFAISSAvailable reports whether FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}

func joinTypes() string {
	names := make([]string, len(IndexTypes))
	for i, t := range IndexTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
