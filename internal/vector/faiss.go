//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/google/uuid"

	"github.com/hyperjump/kensaku/pkg/utils"
)

// FAISSIndex is a vector index backed by a FAISS IndexFlatIP (exact inner
// product). FAISS labels are positions, so ID = baseID + label.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	baseID     uint64
	mu         sync.RWMutex
}

// faissMeta is the sidecar persisted next to the FAISS index file.
type faissMeta struct {
	Dimensions int    `json:"dimensions"`
	BaseID     uint64 `json:"base_id"`
	Count      int64  `json:"count"`
}

// NewFAISSIndex creates a FAISS index with the given dimension using inner product.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	index, err := newFlatIP(dimensions)
	if err != nil {
		return nil, err
	}
	return &FAISSIndex{index: index, dimensions: dimensions}, nil
}

func newFlatIP(dimensions int) (*C.FaissIndex, error) {
	var index *C.FaissIndexFlatIP
	if ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions)); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return (*C.FaissIndex)(unsafe.Pointer(index)), nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Add appends vectors and returns the ID of the first one.
func (f *FAISSIndex) Add(ctx context.Context, vectors [][]float32) (uint64, error) {
	n := len(vectors)
	flat := make([]float32, n*f.dimensions)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return 0, fmt.Errorf("vector %d dimension mismatch: got %d, expected %d", i, len(vec), f.dimensions)
		}
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], vec)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	first := f.baseID + uint64(C.faiss_Index_ntotal(f.index))
	if n == 0 {
		return first, nil
	}
	ret := C.faiss_Index_add(f.index, C.idx_t(n), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return 0, fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	return first, nil
}

// Search returns the top-k vectors by inner product (assumes normalized vectors = cosine similarity).
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	ntotal := int(C.faiss_Index_ntotal(f.index))
	if k <= 0 || ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}

	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]*VectorResult, 0, k)
	for i := 0; i < k; i++ {
		if labels[i] < 0 {
			continue
		}
		results = append(results, &VectorResult{
			ID:    f.baseID + uint64(labels[i]),
			Score: float64(distances[i]),
		})
	}
	// FAISS does not define the order of equal scores.
	sortResults(results)
	return results, nil
}

// Reset replaces the index with an empty one whose first ID is baseID.
func (f *FAISSIndex) Reset(baseID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fresh, err := newFlatIP(f.dimensions)
	if err != nil {
		// Allocation failure leaves the old vectors in place; reset them in-place instead.
		C.faiss_Index_reset(f.index)
		f.baseID = baseID
		return
	}
	C.faiss_Index_free(f.index)
	f.index = fresh
	f.baseID = baseID
}

// Truncate keeps the first size vectors by reconstructing them into a fresh
// flat index.
func (f *FAISSIndex) Truncate(size int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if size < 0 || size > ntotal {
		return fmt.Errorf("truncate to %d: index holds %d vectors", size, ntotal)
	}
	if size == ntotal {
		return nil
	}
	fresh, err := newFlatIP(f.dimensions)
	if err != nil {
		return err
	}
	if size > 0 {
		kept := make([]float32, size*f.dimensions)
		if ret := C.faiss_Index_reconstruct_n(f.index, 0, C.idx_t(size), (*C.float)(unsafe.Pointer(&kept[0]))); ret != 0 {
			C.faiss_Index_free(fresh)
			return fmt.Errorf("reconstruct FAISS vectors: %s", faissLastError())
		}
		if ret := C.faiss_Index_add(fresh, C.idx_t(size), (*C.float)(unsafe.Pointer(&kept[0]))); ret != 0 {
			C.faiss_Index_free(fresh)
			return fmt.Errorf("refill FAISS index: %s", faissLastError())
		}
	}
	C.faiss_Index_free(f.index)
	f.index = fresh
	return nil
}

// Save writes path+".faiss" and the path+".faiss.meta" sidecar, each via
// temp file and rename.
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	final := path + ".faiss"
	tmp := final + ".tmp-" + uuid.NewString()
	cPath := C.CString(tmp)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		os.Remove(tmp)
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize FAISS index: %w", err)
	}

	meta := faissMeta{
		Dimensions: f.dimensions,
		BaseID:     f.baseID,
		Count:      int64(C.faiss_Index_ntotal(f.index)),
	}
	return utils.WriteFileAtomic(path+".faiss.meta", 0644, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(meta)
	})
}

// Load reads the index from path. Missing files leave the index unchanged;
// inconsistent files wrap ErrCorrupt.
func (f *FAISSIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	faissPath := path + ".faiss"
	metaPath := path + ".faiss.meta"

	metaBytes, metaErr := os.ReadFile(metaPath)
	_, statErr := os.Stat(faissPath)
	if os.IsNotExist(metaErr) && os.IsNotExist(statErr) {
		return nil
	}
	if metaErr != nil || statErr != nil {
		return fmt.Errorf("%w: FAISS index and sidecar do not both exist", ErrCorrupt)
	}
	var meta faissMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return fmt.Errorf("%w: decode sidecar: %v", ErrCorrupt, err)
	}
	if meta.Dimensions != f.dimensions {
		return fmt.Errorf("%w: dimension mismatch: file has %d, index expects %d", ErrCorrupt, meta.Dimensions, f.dimensions)
	}

	cPath := C.CString(faissPath)
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("%w: %s", ErrCorrupt, faissLastError())
	}
	if int64(C.faiss_Index_ntotal(loaded)) != meta.Count || int(C.faiss_Index_d(loaded)) != f.dimensions {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("%w: sidecar does not match index", ErrCorrupt)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	f.baseID = meta.BaseID
	return nil
}

// Size returns the number of vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(C.faiss_Index_ntotal(f.index))
}

// BaseID returns the ID of the first vector.
func (f *FAISSIndex) BaseID() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.baseID
}

// NextID returns the ID the next added vector will receive.
func (f *FAISSIndex) NextID() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.baseID + uint64(C.faiss_Index_ntotal(f.index))
}

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
