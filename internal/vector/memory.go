package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/kensaku/pkg/utils"
)

const (
	memoryIndexMagic   = "KSVI"
	memoryIndexVersion = 1
	// magic(4) version(4) dim(4) base(8) count(8)
	memoryHeaderSize = 28
)

// MemoryIndex is an in-memory vector index using exact brute-force inner product search.
type MemoryIndex struct {
	dimensions int
	baseID     uint64
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Add appends copies of vectors. Either all vectors are added or none are.
func (m *MemoryIndex) Add(ctx context.Context, vectors [][]float32) (uint64, error) {
	for i, vec := range vectors {
		if len(vec) != m.dimensions {
			return 0, fmt.Errorf("vector %d dimension mismatch: got %d, expected %d", i, len(vec), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	first := m.baseID + uint64(len(m.vectors))
	for _, v := range vectors {
		vec := make([]float32, m.dimensions)
		copy(vec, v)
		m.vectors = append(m.vectors, vec)
	}
	return first, nil
}

// Search returns the top-k vectors by inner product (assumes normalized vectors = cosine similarity).
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.vectors) == 0 {
		return nil, nil
	}
	scores := make([]*VectorResult, len(m.vectors))
	for i, vec := range m.vectors {
		scores[i] = &VectorResult{ID: m.baseID + uint64(i), Score: InnerProduct(query, vec)}
	}
	sortResults(scores)
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Reset drops all vectors; the next Add assigns baseID.
func (m *MemoryIndex) Reset(baseID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseID = baseID
	m.vectors = make([][]float32, 0)
}

// Truncate keeps the first size vectors.
func (m *MemoryIndex) Truncate(size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size < 0 || size > len(m.vectors) {
		return fmt.Errorf("truncate to %d: index holds %d vectors", size, len(m.vectors))
	}
	m.vectors = m.vectors[:size:size]
	return nil
}

// Save persists the index to path+".bin" atomically. Format (little endian):
// magic "KSVI", version, dimension, base ID, count, count*dimension float32
// values, then a CRC32 of everything before it.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	file := memoryIndexFile(path)
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	return utils.WriteFileAtomic(file, 0644, func(w io.Writer) error {
		crc := crc32.NewIEEE()
		out := io.MultiWriter(w, crc)

		header := make([]byte, memoryHeaderSize)
		copy(header[0:4], memoryIndexMagic)
		binary.LittleEndian.PutUint32(header[4:8], memoryIndexVersion)
		binary.LittleEndian.PutUint32(header[8:12], uint32(m.dimensions))
		binary.LittleEndian.PutUint64(header[12:20], m.baseID)
		binary.LittleEndian.PutUint64(header[20:28], uint64(len(m.vectors)))
		if _, err := out.Write(header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, vec := range m.vectors {
			if _, err := out.Write(float32SliceToBytes(vec)); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
		var sum [4]byte
		binary.LittleEndian.PutUint32(sum[:], crc.Sum32())
		if _, err := w.Write(sum[:]); err != nil {
			return fmt.Errorf("write checksum: %w", err)
		}
		return nil
	})
}

// Load reads the index from path+".bin" and replaces the in-memory contents.
// If the file does not exist, no error is returned and the index is unchanged.
// Validation failures wrap ErrCorrupt.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(memoryIndexFile(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read index file: %w", err)
	}
	if len(data) < memoryHeaderSize+4 || string(data[0:4]) != memoryIndexMagic {
		return fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	body := len(data) - 4
	if crc32.ChecksumIEEE(data[:body]) != binary.LittleEndian.Uint32(data[body:]) {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != memoryIndexVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	if dim != m.dimensions {
		return fmt.Errorf("%w: dimension mismatch: file has %d, index expects %d", ErrCorrupt, dim, m.dimensions)
	}
	base := binary.LittleEndian.Uint64(data[12:20])
	n := binary.LittleEndian.Uint64(data[20:28])
	stride := uint64(dim) * 4
	if uint64(body-memoryHeaderSize) != n*stride {
		return fmt.Errorf("%w: expected %d vectors", ErrCorrupt, n)
	}

	vectors := make([][]float32, n)
	off := uint64(memoryHeaderSize)
	for i := range vectors {
		vectors[i] = bytesToFloat32Slice(data[off : off+stride])
		off += stride
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseID = base
	m.vectors = vectors
	return nil
}

func memoryIndexFile(path string) string {
	return path + ".bin"
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// BaseID returns the ID of the first vector.
func (m *MemoryIndex) BaseID() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.baseID
}

// NextID returns the ID the next added vector will receive.
func (m *MemoryIndex) NextID() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.baseID + uint64(len(m.vectors))
}

// Dimensions returns the vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
