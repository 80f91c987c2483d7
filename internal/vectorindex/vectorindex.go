// Package vectorindex implements one flat inner-product vector index per
// (tenant, namespace, embedding_version). No FAISS cgo binding is
// available to a pure-Go module, so a full inner-product scan over
// L2-normalized vectors with sequential positional ids is implemented
// directly in Go: a plain [][]float32 matrix plus an ntotal/dim pair.
package vectorindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"ragindex/internal/apperr"
)

// Index is one flat inner-product vector index. All vectors are assumed
// L2-normalized on entry, so inner product equals cosine similarity.
type Index struct {
	mu      sync.RWMutex
	dim     int
	vectors [][]float32
}

// New returns an empty index of the given dimension.
func New(dim int) *Index {
	return &Index{dim: dim}
}

func (ix *Index) Dim() int { return ix.dim }

// Ntotal is the current vector count, and the next faiss_id that Add
// will assign.
func (ix *Index) Ntotal() int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return int64(len(ix.vectors))
}

// Add appends vectors and returns the sequential faiss_ids assigned to
// them, starting at the index's prior ntotal. All adds in one call land
// in a single contiguous range.
func (ix *Index) Add(vectors [][]float32) ([]int64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ids := make([]int64, len(vectors))
	base := int64(len(ix.vectors))
	for i, v := range vectors {
		if len(v) != ix.dim {
			return nil, apperr.Validationf("vectorindex.add", "vector %d has dimension %d, want %d", i, len(v), ix.dim)
		}
		ix.vectors = append(ix.vectors, v)
		ids[i] = base + int64(i)
	}
	return ids, nil
}

// Hit is one nearest-neighbour result.
type Hit struct {
	FaissID int64
	Score   float32
}

// Search returns the k nearest neighbours to query by descending inner
// product. k is clamped to ntotal: a top_k larger than the index just
// returns every vector it holds.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(query) != ix.dim {
		return nil, apperr.Validationf("vectorindex.search", "query has dimension %d, want %d", len(query), ix.dim)
	}
	if k <= 0 || len(ix.vectors) == 0 {
		return nil, nil
	}
	if k > len(ix.vectors) {
		k = len(ix.vectors)
	}

	hits := make([]Hit, len(ix.vectors))
	for i, v := range ix.vectors {
		hits[i] = Hit{FaissID: int64(i), Score: dot(query, v)}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits[:k], nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Normalize L2-normalizes v in place, the precondition every caller must
// satisfy before Add/Search.
func Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}

const magic = "RIDX1\n"

// Save atomically persists the index to path: write to a sibling temp
// file, fsync, then os.Rename over the destination.
func Save(ix *Index, path string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vectorindex-*.tmp")
	if err != nil {
		return apperr.Fatal("vectorindex.save", fmt.Errorf("create temp: %w", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	if err := writeIndex(w, ix); err != nil {
		tmp.Close()
		return apperr.Fatal("vectorindex.save", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return apperr.Fatal("vectorindex.save", fmt.Errorf("flush: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.Fatal("vectorindex.save", fmt.Errorf("fsync: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return apperr.Fatal("vectorindex.save", fmt.Errorf("close: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apperr.Fatal("vectorindex.save", fmt.Errorf("rename: %w", err))
	}
	return nil
}

func writeIndex(w *bufio.Writer, ix *Index) error {
	if _, err := w.WriteString(magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int64(ix.dim)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int64(len(ix.vectors))); err != nil {
		return err
	}
	for _, v := range ix.vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

// Load reads an index previously written by Save. A missing file is
// treated as an empty index of the given dimension, not an error.
func Load(path string, dim int) (*Index, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(dim), nil
	}
	if err != nil {
		return nil, apperr.Fatal("vectorindex.load", fmt.Errorf("open: %w", err))
	}
	defer f.Close()

	r := bufio.NewReader(f)
	hdr := make([]byte, len(magic))
	if _, err := readFull(r, hdr); err != nil {
		return nil, apperr.Fatal("vectorindex.load", fmt.Errorf("read magic: %w", err))
	}
	if string(hdr) != magic {
		return nil, apperr.Fatal("vectorindex.load", fmt.Errorf("%s: bad magic, index file is unreadable", path))
	}

	var fileDim, n int64
	if err := binary.Read(r, binary.LittleEndian, &fileDim); err != nil {
		return nil, apperr.Fatal("vectorindex.load", fmt.Errorf("read dim: %w", err))
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, apperr.Fatal("vectorindex.load", fmt.Errorf("read ntotal: %w", err))
	}

	ix := New(int(fileDim))
	ix.vectors = make([][]float32, n)
	for i := int64(0); i < n; i++ {
		v := make([]float32, fileDim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, apperr.Fatal("vectorindex.load", fmt.Errorf("read vector %d: %w", i, err))
		}
		ix.vectors[i] = v
	}
	return ix, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
