package ann

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"
)

// flatIndex is an exact brute-force inner-product index used for shards
// below IVFPQThreshold, where training overhead isn't worth it.
type flatIndex struct {
	dims    int
	ids     []int64
	vectors [][]float32
}

func newFlatIndex(dims int) *flatIndex {
	return &flatIndex{dims: dims}
}

// Train is a no-op: the flat index needs no training.
func (f *flatIndex) Train(vectors [][]float32) error { return nil }

func (f *flatIndex) Add(ids []int64, vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != f.dims {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(v), f.dims)
		}
	}
	f.ids = append(f.ids, ids...)
	f.vectors = append(f.vectors, vectors...)
	return nil
}

func (f *flatIndex) Search(query []float32, k int) ([]int64, []float32, error) {
	if len(query) != f.dims {
		return nil, nil, fmt.Errorf("query dimension mismatch: got %d, want %d", len(query), f.dims)
	}

	type scored struct {
		id    int64
		score float32
	}
	hits := make([]scored, len(f.vectors))
	for i, v := range f.vectors {
		hits[i] = scored{id: f.ids[i], score: innerProduct(query, v)}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if k > len(hits) {
		k = len(hits)
	}

	ids := make([]int64, k)
	scores := make([]float32, k)
	for i := 0; i < k; i++ {
		ids[i] = hits[i].id
		scores[i] = hits[i].score
	}
	return ids, scores, nil
}

func (f *flatIndex) Trained() bool { return true }

func (f *flatIndex) Close() error { return nil }

type flatPersisted struct {
	Dims    int
	IDs     []int64
	Vectors [][]float32
}

func (f *flatIndex) Save(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create flat index file: %w", err)
	}
	enc := gob.NewEncoder(file)
	if err := enc.Encode(flatPersisted{Dims: f.dims, IDs: f.ids, Vectors: f.vectors}); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode flat index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close flat index file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

func (f *flatIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open flat index file: %w", err)
	}
	defer file.Close()

	var p flatPersisted
	if err := gob.NewDecoder(file).Decode(&p); err != nil {
		return fmt.Errorf("decode flat index: %w", err)
	}
	f.dims = p.Dims
	f.ids = p.IDs
	f.vectors = p.Vectors
	return nil
}

// innerProduct computes the dot product of two equal-length vectors,
// which equals cosine similarity when both are L2-normalized.
func innerProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
