package ann

import (
	"fmt"

	faiss "github.com/blevesearch/go-faiss"
)

// ivfpqIndex is the trained IVFPQ backend used once a shard crosses
// IVFPQThreshold leaves. nlist is NLists(IVFPQThreshold) for every IVFPQ
// shard; it does not grow with the shard's actual size. m/nbits come from
// Config.
type ivfpqIndex struct {
	cfg   Config
	nlist int
	index *faiss.IndexImpl
}

func newIVFPQIndex(cfg Config) (backend, error) {
	nlist := NLists(IVFPQThreshold)
	description := fmt.Sprintf("IVF%d,PQ%dx%d", nlist, cfg.M, cfg.NBits)
	idx, err := faiss.IndexFactory(cfg.Dimensions, description, faiss.MetricInnerProduct)
	if err != nil {
		return nil, fmt.Errorf("faiss index factory %q: %w", description, err)
	}
	if err := idx.SetNProbe(cfg.NProbe); err != nil {
		return nil, fmt.Errorf("set nprobe: %w", err)
	}
	return &ivfpqIndex{cfg: cfg, nlist: nlist, index: idx}, nil
}

func flatten(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dims := len(vectors[0])
	flat := make([]float32, 0, len(vectors)*dims)
	for _, v := range vectors {
		flat = append(flat, v...)
	}
	return flat
}

func (f *ivfpqIndex) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	if err := f.index.Train(flatten(vectors)); err != nil {
		return fmt.Errorf("train ivfpq index: %w", err)
	}
	return nil
}

func (f *ivfpqIndex) Add(internalIDs []int64, vectors [][]float32) error {
	if !f.Trained() {
		return fmt.Errorf("ivfpq index not trained")
	}
	if err := f.index.AddWithIDs(flatten(vectors), internalIDs); err != nil {
		return fmt.Errorf("add to ivfpq index: %w", err)
	}
	return nil
}

func (f *ivfpqIndex) Search(query []float32, k int) ([]int64, []float32, error) {
	scores, ids, err := f.index.Search(query, int64(k))
	if err != nil {
		return nil, nil, fmt.Errorf("search ivfpq index: %w", err)
	}
	return ids, scores, nil
}

func (f *ivfpqIndex) Trained() bool {
	return f.index.IsTrained()
}

func (f *ivfpqIndex) Save(path string) error {
	if err := faiss.WriteIndex(f.index, path); err != nil {
		return fmt.Errorf("write ivfpq index: %w", err)
	}
	return nil
}

func (f *ivfpqIndex) Load(path string) error {
	idx, err := faiss.ReadIndex(path, faiss.IOFlagReadOnly)
	if err != nil {
		return fmt.Errorf("read ivfpq index: %w", err)
	}
	f.index = idx
	if err := f.index.SetNProbe(f.cfg.NProbe); err != nil {
		return fmt.Errorf("set nprobe after load: %w", err)
	}
	return nil
}

func (f *ivfpqIndex) Close() error {
	if f.index == nil {
		return nil
	}
	f.index.Close()
	return nil
}
