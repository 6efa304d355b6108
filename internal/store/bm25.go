package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

const shardFieldName = "shardId"
const textFieldName = "text"

// bleveDoc is the document shape indexed into bleve. Text is indexed but
// not stored (Store: false in the mapping) so the index stays contentless;
// the source of truth for a leaf's text lives in the metadata store's
// leaf_text side table.
type bleveDoc struct {
	Text    string `json:"text"`
	ShardID string `json:"shardId"`
}

// ProseBM25Index wraps bleve for BM25 keyword search over leaf text.
// Unlike the teacher's code-aware BleveBM25Index, this uses bleve's
// default standard analyzer (word-boundary tokenization + lowercase +
// English stopwords) since vault content is Markdown prose, not source
// code — no camelCase/snake_case splitting is useful here.
type ProseBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ Bm25Index = (*ProseBM25Index)(nil)

func buildIndexMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Store = false
	textField.IncludeInAll = false

	shardField := bleve.NewTextFieldMapping()
	shardField.Index = true
	shardField.Store = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(textFieldName, textField)
	docMapping.AddFieldMappingsAt(shardFieldName, shardField)

	m.DefaultMapping = docMapping
	return m
}

// NewProseBM25Index opens or creates a prose BM25 index at path (in-memory
// if path is empty).
func NewProseBM25Index(path string) (*ProseBM25Index, error) {
	indexMapping := buildIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if dir := filepath.Dir(path); dir != "" {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create bm25 index dir: %w", mkErr)
			}
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open bm25 index: %w", err)
	}

	return &ProseBM25Index{index: idx, path: path}, nil
}

func (p *ProseBM25Index) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("bm25 index is closed")
	}

	batch := p.index.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.LeafID, bleveDoc{Text: d.Text, ShardID: strconv.FormatUint(uint64(d.ShardID), 10)}); err != nil {
			return fmt.Errorf("index leaf %s: %w", d.LeafID, err)
		}
	}
	if err := p.index.Batch(batch); err != nil {
		return fmt.Errorf("execute bm25 batch: %w", err)
	}
	return nil
}

func (p *ProseBM25Index) Delete(ctx context.Context, leafIDs []string) error {
	if len(leafIDs) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("bm25 index is closed")
	}

	batch := p.index.NewBatch()
	for _, id := range leafIDs {
		batch.Delete(id)
	}
	if err := p.index.Batch(batch); err != nil {
		return fmt.Errorf("delete from bm25 index: %w", err)
	}
	return nil
}

// buildQuery splits q on whitespace, strips quote characters, and forms an
// OR (disjunction) of the non-empty terms against the text field, per
// spec.md §4.10.
func buildQuery(q string, shardIDs []uint32) query.Query {
	fields := strings.Fields(strings.NewReplacer(`"`, "", "'", "").Replace(q))

	disjuncts := make([]query.Query, 0, len(fields))
	for _, term := range fields {
		mq := bleve.NewMatchQuery(term)
		mq.SetField(textFieldName)
		disjuncts = append(disjuncts, mq)
	}
	termQuery := bleve.NewDisjunctionQuery(disjuncts...)

	if len(shardIDs) == 0 {
		return termQuery
	}

	shardDisjuncts := make([]query.Query, 0, len(shardIDs))
	for _, s := range shardIDs {
		tq := bleve.NewTermQuery(strconv.FormatUint(uint64(s), 10))
		tq.SetField(shardFieldName)
		shardDisjuncts = append(shardDisjuncts, tq)
	}
	shardQuery := bleve.NewDisjunctionQuery(shardDisjuncts...)

	return bleve.NewConjunctionQuery(termQuery, shardQuery)
}

func (p *ProseBM25Index) search(ctx context.Context, q string, shardIDs []uint32, limit int) ([]BM25Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, fmt.Errorf("bm25 index is closed")
	}

	if strings.TrimSpace(q) == "" {
		return nil, nil
	}

	query := buildQuery(q, shardIDs)
	req := bleve.NewSearchRequest(query)
	req.Size = limit

	result, err := p.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	hits := make([]BM25Result, 0, len(result.Hits))
	var maxAbs float64
	for _, hit := range result.Hits {
		abs := math.Abs(hit.Score)
		if abs > maxAbs {
			maxAbs = abs
		}
		hits = append(hits, BM25Result{LeafID: hit.ID, RawRank: hit.Score})
	}

	if maxAbs > 0 {
		for i := range hits {
			hits[i].NormalizedScore = math.Abs(hits[i].RawRank) / maxAbs
		}
	}

	return hits, nil
}

func (p *ProseBM25Index) Search(ctx context.Context, q string, limit int) ([]BM25Result, error) {
	return p.search(ctx, q, nil, limit)
}

func (p *ProseBM25Index) SearchInShards(ctx context.Context, q string, shardIDs []uint32, limit int) ([]BM25Result, error) {
	return p.search(ctx, q, shardIDs, limit)
}

func (p *ProseBM25Index) AllIDs() ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, fmt.Errorf("bm25 index is closed")
	}

	count, err := p.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count bm25 docs: %w", err)
	}

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	req.Fields = nil

	result, err := p.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("list bm25 ids: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// Save is a no-op: bleve persists disk-backed indexes automatically.
func (p *ProseBM25Index) Save(path string) error { return nil }

func (p *ProseBM25Index) Load(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.index != nil && !p.closed {
		_ = p.index.Close()
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return fmt.Errorf("load bm25 index: %w", err)
	}
	p.index = idx
	p.path = path
	p.closed = false
	return nil
}

func (p *ProseBM25Index) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.index != nil {
		return p.index.Close()
	}
	return nil
}
