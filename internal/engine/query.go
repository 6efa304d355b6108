package engine

import (
	"context"
	"strconv"
	"time"

	msrlerrors "github.com/Aman-CERP/msrl/internal/errors"
	"github.com/Aman-CERP/msrl/internal/search"
)

// Query runs one retrieval, validating topK and maxExcerptChars ranges
// and failing with NOT_INDEXED if no snapshot is loaded. Per spec.md
// §4.15, query(params) also "validates... non-empty query"; the pipeline
// itself already treats an empty query as a zero-result, non-error case
// (invariant #12 in spec.md §8), so Query does not reject an empty
// string here — it only range-checks the two numeric parameters, which
// is the only validation invariant #12 leaves room for.
func (e *Engine) Query(ctx context.Context, params QueryParams) (QueryResult, error) {
	cur := e.active.Load()
	if cur == nil {
		return QueryResult{}, msrlerrors.NotIndexed()
	}

	topK := params.TopK
	if topK == 0 {
		topK = e.cfg.Retrieval.DefaultTopK
	}
	if topK < 1 || topK > e.cfg.Retrieval.MaxTopK {
		return QueryResult{}, msrlerrors.InvalidArgument("topK", strconv.Itoa(topK), "must be in [1, maxTopK]")
	}

	maxExcerptChars := params.MaxExcerptChars
	if maxExcerptChars == 0 {
		maxExcerptChars = e.cfg.Retrieval.DefaultMaxExcerptChars
	}
	if maxExcerptChars < 200 || maxExcerptChars > e.cfg.Retrieval.MaxMaxExcerptChars {
		return QueryResult{}, msrlerrors.InvalidArgument("maxExcerptChars", strconv.Itoa(maxExcerptChars), "must be in [200, maxMaxExcerptChars]")
	}

	// A fresh ExcerptExtractor is built per request so maxExcerptChars can
	// be a per-query parameter: the pipeline's shared Excerpts field is a
	// single long-lived value, but the spec requires this knob to vary
	// per call. The tradeoff is that each query reads excerpt files
	// without benefiting from another query's file-read cache.
	pipeline := *cur.pipeline
	pipeline.Excerpts = search.NewExcerptExtractor(maxExcerptChars)

	resp, err := pipeline.Query(ctx, search.QueryRequest{
		Query:  params.Query,
		Limit:  topK,
		Filter: params.Filters,
	})
	if err != nil {
		return QueryResult{}, msrlerrors.Internal(err)
	}

	results := make([]SearchResult, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = SearchResult{
			DocURI:           r.DocURI,
			HeadingPath:      r.HeadingPath,
			StartChar:        r.StartChar,
			EndChar:          r.EndChar,
			Excerpt:          r.Excerpt,
			ExcerptTruncated: r.Truncated,
			Score:            r.Score,
		}
	}

	out := QueryResult{Results: results, TookMs: resp.Meta.TookMs}
	if params.IncludeShardsSearched {
		n := resp.Meta.ShardsSearched
		out.ShardsSearched = &n
	}

	e.recordQuery(params.Query, len(results), time.Duration(resp.Meta.TookMs)*time.Millisecond)

	return out, nil
}
