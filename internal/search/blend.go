// Package search dispatches queries to the retrieval backends and fuses
// keyword and vector rankings into one hybrid ranking.
package search

import (
	"cmp"
	"slices"

	"github.com/Aman-CERP/docsearch/internal/index"
)

// blended holds intermediate fusion state for one chunk.
type blended struct {
	result   index.Result
	keyword  float64
	vector   float64
	combined float64
}

// Blend linearly combines keyword and vector results:
//
//	combined = keywordWeight*keyword_score + vectorWeight*vector_score
//
// A chunk missing from one list scores 0 on that side. Component scales
// are not normalized. Results are sorted by combined score with a stable
// sort, so ties keep first-seen order (keyword list, then vector-only
// chunks in vector order), and truncated to topK.
func Blend(keyword, vector []index.Result, keywordWeight, vectorWeight float64, topK int) []index.Result {
	if topK <= 0 || (len(keyword) == 0 && len(vector) == 0) {
		return []index.Result{}
	}

	byID := make(map[string]*blended, len(keyword)+len(vector))
	order := make([]*blended, 0, len(keyword)+len(vector))

	entry := func(r index.Result) *blended {
		if b, ok := byID[r.Chunk.ID]; ok {
			return b
		}
		b := &blended{result: r}
		byID[r.Chunk.ID] = b
		order = append(order, b)
		return b
	}

	seen := make(map[string]bool, len(keyword))
	for _, r := range keyword {
		if seen[r.Chunk.ID] {
			continue
		}
		seen[r.Chunk.ID] = true
		entry(r).keyword = r.Score
	}
	clear(seen)
	for _, r := range vector {
		if seen[r.Chunk.ID] {
			continue
		}
		seen[r.Chunk.ID] = true
		entry(r).vector = r.Score
	}

	for _, b := range order {
		b.combined = keywordWeight*b.keyword + vectorWeight*b.vector
	}
	slices.SortStableFunc(order, func(a, b *blended) int {
		return cmp.Compare(b.combined, a.combined)
	})
	if len(order) > topK {
		order = order[:topK]
	}

	results := make([]index.Result, 0, len(order))
	for _, b := range order {
		meta := map[string]any{
			index.MetaBackend:       index.ModeHybrid.Backend(),
			index.MetaCombined:      true,
			index.MetaKeywordScore:  b.keyword,
			index.MetaVectorScore:   b.vector,
			index.MetaKeywordWeight: keywordWeight,
			index.MetaVectorWeight:  vectorWeight,
		}
		if terms, ok := b.result.Metadata[index.MetaMatchedTerms]; ok {
			meta[index.MetaMatchedTerms] = terms
		}
		results = append(results, index.Result{
			Chunk:    b.result.Chunk,
			Score:    b.combined,
			Metadata: meta,
		})
	}
	return results
}
