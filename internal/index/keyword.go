package index

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/config"
)

// posting records a term's frequency in one chunk.
type posting struct {
	doc int // Chunk position
	tf  int
}

// Keyword ranks chunks with BM25 over an in-memory inverted index.
//
// Corpus statistics (average document length, IDF) are recomputed lazily
// on the first search after an ingestion, not per added chunk.
type Keyword struct {
	base
	analyzer *Analyzer

	postings map[string][]posting
	docLen   []int
	totalLen int

	dirty bool
	avgDL float64
	idf   map[string]float64
}

var _ Index = (*Keyword)(nil)

// NewKeyword creates an empty BM25 index.
func NewKeyword(opts config.Options, options ...Option) (*Keyword, error) {
	b, err := newBase(ModeKeyword, opts, newSettings(options))
	if err != nil {
		return nil, err
	}
	return newKeywordFromBase(b), nil
}

func newKeywordFromBase(b base) *Keyword {
	return &Keyword{
		base:     b,
		analyzer: NewAnalyzer(),
		postings: make(map[string][]posting),
		idf:      make(map[string]float64),
	}
}

// AddChunks tokenizes each chunk into the inverted index.
func (k *Keyword) AddChunks(ctx context.Context, chunks []chunk.Chunk, progress ProgressFunc) error {
	if err := k.checkBatch(chunks); err != nil {
		return err
	}
	for i, c := range chunks {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		k.ingest(c)
		k.notify(progress, c.ID)
	}
	k.metrics.AddChunks(k.mode.Backend(), len(chunks))
	k.logger.Debug("chunks_ingested",
		slog.Int("count", len(chunks)),
		slog.Int("total", len(k.chunks)),
		slog.Int("terms", len(k.postings)))
	return nil
}

func (k *Keyword) ingest(c chunk.Chunk) {
	k.indexTerms(k.appendChunk(c), c.Text)
}

// reindex rebuilds postings for chunks restored from disk.
func (k *Keyword) reindex() {
	for i, c := range k.chunks {
		k.indexTerms(i, c.Text)
	}
}

func (k *Keyword) indexTerms(doc int, text string) {
	terms := k.analyzer.Terms(text)
	freqs := make(map[string]int, len(terms))
	order := make([]string, 0, len(terms))
	for _, t := range terms {
		if freqs[t] == 0 {
			order = append(order, t)
		}
		freqs[t]++
	}
	for _, t := range order {
		k.postings[t] = append(k.postings[t], posting{doc: doc, tf: freqs[t]})
	}

	k.docLen = append(k.docLen, len(terms))
	k.totalLen += len(terms)
	k.dirty = true
}

// refresh recomputes corpus statistics if chunks were added since the last search.
func (k *Keyword) refresh() {
	if !k.dirty {
		return
	}
	if n := len(k.docLen); n > 0 {
		k.avgDL = float64(k.totalLen) / float64(n)
	}
	clear(k.idf)
	k.dirty = false
}

// IDF returns the smoothed inverse document frequency
// ln(1 + (N - df + 0.5) / (df + 0.5)), which is always positive.
func (k *Keyword) IDF(term string) float64 {
	k.refresh()
	if v, ok := k.idf[term]; ok {
		return v
	}
	n := float64(len(k.docLen))
	df := float64(len(k.postings[term]))
	v := math.Log(1 + (n-df+0.5)/(df+0.5))
	k.idf[term] = v
	return v
}

type keywordHit struct {
	doc     int
	score   float64
	matched int
}

// Search scores every chunk containing at least one query term.
// Repeated query terms count once. Ties keep insertion order.
func (k *Keyword) Search(ctx context.Context, q Query, topK int) ([]Result, error) {
	if q.Blank() || topK <= 0 || len(k.chunks) == 0 {
		return []Result{}, nil
	}
	k.refresh()

	k1, b := k.opts.BM25K1, k.opts.BM25B
	hits := make(map[int]*keywordHit)

	for _, term := range uniqueTerms(k.analyzer.Terms(q.Text)) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		plist := k.postings[term]
		if len(plist) == 0 {
			continue
		}
		idf := k.IDF(term)
		for _, p := range plist {
			if !q.Matches(k.chunks[p.doc]) {
				continue
			}
			tf := float64(p.tf)
			norm := 1 - b
			if k.avgDL > 0 {
				norm += b * float64(k.docLen[p.doc]) / k.avgDL
			}
			s := idf * (tf * (k1 + 1)) / (tf + k1*norm)

			h := hits[p.doc]
			if h == nil {
				h = &keywordHit{doc: p.doc}
				hits[p.doc] = h
			}
			h.score += s
			h.matched++
		}
	}

	ranked := make([]*keywordHit, 0, len(hits))
	for _, h := range hits {
		ranked = append(ranked, h)
	}
	// Insertion order first so the stable score sort breaks ties by it
	slices.SortFunc(ranked, func(a, b *keywordHit) int { return cmp.Compare(a.doc, b.doc) })
	slices.SortStableFunc(ranked, func(a, b *keywordHit) int { return cmp.Compare(b.score, a.score) })

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	results := make([]Result, 0, len(ranked))
	for _, h := range ranked {
		results = append(results, Result{
			Chunk: k.chunks[h.doc],
			Score: h.score,
			Metadata: map[string]any{
				MetaBackend:      k.mode.Backend(),
				MetaRawScore:     h.score,
				MetaMatchedTerms: h.matched,
			},
		})
	}
	return results, nil
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Save replaces dir with the keyword index.
func (k *Keyword) Save(dir string) error {
	return Persist(dir, k.WriteDir)
}

// WriteDir writes chunks.jsonl and manifest.json into dir. Postings are
// rebuilt from the chunk text on load.
func (k *Keyword) WriteDir(dir string) error {
	return k.writeCommon(dir, map[string]any{
		"analyzer":     "unicode+lowercase",
		"term_count":   len(k.postings),
		"total_tokens": k.totalLen,
	})
}
