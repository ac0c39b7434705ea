package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
)

const (
	defaultFusionK   = 50 // candidates considered from each leg before fusion (spec §4.4.3)
	defaultTopN      = 10 // hybrid result count before optional rerank
	defaultRerankTopM = 5 // final result count after rerank
	bm25K1           = 1.5
	bm25B            = 0.75
)

// lexicalDoc is one document's precomputed BM25 statistics.
type lexicalDoc struct {
	docID  string
	path   string
	terms  map[string]int
	length int
	header string
}

// Index is the hybrid lexical+vector search index over the knowledge
// store (spec §4.4.3). The lexical half is a hand-rolled BM25 scorer —
// no BM25 library appears anywhere across the retrieved example repos,
// so this is implemented directly on strings/sort rather than importing
// an unfamiliar one. The vector half is backed by chromem-go, a pure-Go
// embedded vector store.
type Index struct {
	mu       sync.RWMutex
	docs     map[string]lexicalDoc // keyed by docID (= store-relative path)
	meta     map[string]Document
	avgLen   float64
	df       map[string]int // document frequency per term

	embedder Embedder
	reranker Reranker
	vecDB    *chromem.DB
	vecCol   *chromem.Collection

	pending map[string]bool // docIDs queued for re-embedding after an embed failure
}

// NewIndex builds an empty Index. embedder and reranker are both optional
// (spec §6); when embedder is nil the index is lexical-only.
func NewIndex(embedder Embedder, reranker Reranker) (*Index, error) {
	idx := &Index{
		docs:     map[string]lexicalDoc{},
		meta:     map[string]Document{},
		df:       map[string]int{},
		embedder: embedder,
		reranker: reranker,
		pending:  map[string]bool{},
	}
	if embedder != nil {
		idx.vecDB = chromem.NewDB()
		col, err := idx.vecDB.CreateCollection("knowledge", nil, nil)
		if err != nil {
			return nil, err
		}
		idx.vecCol = col
	}
	return idx, nil
}

// QueueReindex implements the Reindexer interface Store calls after a
// successful write.
func (idx *Index) QueueReindex(relPath string) {
	idx.mu.Lock()
	idx.pending[relPath] = true
	idx.mu.Unlock()
}

// Pending returns the set of doc IDs queued for reindexing.
func (idx *Index) Pending() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.pending))
	for id := range idx.pending {
		out = append(out, id)
	}
	return out
}

// Put indexes or re-indexes one document: lexically always (spec §4.4.4:
// "Embedding failure during indexing → the document is still indexed
// lexically"), and into the vector collection when an embedder is
// configured.
func (idx *Index) Put(doc Document) error {
	terms := tokenize(doc.Body)
	counts := map[string]int{}
	for _, t := range terms {
		counts[t]++
	}

	idx.mu.Lock()
	if _, existed := idx.docs[doc.Path]; existed {
		idx.removeLocked(doc.Path)
	}
	idx.docs[doc.Path] = lexicalDoc{docID: doc.Path, path: doc.Path, terms: counts, length: len(terms), header: headerText(doc.Header)}
	idx.meta[doc.Path] = doc
	for t := range counts {
		idx.df[t]++
	}
	idx.recomputeAvgLenLocked()
	delete(idx.pending, doc.Path)
	idx.mu.Unlock()

	if idx.embedder != nil {
		vec, err := idx.embedder.Embed(doc.Body)
		if err != nil {
			idx.QueueReindex(doc.Path)
			return nil
		}
		return idx.vecCol.AddDocument(context.Background(), chromem.Document{
			ID:        doc.Path,
			Content:   doc.Body,
			Embedding: vec,
			Metadata:  map[string]string{"platform": doc.Platform, "type": string(doc.Type)},
		})
	}
	return nil
}

// removeLocked removes a previously indexed document's term-frequency
// contribution before it is replaced. Caller holds idx.mu.
func (idx *Index) removeLocked(docID string) {
	old, ok := idx.docs[docID]
	if !ok {
		return
	}
	for t := range old.terms {
		idx.df[t]--
		if idx.df[t] <= 0 {
			delete(idx.df, t)
		}
	}
	delete(idx.docs, docID)
}

func (idx *Index) recomputeAvgLenLocked() {
	if len(idx.docs) == 0 {
		idx.avgLen = 0
		return
	}
	total := 0
	for _, d := range idx.docs {
		total += d.length
	}
	idx.avgLen = float64(total) / float64(len(idx.docs))
}

// Search implements spec §4.4.3's hybrid search: BM25 lexical scoring and
// (when configured) chromem-go cosine-similarity vector scoring, combined
// by reciprocal rank fusion over the top-K from each leg, with an
// optional rerank of the fused top-N.
func (idx *Index) Search(query string, filters SearchFilters) ([]SearchHit, error) {
	lexical := idx.lexicalSearch(query, filters, defaultFusionK)

	var vector []SearchHit
	if idx.embedder != nil {
		if qvec, err := idx.embedder.Embed(query); err == nil {
			vector = idx.vectorSearch(qvec, filters, defaultFusionK)
		}
		// An embed failure on the query falls back to lexical-only for this
		// call; it never fails the search (spec §4.4.3 covers reranker
		// failure explicitly, and the same posture applies here).
	}

	fused := reciprocalRankFusion(lexical, vector, defaultTopN)

	if idx.reranker != nil {
		reranked, err := idx.reranker.Rerank(query, fused)
		if err == nil {
			fused = reranked
			if len(fused) > defaultRerankTopM {
				fused = fused[:defaultRerankTopM]
			}
		}
		// Reranker failure: return the pre-rerank top-N (spec §4.4.3).
	}

	return fused, nil
}

func (idx *Index) lexicalSearch(query string, filters SearchFilters, limit int) []SearchHit {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	qterms := tokenize(query)
	if len(qterms) == 0 || len(idx.docs) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	scores := make(map[string]float64, len(idx.docs))
	for _, qt := range qterms {
		df := float64(idx.df[qt])
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for docID, d := range idx.docs {
			if !idx.passesFilterLocked(docID, filters) {
				continue
			}
			tf := float64(d.terms[qt])
			if tf == 0 {
				continue
			}
			denom := tf + bm25K1*(1-bm25B+bm25B*float64(d.length)/maxFloat(idx.avgLen, 1))
			scores[docID] += idf * (tf * (bm25K1 + 1)) / denom
			if strings.Contains(strings.ToLower(d.header), qt) {
				scores[docID] += idf * 0.5 // header/boost field, spec §4.4.3
			}
		}
	}

	return idx.topHits(scores, limit)
}

func (idx *Index) passesFilterLocked(docID string, filters SearchFilters) bool {
	doc, ok := idx.meta[docID]
	if !ok {
		return true
	}
	if filters.Category != "" && doc.Type != filters.Category {
		return false
	}
	if filters.Platform != "" && doc.Platform != filters.Platform {
		return false
	}
	for _, want := range filters.Tags {
		found := false
		for _, have := range doc.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (idx *Index) topHits(scores map[string]float64, limit int) []SearchHit {
	hits := make([]SearchHit, 0, len(scores))
	for docID, score := range scores {
		hits = append(hits, SearchHit{DocID: docID, Path: docID, Score: score, Snippet: snippetOf(idx.meta[docID].Body)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (idx *Index) vectorSearch(qvec []float32, filters SearchFilters, limit int) []SearchHit {
	where := map[string]string{}
	if filters.Category != "" {
		where["type"] = string(filters.Category)
	}
	if filters.Platform != "" {
		where["platform"] = filters.Platform
	}
	results, err := idx.vecCol.QueryEmbedding(context.Background(), qvec, limit, where, nil)
	if err != nil {
		return nil
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{DocID: r.ID, Path: r.ID, Score: float64(r.Similarity), Snippet: snippetOf(idx.meta[r.ID].Body)})
	}
	return hits
}

// reciprocalRankFusion combines two ranked lists by RRF (constant 60,
// the conventional default) and returns the top limit hits.
func reciprocalRankFusion(a, b []SearchHit, limit int) []SearchHit {
	const rrfConst = 60.0
	scores := map[string]float64{}
	best := map[string]SearchHit{}
	add := func(hits []SearchHit) {
		for rank, h := range hits {
			scores[h.DocID] += 1.0 / (rrfConst + float64(rank+1))
			if existing, ok := best[h.DocID]; !ok || h.Score > existing.Score {
				best[h.DocID] = h
			}
		}
	}
	add(a)
	add(b)

	fused := make([]SearchHit, 0, len(scores))
	for docID, score := range scores {
		hit := best[docID]
		hit.Score = score
		fused = append(fused, hit)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].DocID < fused[j].DocID
	})
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

func headerText(header map[string]string) string {
	var b strings.Builder
	for k, v := range header {
		b.WriteString(k)
		b.WriteString(" ")
		b.WriteString(v)
		b.WriteString(" ")
	}
	return b.String()
}

func snippetOf(body string) string {
	const max = 200
	trimmed := strings.TrimSpace(body)
	if len(trimmed) <= max {
		return trimmed
	}
	return trimmed[:max] + "..."
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
