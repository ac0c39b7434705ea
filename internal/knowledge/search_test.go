package knowledge

import (
	"errors"
	"testing"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	failOn  string
}

func (f *fakeEmbedder) Embed(text string) ([]float32, error) {
	if f.failOn != "" && text == f.failOn {
		return nil, errors.New("embed failed")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

type fakeReranker struct {
	fail bool
}

func (f *fakeReranker) Rerank(query string, hits []SearchHit) ([]SearchHit, error) {
	if f.fail {
		return nil, errors.New("rerank failed")
	}
	// Reverse the order so the test can tell rerank actually ran.
	out := make([]SearchHit, len(hits))
	for i, h := range hits {
		out[len(hits)-1-i] = h
	}
	return out, nil
}

func TestIndex_LexicalOnlySearch(t *testing.T) {
	idx, err := NewIndex(nil, nil)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	if err := idx.Put(Document{Path: "knowledge/solutions/bgp.md", Type: DocTypeSolution, Body: "BGP neighbor flapping on core router caused by MTU mismatch"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := idx.Put(Document{Path: "knowledge/solutions/dhcp.md", Type: DocTypeSolution, Body: "DHCP lease exhaustion on access switch"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	hits, err := idx.Search("bgp flapping", SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 || hits[0].DocID != "knowledge/solutions/bgp.md" {
		t.Fatalf("expected bgp doc ranked first, got %+v", hits)
	}
}

func TestIndex_SaveThenSearchRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	idx, err := NewIndex(nil, nil)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}

	sol := Solution{
		Title:     "OSPF Adjacency Stuck in Exstart",
		Problem:   "OSPF neighbors stuck in exstart state on the distribution layer.",
		Process:   "Checked MTU on both ends of the link.",
		RootCause: "MTU mismatch between the two OSPF peers.",
		Fix:       "Matched the MTU on both interfaces.",
		Tags:      []string{"ospf", "mtu"},
	}
	saved, err := store.SaveSolution(sol, OriginAdministrative, false)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	doc, err := store.Read(saved.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := idx.Put(*doc); err != nil {
		t.Fatalf("index put: %v", err)
	}

	hits, err := idx.Search("ospf exstart mtu", SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	found := false
	for i, h := range hits {
		if h.DocID == saved.Path {
			found = true
			if i >= 5 {
				t.Fatalf("expected saved solution in top 5, got rank %d", i)
			}
			if h.Score <= 0 {
				t.Fatalf("expected non-zero score, got %v", h.Score)
			}
		}
	}
	if !found {
		t.Fatalf("expected saved solution %q among search hits, got %+v", saved.Path, hits)
	}
}

func TestIndex_FiltersByPlatformAndCategory(t *testing.T) {
	idx, err := NewIndex(nil, nil)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	if err := idx.Put(Document{Path: "skills/ping.md", Type: DocTypeSkill, Platform: "cisco_ios", Body: "ping sweep across the fleet"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := idx.Put(Document{Path: "skills/ping_juniper.md", Type: DocTypeSkill, Platform: "juniper_junos", Body: "ping sweep across the fleet"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	hits, err := idx.Search("ping sweep", SearchFilters{Platform: "cisco_ios"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocID != "skills/ping.md" {
		t.Fatalf("expected only the cisco_ios doc, got %+v", hits)
	}

	hits, err = idx.Search("ping sweep", SearchFilters{Category: DocTypeSolution})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits under an unmatched category filter, got %+v", hits)
	}
}

func TestIndex_EmbedFailureStillIndexesLexically(t *testing.T) {
	embedder := &fakeEmbedder{failOn: "flaky document body"}
	idx, err := NewIndex(embedder, nil)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	if err := idx.Put(Document{Path: "knowledge/solutions/flaky.md", Type: DocTypeSolution, Body: "flaky document body"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	pending := idx.Pending()
	if len(pending) != 1 || pending[0] != "knowledge/solutions/flaky.md" {
		t.Fatalf("expected the doc queued for re-embedding, got %v", pending)
	}

	hits, err := idx.Search("flaky document", SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocID != "knowledge/solutions/flaky.md" {
		t.Fatalf("expected the document still reachable via lexical search, got %+v", hits)
	}
}

func TestIndex_RerankFailureFallsBackToFusedOrder(t *testing.T) {
	embedder := &fakeEmbedder{}
	idx, err := NewIndex(embedder, &fakeReranker{fail: true})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	if err := idx.Put(Document{Path: "a.md", Type: DocTypeNote, Body: "alpha bravo charlie"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := idx.Put(Document{Path: "b.md", Type: DocTypeNote, Body: "alpha bravo"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	hits, err := idx.Search("alpha bravo charlie", SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits despite reranker failure")
	}
}

func TestIndex_RerankTruncatesToTopM(t *testing.T) {
	embedder := &fakeEmbedder{}
	idx, err := NewIndex(embedder, &fakeReranker{})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	for i := 0; i < 8; i++ {
		path := "note" + string(rune('a'+i)) + ".md"
		if err := idx.Put(Document{Path: path, Type: DocTypeNote, Body: "shared term across every note"}); err != nil {
			t.Fatalf("put %s: %v", path, err)
		}
	}

	hits, err := idx.Search("shared term", SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) > defaultRerankTopM {
		t.Fatalf("expected at most %d hits after rerank, got %d", defaultRerankTopM, len(hits))
	}
}
