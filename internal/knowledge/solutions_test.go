package knowledge

import "testing"

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"BGP Neighbor Flapping on Core Router": "bgp-neighbor-flapping-on-core-router",
		"  leading/trailing spaces  ":          "leading-trailing-spaces",
		"already-slugged":                      "already-slugged",
		"!!!":                                  "",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSaveSolution_RendersAndWrites(t *testing.T) {
	store, _ := newTestStore(t)
	sol := Solution{
		Title:     "Interface Flapping on Gi0/1",
		Problem:   "Interface flaps every few minutes.",
		Process:   "Checked logs, found CRC errors.",
		RootCause: "Bad SFP.",
		Fix:       "Replaced the SFP module.",
		Commands:  []string{"show interfaces Gi0/1"},
		Tags:      []string{"interface", "hardware"},
	}
	saved, err := store.SaveSolution(sol, OriginAdministrative, false)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Slug != "interface-flapping-on-gi0-1" {
		t.Fatalf("unexpected slug: %q", saved.Slug)
	}

	doc, err := store.Read(saved.Path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if doc.Header["title"] != sol.Title {
		t.Fatalf("unexpected title header: %q", doc.Header["title"])
	}
}

func TestSaveSolution_CollisionGetsNumericSuffix(t *testing.T) {
	store, _ := newTestStore(t)
	sol := Solution{Title: "Duplicate Title", Problem: "p1", Process: "pr1", RootCause: "r1", Fix: "f1"}

	first, err := store.SaveSolution(sol, OriginAdministrative, false)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if first.Slug != "duplicate-title" {
		t.Fatalf("unexpected first slug: %q", first.Slug)
	}

	second, err := store.SaveSolution(sol, OriginAdministrative, false)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if second.Slug != "duplicate-title-2" {
		t.Fatalf("unexpected second slug: %q", second.Slug)
	}

	third, err := store.SaveSolution(sol, OriginAdministrative, false)
	if err != nil {
		t.Fatalf("third save: %v", err)
	}
	if third.Slug != "duplicate-title-3" {
		t.Fatalf("unexpected third slug: %q", third.Slug)
	}

	firstDoc, err := store.Read(first.Path)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if firstDoc.Body == "" {
		t.Fatal("expected the first solution document to remain intact")
	}
}

func TestSaveSolution_EmptyTitleFallsBackToGenericSlug(t *testing.T) {
	store, _ := newTestStore(t)
	sol := Solution{Title: "!!!", Problem: "p", Process: "pr", RootCause: "r", Fix: "f"}
	saved, err := store.SaveSolution(sol, OriginAdministrative, false)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Slug != "solution" {
		t.Fatalf("unexpected slug: %q", saved.Slug)
	}
}
