package knowledge

import (
	"strings"
	"testing"
	"time"

	"github.com/olavhq/olav/internal/inspection"
)

func TestReportPersister_PersistReportWritesAndIndexes(t *testing.T) {
	store, _ := newTestStore(t)
	index, err := NewIndex(nil, nil)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	persister := NewReportPersister(store, index)

	report := &inspection.Report{
		Plan:      inspection.Plan{SkillID: "bgp-health"},
		Markdown:  "# BGP health\n\nall peers up\n",
		StartedAt: time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
	}
	if err := persister.PersistReport(report); err != nil {
		t.Fatalf("persist: %v", err)
	}

	path := reportPath(report)
	if !strings.HasPrefix(path, "knowledge/reports/bgp-health-") {
		t.Fatalf("unexpected report path: %q", path)
	}
	doc, err := store.Read(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if doc.Body != report.Markdown {
		t.Fatalf("unexpected body: %q", doc.Body)
	}

	results, err := index.Search(report.Markdown, SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Path == path {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected persisted report to be indexed, got %v", results)
	}
}

func TestReportPersister_PersistReportNilIsNoop(t *testing.T) {
	store, _ := newTestStore(t)
	persister := NewReportPersister(store, nil)
	if err := persister.PersistReport(nil); err != nil {
		t.Fatalf("persist nil: %v", err)
	}
}

func TestReportPersister_PersistReportEmptyMarkdownSkipsIndex(t *testing.T) {
	store, _ := newTestStore(t)
	index, err := NewIndex(nil, nil)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	persister := NewReportPersister(store, index)

	report := &inspection.Report{
		Plan:      inspection.Plan{SkillID: "empty-run"},
		Markdown:  "",
		StartedAt: time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
	}
	if err := persister.PersistReport(report); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := store.Read(reportPath(report)); err != nil {
		t.Fatalf("expected the empty report to still be written to disk: %v", err)
	}
}

func TestReportPersister_WriteOverflowReturnsPointer(t *testing.T) {
	store, _ := newTestStore(t)
	persister := NewReportPersister(store, nil)

	plan := inspection.Plan{SkillID: "interface-errors"}
	pointer, err := persister.WriteOverflow(plan, "full markdown body")
	if err != nil {
		t.Fatalf("write overflow: %v", err)
	}
	if pointer != "knowledge/reports/interface-errors-overflow.md" {
		t.Fatalf("unexpected pointer: %q", pointer)
	}
	doc, err := store.Read(pointer)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if doc.Body != "full markdown body" {
		t.Fatalf("unexpected body: %q", doc.Body)
	}
}
