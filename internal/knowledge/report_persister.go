package knowledge

import (
	"fmt"
	"strings"

	"github.com/olavhq/olav/internal/inspection"
)

// ReportPersister adapts Store and Index to inspection.Persister and
// inspection.ReportSink: an inspection run's markdown report lands in
// knowledge/reports/ and, when non-empty, is auto-embedded into search
// (spec: "Optional auto-embedding into the Knowledge Store (§4.4) if the
// report is non-empty and the orchestrator was invoked with persist=true").
// Both writes use OriginAdministrative: a completed inspection run is the
// orchestrator's own output, not an agent-issued write that needs
// approval.
type ReportPersister struct {
	store *Store
	index *Index
}

// NewReportPersister builds a ReportPersister over store and index. index
// may be nil, in which case reports are still written to disk but never
// auto-embedded.
func NewReportPersister(store *Store, index *Index) *ReportPersister {
	return &ReportPersister{store: store, index: index}
}

// PersistReport implements inspection.Persister.
func (p *ReportPersister) PersistReport(report *inspection.Report) error {
	if report == nil {
		return nil
	}
	path := reportPath(report)
	if err := p.store.Write(path, report.Markdown, OriginAdministrative, true); err != nil {
		return err
	}
	if p.index != nil && strings.TrimSpace(report.Markdown) != "" {
		doc, err := p.store.Read(path)
		if err == nil {
			_ = p.index.Put(*doc)
		}
	}
	return nil
}

// WriteOverflow implements inspection.ReportSink: the full markdown (before
// token-budget truncation) is written alongside the bounded in-memory
// report, and the store path is returned as the pointer substituted into
// it (spec §4.3.3: "a short pointer to substitute in the in-memory
// result").
func (p *ReportPersister) WriteOverflow(plan inspection.Plan, fullMarkdown string) (string, error) {
	path := overflowPath(plan)
	if err := p.store.Write(path, fullMarkdown, OriginAdministrative, true); err != nil {
		return "", err
	}
	return path, nil
}

func reportPath(report *inspection.Report) string {
	stamp := report.StartedAt.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("knowledge/reports/%s-%s.md", report.Plan.SkillID, stamp)
}

func overflowPath(plan inspection.Plan) string {
	return fmt.Sprintf("knowledge/reports/%s-overflow.md", plan.SkillID)
}
