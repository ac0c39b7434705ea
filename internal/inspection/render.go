package inspection

import (
	"fmt"
	"sort"
	"strings"
)

// defaultReportMaxToks is the default token budget before a report's
// detail is spilled to a file and replaced with a pointer (spec §4.3.3).
const defaultReportMaxToks = 20000

// renderReport builds a deterministic Markdown report from a finished
// Report's PerDevice map and Aggregate summary (spec §4.3.3: "The renderer
// is deterministic given the same input."). It always returns the full,
// unbounded markdown; Orchestrator.Run applies the token-budget overflow
// policy on top of it.
func renderReport(report *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Inspection report: %s\n\n", report.Plan.SkillID)
	fmt.Fprintf(&b, "Selector: `%s`  \n", report.Plan.Selector)
	fmt.Fprintf(&b, "Devices: %d", report.Plan.EstimatedDeviceCount)
	if report.Cancelled {
		b.WriteString(" (cancelled — partial)")
	}
	b.WriteString("\n\n")

	b.WriteString("## Overview\n\n")
	b.WriteString("| Device | Tier | Duration (ms) |\n|---|---|---|\n")
	names := sortedDeviceNames(report.PerDevice)
	for _, name := range names {
		s := report.PerDevice[name]
		fmt.Fprintf(&b, "| %s | %s | %d |\n", name, s.Tier, s.DurationMS)
	}
	b.WriteString("\n")

	b.WriteString("## Aggregate\n\n")
	for _, tier := range []Tier{TierPass, TierWarning, TierFail, TierSkipped} {
		fmt.Fprintf(&b, "- %s: %d\n", tier, report.Aggregate.CountsByTier[tier])
	}
	if len(report.Aggregate.TopFailingDevices) > 0 {
		fmt.Fprintf(&b, "- Top failing devices: %s\n", strings.Join(report.Aggregate.TopFailingDevices, ", "))
	}
	if len(report.Aggregate.DominantErrors) > 0 {
		fmt.Fprintf(&b, "- Dominant error kinds: %s\n", strings.Join(report.Aggregate.DominantErrors, ", "))
	}
	if len(report.Plan.Missing) > 0 {
		fmt.Fprintf(&b, "- Selector matched no device for: %s\n", strings.Join(report.Plan.Missing, ", "))
	}
	b.WriteString("\n")

	b.WriteString("## Per-device detail\n\n")
	for _, name := range names {
		s := report.PerDevice[name]
		fmt.Fprintf(&b, "### %s — %s\n\n", name, s.Tier)
		for _, bullet := range s.Bullets {
			fmt.Fprintf(&b, "- %s\n", bullet)
		}
		if s.ErrorKind != "" {
			fmt.Fprintf(&b, "- error kind: %s\n", s.ErrorKind)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func sortedDeviceNames(perDevice map[string]DeviceSummary) []string {
	names := make([]string, 0, len(perDevice))
	for name := range perDevice {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// tokensOf approximates LLM token count as ceil(chars/4), matching the
// Fleet Execution Engine's accounting rule (spec §4.2.1, §4.3.3).
func tokensOf(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

// truncateWithNote bounds markdown to maxToks when no ReportSink is
// configured to spill the overflow to a file.
func truncateWithNote(markdown string, maxToks int) string {
	budget := maxToks * 4
	if budget >= len(markdown) {
		return markdown
	}
	return markdown[:budget] + "\n\n...[truncated, output exceeded report token budget and no report sink is configured]...\n"
}
