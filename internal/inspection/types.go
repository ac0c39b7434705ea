// Package inspection implements the Map-Reduce orchestrator that fans a
// Skill out over a device set, aggregates per-device results, and renders
// a bounded summary report.
package inspection

import (
	"time"

	"github.com/olavhq/olav/internal/fleet"
)

// Tier classifies one device's inspection outcome.
type Tier string

const (
	TierPass    Tier = "PASS"
	TierWarning Tier = "WARNING"
	TierFail    Tier = "FAIL"
	TierSkipped Tier = "SKIPPED"
)

// Step is one command or API call in a Skill's per-platform sequence.
type Step struct {
	Kind        fleet.Kind
	Text        string // command text, Kind=command
	Method      string // Kind=api
	Path        string // Kind=api
	Body        string // Kind=api
	Independent bool   // may run concurrently with other independent steps
	Parse       bool
}

// PlatformSteps is the ordered step list for one device platform.
type PlatformSteps struct {
	Steps []Step
}

// Rule is one acceptance-criteria clause (spec §4.3.2: "a small, declarative
// language: per-field threshold comparisons and boolean combinators").
type Rule struct {
	Field string // JSONPath into the device's parsed/raw result
	Expr  string // gval boolean expression; the extracted value is bound as `value`
	Tier  Tier   // tier assigned when Expr evaluates true
	Note  string // human-readable explanation surfaced in the report
}

// ParamSpec declares one Skill parameter.
type ParamSpec struct {
	Name     string
	Type     string // "string" | "int" | "bool"
	Required bool
}

// Skill is the subset of a knowledge-store Skill document the orchestrator
// needs to run an inspection. The knowledge package owns the full document
// (header, body, markdown); this is the compiled, execution-ready form it
// hands to the orchestrator.
type Skill struct {
	ID               string
	Name             string
	Parameters       []ParamSpec
	Platforms        map[string]PlatformSteps
	AcceptanceRules  []Rule
	EstimatedRuntime time.Duration
}

// SkillCatalog resolves a skill_id to its compiled Skill.
type SkillCatalog interface {
	Get(skillID string) (*Skill, error)
}

// DeviceTask is one unit of Map-phase work.
type DeviceTask struct {
	Device     fleet.Device
	Skill      *Skill
	Parameters map[string]any
}

// Plan is the output of Prepare (spec §4.3.1).
type Plan struct {
	SkillID             string
	Selector            string
	Parameters          map[string]any
	EstimatedDeviceCount int
	DryRun              bool
	Tasks               []DeviceTask
	Missing             []string
}

// DeviceSummary is one device's Map-phase outcome (spec §3).
type DeviceSummary struct {
	Device       string
	Tier         Tier
	Bullets      []string
	ErrorKind    string
	RawPointer   string // set when raw output was spilled to a file
	DurationMS   int64
}

// ReportSummary is the Reduce phase's aggregate (spec §4.3.3).
type ReportSummary struct {
	CountsByTier      map[Tier]int
	TopFailingDevices []string
	DominantErrors    []string
	CommonIssues      []string
}

// Report is the full Reduce-phase output.
type Report struct {
	Plan        Plan
	PerDevice   map[string]DeviceSummary
	Aggregate   ReportSummary
	StartedAt   time.Time
	FinishedAt  time.Time
	SkillVersion string
	Markdown    string
	Cancelled   bool
}
