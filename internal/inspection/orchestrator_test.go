package inspection

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/olavhq/olav/internal/fleet"
	"github.com/olavhq/olav/internal/olaverr"
)

type fakeExecutor struct {
	mu      sync.Mutex
	devices map[string]fleet.ResolveResult
	reply   func(device fleet.Device, op fleet.Operation) (*fleet.ExecutionResult, error)
	calls   int
	delay   time.Duration
}

func (f *fakeExecutor) Resolve(ctx context.Context, selector string) (fleet.ResolveResult, error) {
	if r, ok := f.devices[selector]; ok {
		return r, nil
	}
	return fleet.ResolveResult{}, nil
}

func (f *fakeExecutor) Execute(ctx context.Context, threadID string, device fleet.Device, op fleet.Operation, opts fleet.ExecuteOptions) (*fleet.ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.reply(device, op)
}

type fakeCatalog struct {
	skills map[string]*Skill
}

func (c *fakeCatalog) Get(skillID string) (*Skill, error) {
	s, ok := c.skills[skillID]
	if !ok {
		return nil, olaverr.New(olaverr.NotPermitted, "unknown skill "+skillID)
	}
	return s, nil
}

func devices(names ...string) []fleet.Device {
	out := make([]fleet.Device, 0, len(names))
	for _, n := range names {
		out = append(out, fleet.Device{Name: n, Platform: "cisco_ios"})
	}
	return out
}

func pingSkill() *Skill {
	return &Skill{
		ID:   "ping_check",
		Name: "Ping check",
		Platforms: map[string]PlatformSteps{
			"cisco_ios": {Steps: []Step{{Kind: fleet.KindCommand, Text: "ping 10.0.0.1", Parse: true}}},
		},
		AcceptanceRules: []Rule{
			{Field: `$["ping 10.0.0.1"][0].loss_pct`, Expr: `value != "0"`, Tier: TierFail, Note: "packet loss detected"},
		},
		EstimatedRuntime: 5 * time.Second,
	}
}

func TestOrchestrator_Prepare_EmptyScope(t *testing.T) {
	exec := &fakeExecutor{devices: map[string]fleet.ResolveResult{}}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{})

	_, err := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "group:nope"})
	if olaverr.KindOf(err) != olaverr.EmptyScope {
		t.Fatalf("expected EmptyScope, got %v", err)
	}
}

func TestOrchestrator_Prepare_MissingRequiredParameter(t *testing.T) {
	skill := pingSkill()
	skill.Parameters = []ParamSpec{{Name: "target", Type: "string", Required: true}}
	exec := &fakeExecutor{devices: map[string]fleet.ResolveResult{"all": {Resolved: devices("sw1")}}}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": skill}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{})

	_, err := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all"})
	if err == nil {
		t.Fatal("expected error for missing required parameter")
	}
}

func TestOrchestrator_Prepare_CoercesIntParameter(t *testing.T) {
	skill := pingSkill()
	skill.Parameters = []ParamSpec{{Name: "count", Type: "int", Required: true}}
	exec := &fakeExecutor{devices: map[string]fleet.ResolveResult{"all": {Resolved: devices("sw1")}}}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": skill}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{})

	plan, err := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all", Parameters: map[string]any{"count": "5"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Parameters["count"] != 5 {
		t.Fatalf("expected coerced int 5, got %v (%T)", plan.Parameters["count"], plan.Parameters["count"])
	}
}

func TestOrchestrator_Run_DryRunSkipsExecution(t *testing.T) {
	exec := &fakeExecutor{
		devices: map[string]fleet.ResolveResult{"all": {Resolved: devices("sw1", "sw2")}},
		reply: func(fleet.Device, fleet.Operation) (*fleet.ExecutionResult, error) {
			t.Fatal("executor should not be called during a dry run")
			return nil, nil
		},
	}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{})

	plan, err := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all", DryRun: true})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	report, err := o.Run(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.PerDevice) != 0 {
		t.Fatalf("expected no per-device results for dry run, got %d", len(report.PerDevice))
	}
	if !strings.Contains(report.Markdown, "ping_check") {
		t.Fatal("expected rendered markdown to mention the skill id")
	}
}

func TestOrchestrator_Run_MapPhaseAllSucceed(t *testing.T) {
	names := []string{"sw1", "sw2", "sw3", "sw4"}
	exec := &fakeExecutor{
		devices: map[string]fleet.ResolveResult{"all": {Resolved: devices(names...)}},
		reply: func(device fleet.Device, op fleet.Operation) (*fleet.ExecutionResult, error) {
			return &fleet.ExecutionResult{Device: device.Name, Success: true, Structured: true, Parsed: []fleet.ParsedRow{{"loss_pct": "0"}}}, nil
		},
	}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{Concurrency: 2})

	plan, err := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	report, err := o.Run(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.PerDevice) != len(names) {
		t.Fatalf("expected %d results, got %d", len(names), len(report.PerDevice))
	}
	for _, n := range names {
		if report.PerDevice[n].Tier != TierPass {
			t.Fatalf("device %s: expected PASS, got %s", n, report.PerDevice[n].Tier)
		}
	}
	if report.Aggregate.CountsByTier[TierPass] != len(names) {
		t.Fatalf("expected aggregate pass count %d, got %d", len(names), report.Aggregate.CountsByTier[TierPass])
	}
}

func TestOrchestrator_Run_AcceptanceRuleFailsDevice(t *testing.T) {
	exec := &fakeExecutor{
		devices: map[string]fleet.ResolveResult{"all": {Resolved: devices("sw1")}},
		reply: func(device fleet.Device, op fleet.Operation) (*fleet.ExecutionResult, error) {
			return &fleet.ExecutionResult{Device: device.Name, Success: true, Structured: true, Parsed: []fleet.ParsedRow{{"loss_pct": "60"}}}, nil
		},
	}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{})

	plan, _ := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all"})
	report, err := o.Run(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.PerDevice["sw1"].Tier != TierFail {
		t.Fatalf("expected FAIL, got %s", report.PerDevice["sw1"].Tier)
	}
}

func TestOrchestrator_Run_UnsupportedPlatformSkipped(t *testing.T) {
	exec := &fakeExecutor{devices: map[string]fleet.ResolveResult{"all": {Resolved: []fleet.Device{{Name: "router1", Platform: "juniper_junos"}}}}}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{})

	plan, _ := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all"})
	report, err := o.Run(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.PerDevice["router1"].Tier != TierSkipped {
		t.Fatalf("expected SKIPPED, got %s", report.PerDevice["router1"].Tier)
	}
	if report.PerDevice["router1"].ErrorKind != "UnsupportedPlatform" {
		t.Fatalf("expected UnsupportedPlatform error kind, got %s", report.PerDevice["router1"].ErrorKind)
	}
}

func TestOrchestrator_Run_StepFailureDowngradesToWarning(t *testing.T) {
	exec := &fakeExecutor{
		devices: map[string]fleet.ResolveResult{"all": {Resolved: devices("sw1")}},
		reply: func(device fleet.Device, op fleet.Operation) (*fleet.ExecutionResult, error) {
			return &fleet.ExecutionResult{Device: device.Name, Success: false, ErrorKind: "Timeout", ErrorMessage: "deadline exceeded"}, nil
		},
	}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{})

	plan, _ := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all"})
	report, err := o.Run(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.PerDevice["sw1"].Tier != TierWarning {
		t.Fatalf("expected WARNING, got %s", report.PerDevice["sw1"].Tier)
	}
	if report.PerDevice["sw1"].ErrorKind != "Timeout" {
		t.Fatalf("expected ErrorKind Timeout, got %s", report.PerDevice["sw1"].ErrorKind)
	}
}

func TestOrchestrator_Run_ExecuteErrorFailsDevice(t *testing.T) {
	exec := &fakeExecutor{
		devices: map[string]fleet.ResolveResult{"all": {Resolved: devices("sw1")}},
		reply: func(device fleet.Device, op fleet.Operation) (*fleet.ExecutionResult, error) {
			return nil, olaverr.New(olaverr.NeedsApproval, "write requires approval")
		},
	}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{})

	plan, _ := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all"})
	report, err := o.Run(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.PerDevice["sw1"].Tier != TierFail {
		t.Fatalf("expected FAIL, got %s", report.PerDevice["sw1"].Tier)
	}
	if report.PerDevice["sw1"].ErrorKind != string(olaverr.NeedsApproval) {
		t.Fatalf("expected NeedsApproval error kind, got %s", report.PerDevice["sw1"].ErrorKind)
	}
}

func TestOrchestrator_Run_BackpressureRespectsQueueSize(t *testing.T) {
	names := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		names = append(names, "sw"+strconv.Itoa(i))
	}
	exec := &fakeExecutor{
		devices: map[string]fleet.ResolveResult{"all": {Resolved: devices(names...)}},
		delay:   5 * time.Millisecond,
		reply: func(device fleet.Device, op fleet.Operation) (*fleet.ExecutionResult, error) {
			return &fleet.ExecutionResult{Device: device.Name, Success: true, Raw: "0% loss"}, nil
		},
	}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{Concurrency: 3})

	plan, _ := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all"})
	report, err := o.Run(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.PerDevice) != len(names) {
		t.Fatalf("expected %d results, got %d", len(names), len(report.PerDevice))
	}
}

func TestOrchestrator_Run_CancellationMarksPartialReport(t *testing.T) {
	names := []string{"sw1", "sw2", "sw3", "sw4", "sw5"}
	exec := &fakeExecutor{
		devices: map[string]fleet.ResolveResult{"all": {Resolved: devices(names...)}},
		delay:   200 * time.Millisecond,
		reply: func(device fleet.Device, op fleet.Operation) (*fleet.ExecutionResult, error) {
			return &fleet.ExecutionResult{Device: device.Name, Success: true, Raw: "0% loss"}, nil
		},
	}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{Concurrency: 1})

	plan, _ := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all"})

	ctx, token := WithCancelToken(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		token.Cancel()
	}()

	report, err := o.Run(ctx, plan, RunOptions{CancelGrace: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Cancelled {
		t.Fatal("expected Cancelled=true")
	}
	if len(report.PerDevice) == len(names) {
		t.Fatal("expected a partial report, got every device completed")
	}
}

func TestOrchestrator_Run_ReportSinkInvokedOverBudget(t *testing.T) {
	exec := &fakeExecutor{
		devices: map[string]fleet.ResolveResult{"all": {Resolved: devices("sw1")}},
		reply: func(device fleet.Device, op fleet.Operation) (*fleet.ExecutionResult, error) {
			return &fleet.ExecutionResult{Device: device.Name, Success: true, Raw: "0% loss"}, nil
		},
	}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	sink := &fakeSink{pointer: "file://reports/abc123.md"}
	o := NewOrchestrator(exec, catalog, nil, sink, Config{ReportMaxToks: 1})

	plan, _ := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all"})
	report, err := o.Run(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Markdown != sink.pointer {
		t.Fatalf("expected markdown to be the sink's pointer, got %q", report.Markdown)
	}
	if !sink.called {
		t.Fatal("expected sink to be invoked")
	}
}

func TestOrchestrator_Run_TruncatesWhenSinkAbsentAndOverBudget(t *testing.T) {
	exec := &fakeExecutor{
		devices: map[string]fleet.ResolveResult{"all": {Resolved: devices("sw1")}},
		reply: func(device fleet.Device, op fleet.Operation) (*fleet.ExecutionResult, error) {
			return &fleet.ExecutionResult{Device: device.Name, Success: true, Raw: "0% loss"}, nil
		},
	}
	catalog := &fakeCatalog{skills: map[string]*Skill{"ping_check": pingSkill()}}
	o := NewOrchestrator(exec, catalog, nil, nil, Config{ReportMaxToks: 1})

	plan, _ := o.Prepare(context.Background(), PlanRequest{SkillID: "ping_check", Selector: "all"})
	report, err := o.Run(context.Background(), plan, RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(report.Markdown, "truncated") {
		t.Fatalf("expected truncation note, got %q", report.Markdown)
	}
}

type fakeSink struct {
	pointer string
	called  bool
	err     error
}

func (f *fakeSink) WriteOverflow(plan Plan, fullMarkdown string) (string, error) {
	f.called = true
	if f.err != nil {
		return "", f.err
	}
	return f.pointer, nil
}

func TestEvaluateAcceptance_SkipsRuleWhenFieldAbsent(t *testing.T) {
	rules := []Rule{{Field: "$.missing", Expr: "value > 0", Tier: TierFail}}
	tier, _, err := evaluateAcceptance(rules, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tier != TierPass {
		t.Fatalf("expected default PASS, got %s", tier)
	}
}

func TestEvaluateAcceptance_NonBooleanExpressionErrors(t *testing.T) {
	rules := []Rule{{Field: "$.cpu", Expr: "value", Tier: TierFail}}
	_, _, err := evaluateAcceptance(rules, map[string]any{"cpu": 42})
	if err == nil {
		t.Fatal("expected error for non-boolean expression result")
	}
}

func TestDeviceTimeout_ClampsToBounds(t *testing.T) {
	if got := deviceTimeout(1 * time.Second); got != minDeviceTimeout {
		t.Fatalf("expected clamp to minimum, got %v", got)
	}
	if got := deviceTimeout(1000 * time.Second); got != maxDeviceTimeout {
		t.Fatalf("expected clamp to maximum, got %v", got)
	}
	if got := deviceTimeout(10 * time.Second); got != 30*time.Second {
		t.Fatalf("expected 30s, got %v", got)
	}
}

func TestRenderReport_DeterministicOrdering(t *testing.T) {
	report := &Report{
		Plan: Plan{SkillID: "ping_check", Selector: "all", EstimatedDeviceCount: 2},
		PerDevice: map[string]DeviceSummary{
			"sw2": {Device: "sw2", Tier: TierPass},
			"sw1": {Device: "sw1", Tier: TierFail, ErrorKind: "Timeout"},
		},
		Aggregate: ReportSummary{CountsByTier: map[Tier]int{TierPass: 1, TierFail: 1}},
	}
	md := renderReport(report)
	i1 := strings.Index(md, "sw1")
	i2 := strings.Index(md, "sw2")
	if i1 == -1 || i2 == -1 || i1 > i2 {
		t.Fatalf("expected sw1 to render before sw2, got:\n%s", md)
	}
}
