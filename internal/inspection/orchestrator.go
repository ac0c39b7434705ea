package inspection

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	core "github.com/olavhq/olav/internal/core"
	"github.com/olavhq/olav/internal/fleet"
	"github.com/olavhq/olav/internal/metrics"
	"github.com/olavhq/olav/internal/olaverr"
	system "github.com/olavhq/olav/internal/system"
	"github.com/olavhq/olav/pkg/ratelimit"
)

const (
	// DefaultConcurrency is the default number of devices executed
	// concurrently during the Map phase (spec §4.3.2).
	DefaultConcurrency = 10
	// DefaultCancelGrace is how long Run waits for in-flight device tasks
	// to finish after cancellation before abandoning them (spec §4.3.4).
	DefaultCancelGrace = 5 * time.Second
	minDeviceTimeout   = 30 * time.Second
	maxDeviceTimeout   = 600 * time.Second
)

// Executor is the subset of the Fleet Execution Engine the orchestrator
// depends on.
type Executor interface {
	Execute(ctx context.Context, threadID string, device fleet.Device, op fleet.Operation, opts fleet.ExecuteOptions) (*fleet.ExecutionResult, error)
	Resolve(ctx context.Context, selector string) (fleet.ResolveResult, error)
}

// PlanRequest is the input to Prepare (spec §4.3.1).
type PlanRequest struct {
	SkillID    string
	Selector   string
	Parameters map[string]any
	DryRun     bool
}

// RunOptions controls one Run call.
type RunOptions struct {
	ThreadID    string
	Persist     bool
	CancelGrace time.Duration
}

// CancelToken is the cooperative cancellation handle a caller holds for an
// in-flight plan (spec §4.3.4, §5).
type CancelToken struct {
	cancel context.CancelFunc
}

// Cancel requests that the run stop scheduling new Map tasks.
func (t *CancelToken) Cancel() {
	if t != nil && t.cancel != nil {
		t.cancel()
	}
}

// WithCancelToken derives a cancellable context and its token from parent.
func WithCancelToken(parent context.Context) (context.Context, *CancelToken) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &CancelToken{cancel: cancel}
}

// Persister is called with a finished, non-empty report when a Run was
// invoked with RunOptions.Persist=true (spec §4.3.3: "optional auto-
// embedding into the Knowledge Store").
type Persister interface {
	PersistReport(report *Report) error
}

// ReportSink spills an over-budget report's full markdown somewhere
// durable and returns a short pointer to substitute in the in-memory
// result (spec §4.3.3: "Outputs over 20k tokens are written to a file and
// replaced by a pointer in the in-memory result").
type ReportSink interface {
	WriteOverflow(plan Plan, fullMarkdown string) (pointer string, err error)
}

// Orchestrator is the Inspection Orchestrator (spec §4.3): plan
// preparation, Map-phase fan-out, Reduce-phase aggregation and rendering.
type Orchestrator struct {
	executor      Executor
	skills        SkillCatalog
	concurrency   int
	reportMaxToks int
	persister     Persister
	sink          ReportSink
	limiter       *ratelimit.RateLimiter
	observe       core.ObservationHooks
}

// Config configures a new Orchestrator.
type Config struct {
	Concurrency   int
	ReportMaxToks int
	// RequestsPerSecond and Burst bound how fast Run admits device tasks
	// into the Map phase's worker pool (golang.org/x/time/rate token
	// bucket); zero applies the package's own defaults.
	RequestsPerSecond float64
	Burst             int
}

func NewOrchestrator(executor Executor, skills SkillCatalog, persister Persister, sink ReportSink, cfg Config) *Orchestrator {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	maxToks := cfg.ReportMaxToks
	if maxToks <= 0 {
		maxToks = defaultReportMaxToks
	}
	limiter := ratelimit.New(ratelimit.RateLimitConfig{RequestsPerSecond: cfg.RequestsPerSecond, Burst: cfg.Burst})
	return &Orchestrator{
		executor:      executor,
		skills:        skills,
		concurrency:   concurrency,
		reportMaxToks: maxToks,
		persister:     persister,
		sink:          sink,
		limiter:       limiter,
		observe:       metrics.ObservationHooks("olav", "inspection", "device_run"),
	}
}

// renderAndBound renders a report's markdown and applies the token-budget
// overflow policy: spill to the configured ReportSink when present, else
// truncate in place with a note (spec §4.3.3).
func (o *Orchestrator) renderAndBound(report *Report) string {
	full := renderReport(report)
	if tokensOf(full) <= o.reportMaxToks {
		return full
	}
	if o.sink != nil {
		if pointer, err := o.sink.WriteOverflow(report.Plan, full); err == nil {
			return pointer
		}
	}
	return truncateWithNote(full, o.reportMaxToks)
}

var _ system.DescriptorProvider = (*Orchestrator)(nil)

func (o *Orchestrator) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "inspection",
		Domain: "orchestration",
		Layer:  core.LayerInspection,
	}.WithCapabilities("plan", "run", "cancel")
}

// Prepare implements spec §4.3.1.
func (o *Orchestrator) Prepare(ctx context.Context, req PlanRequest) (*Plan, error) {
	skill, err := o.skills.Get(req.SkillID)
	if err != nil {
		return nil, err
	}

	bound, err := coerceParameters(skill.Parameters, req.Parameters)
	if err != nil {
		return nil, err
	}

	resolveResult, err := o.executor.Resolve(ctx, req.Selector)
	if err != nil {
		return nil, err
	}
	if len(resolveResult.Resolved) == 0 {
		return nil, olaverr.New(olaverr.EmptyScope, "selector "+req.Selector+" matched no devices")
	}

	plan := &Plan{
		SkillID:              req.SkillID,
		Selector:             req.Selector,
		Parameters:           bound,
		EstimatedDeviceCount: len(resolveResult.Resolved),
		DryRun:               req.DryRun,
		Missing:              resolveResult.Missing,
	}
	for _, d := range resolveResult.Resolved {
		plan.Tasks = append(plan.Tasks, DeviceTask{Device: d, Skill: skill, Parameters: bound})
	}
	return plan, nil
}

// coerceParameters validates required parameters are present and coerces
// string inputs to the declared type where unambiguous (spec §4.3.1 step 1).
func coerceParameters(specs []ParamSpec, supplied map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(supplied))
	for k, v := range supplied {
		bound[k] = v
	}
	for _, spec := range specs {
		v, ok := bound[spec.Name]
		if !ok {
			if spec.Required {
				return nil, olaverr.New(olaverr.NotPermitted, "missing required parameter "+spec.Name)
			}
			continue
		}
		coerced, err := coerceValue(spec.Type, v)
		if err != nil {
			return nil, olaverr.Wrap(olaverr.NotPermitted, "parameter "+spec.Name, err)
		}
		bound[spec.Name] = coerced
	}
	return bound, nil
}

// coerceValue coerces a string parameter to an int or bool when the target
// type is unambiguous; values already of the target type pass through.
func coerceValue(paramType string, v any) (any, error) {
	switch paramType {
	case "int":
		switch val := v.(type) {
		case int:
			return val, nil
		case float64:
			return int(val), nil
		case string:
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("expected int, got %q", val)
			}
			return n, nil
		}
		return nil, fmt.Errorf("expected int, got %T", v)
	case "bool":
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			b, err := strconv.ParseBool(val)
			if err != nil {
				return nil, fmt.Errorf("expected bool, got %q", val)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", v)
	default:
		return v, nil
	}
}

// Run executes the Map phase with bounded concurrency and backpressure,
// then reduces results into a Report (spec §4.3.2, §4.3.3).
func (o *Orchestrator) Run(ctx context.Context, plan *Plan, opts RunOptions) (*Report, error) {
	report := &Report{Plan: *plan, PerDevice: map[string]DeviceSummary{}, StartedAt: time.Now()}

	if plan.DryRun || len(plan.Tasks) == 0 {
		report.FinishedAt = time.Now()
		report.Aggregate = reduce(report.PerDevice)
		report.Markdown = o.renderAndBound(report)
		return report, nil
	}

	concurrency := o.concurrency
	queueSize := 2 * concurrency
	grace := opts.CancelGrace
	if grace <= 0 {
		grace = DefaultCancelGrace
	}

	taskCh := make(chan DeviceTask, queueSize)
	resultCh := make(chan DeviceSummary, len(plan.Tasks))

	workers, _ := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		workers.Go(func() error {
			for task := range taskCh {
				resultCh <- o.runDevice(ctx, task, opts.ThreadID)
			}
			return nil
		})
	}

	go func() {
		defer close(taskCh)
		for _, task := range plan.Tasks {
			if err := o.limiter.Wait(ctx); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case taskCh <- task:
			}
		}
	}()

	go func() {
		_ = workers.Wait()
		close(resultCh)
	}()

	var graceTimer *time.Timer
	var graceCh <-chan time.Time
collect:
	for {
		select {
		case summary, ok := <-resultCh:
			if !ok {
				break collect
			}
			report.PerDevice[summary.Device] = summary
		case <-ctx.Done():
			if graceTimer == nil {
				report.Cancelled = true
				graceTimer = time.NewTimer(grace)
				graceCh = graceTimer.C
			}
		case <-graceCh:
			break collect
		}
	}
	if graceTimer != nil {
		graceTimer.Stop()
	}

	report.FinishedAt = time.Now()
	report.Aggregate = reduce(report.PerDevice)
	report.Markdown = o.renderAndBound(report)

	if opts.Persist && o.persister != nil && report.Markdown != "" {
		_ = o.persister.PersistReport(report)
	}
	return report, nil
}

// runDevice executes one device's Map-phase task (spec §4.3.2).
func (o *Orchestrator) runDevice(ctx context.Context, task DeviceTask, threadID string) DeviceSummary {
	start := time.Now()
	complete := core.StartObservation(ctx, o.observe, map[string]string{"skill": task.Skill.ID, "platform": task.Device.Platform})
	summary := o.runDeviceSteps(ctx, task, threadID, start)
	var observeErr error
	if summary.Tier == TierFail {
		observeErr = olaverr.New(olaverr.Internal, summary.ErrorKind)
	}
	complete(observeErr)
	return summary
}

// runDeviceSteps runs task's steps and acceptance evaluation; split out from
// runDevice so the observation hooks above see a single exit point.
func (o *Orchestrator) runDeviceSteps(ctx context.Context, task DeviceTask, threadID string, start time.Time) DeviceSummary {
	steps, ok := task.Skill.Platforms[task.Device.Platform]
	if !ok || len(steps.Steps) == 0 {
		return DeviceSummary{
			Device:     task.Device.Name,
			Tier:       TierSkipped,
			Bullets:    []string{"unsupported platform: " + task.Device.Platform},
			ErrorKind:  "UnsupportedPlatform",
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	timeout := deviceTimeout(task.Skill.EstimatedRuntime)
	devCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data := map[string]any{}
	var lastErrKind string
	for _, step := range steps.Steps {
		op := fleet.Operation{Kind: step.Kind, Text: step.Text, Method: step.Method, Path: step.Path, Body: step.Body}
		result, err := o.executor.Execute(devCtx, threadID, task.Device, op, fleet.ExecuteOptions{Parse: step.Parse})
		if err != nil {
			return DeviceSummary{
				Device:     task.Device.Name,
				Tier:       TierFail,
				Bullets:    []string{err.Error()},
				ErrorKind:  string(olaverr.KindOf(err)),
				DurationMS: time.Since(start).Milliseconds(),
			}
		}
		if !result.Success {
			lastErrKind = result.ErrorKind
			data[step.fieldKey()] = map[string]any{"error": result.ErrorMessage}
			continue
		}
		data[step.fieldKey()] = stepResultData(result)
	}

	tier, bullets, err := evaluateAcceptance(task.Skill.AcceptanceRules, data)
	if err != nil {
		return DeviceSummary{
			Device:     task.Device.Name,
			Tier:       TierFail,
			Bullets:    []string{err.Error()},
			ErrorKind:  string(olaverr.Internal),
			DurationMS: time.Since(start).Milliseconds(),
		}
	}
	if lastErrKind != "" && tier == TierPass {
		tier = TierWarning
		bullets = append(bullets, "one or more steps failed: "+lastErrKind)
	}

	return DeviceSummary{
		Device:     task.Device.Name,
		Tier:       tier,
		Bullets:    bullets,
		ErrorKind:  lastErrKind,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

func (s Step) fieldKey() string {
	if s.Kind == fleet.KindAPI {
		return s.Method + " " + s.Path
	}
	return s.Text
}

func stepResultData(result *fleet.ExecutionResult) any {
	if result.Structured {
		rows := make([]map[string]any, 0, len(result.Parsed))
		for _, row := range result.Parsed {
			m := make(map[string]any, len(row))
			for k, v := range row {
				m[k] = v
			}
			rows = append(rows, m)
		}
		return rows
	}
	return map[string]any{"raw": result.Raw}
}

// deviceTimeout applies spec §4.3.2's per-device timeout rule:
// estimated_runtime x 3, clamped to [30s, 600s].
func deviceTimeout(estimated time.Duration) time.Duration {
	t := estimated * 3
	if t < minDeviceTimeout {
		return minDeviceTimeout
	}
	if t > maxDeviceTimeout {
		return maxDeviceTimeout
	}
	return t
}

// reduce implements spec §4.3.3's aggregate computation.
func reduce(perDevice map[string]DeviceSummary) ReportSummary {
	counts := map[Tier]int{}
	errorCounts := map[string]int{}
	var failing []string
	for name, summary := range perDevice {
		counts[summary.Tier]++
		if summary.ErrorKind != "" {
			errorCounts[summary.ErrorKind]++
		}
		if summary.Tier == TierFail {
			failing = append(failing, name)
		}
	}

	dominant := topErrorKinds(errorCounts, 3)

	return ReportSummary{
		CountsByTier:      counts,
		TopFailingDevices: topN(failing, 10),
		DominantErrors:    dominant,
	}
}

func topN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func topErrorKinds(counts map[string]int, n int) []string {
	type kv struct {
		kind  string
		count int
	}
	kvs := make([]kv, 0, len(counts))
	for k, c := range counts {
		kvs = append(kvs, kv{k, c})
	}
	for i := 0; i < len(kvs); i++ {
		for j := i + 1; j < len(kvs); j++ {
			if kvs[j].count > kvs[i].count {
				kvs[i], kvs[j] = kvs[j], kvs[i]
			}
		}
	}
	out := make([]string, 0, n)
	for i := 0; i < len(kvs) && i < n; i++ {
		out = append(out, kvs[i].kind)
	}
	return out
}
