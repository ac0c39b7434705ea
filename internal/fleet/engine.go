package fleet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/olavhq/olav/internal/capability"
	core "github.com/olavhq/olav/internal/core"
	"github.com/olavhq/olav/internal/olaverr"
	system "github.com/olavhq/olav/internal/system"
)

// ApprovalToolName is the tool name a caller must use with the Session
// FSM's BeginTool/Interrupt when opening an approval interrupt for a
// write-class Execute call, so the fingerprint recorded there matches the
// one approvalFingerprint computes here.
const ApprovalToolName = "execute_command"

// readRetryPolicy bounds retries of a read-class command send across a
// transient transport blip (a dropped exec channel, a flaky serial-over-IP
// bridge) before the engine marks the connection dead and reports a failed
// ExecutionResult. Write-class sends never use this -- they run at most once.
var readRetryPolicy = core.RetryPolicy{
	Attempts:       3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Multiplier:     2,
}

// approvalFingerprint identifies a (device, operation) pair for approval
// purposes. It mirrors internal/session.Fingerprint's hash exactly -- same
// tool name convention, same {"device", "operation"} argument shape, same
// sha256-of-json construction -- so the Session FSM's BeginTool/Interrupt,
// called with ApprovalToolName and this same argument map, produces an
// identical fingerprint without this package importing session (session
// already imports fleet, for the ApprovalChecker interface).
func approvalFingerprint(device string, op Operation) string {
	args := map[string]any{"device": device, "operation": op.String()}
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte(ApprovalToolName)
	}
	sum := sha256.Sum256(append([]byte(ApprovalToolName+"|"), encoded...))
	return hex.EncodeToString(sum[:])
}

// Registry is the subset of the capability registry the engine depends on,
// so engine tests can supply a fake without constructing a real
// file-backed registry.
type Registry interface {
	Match(kind capability.Kind, platform, operation string) (*capability.Capability, error)
}

// ApprovalChecker tells the engine whether a write-class operation has
// already been approved on the current thread (spec §4.2.1 step 2: "raise
// NeedsApproval; the Session FSM converts that into an interrupt"). The
// engine does not own approvals; the Session FSM does.
type ApprovalChecker interface {
	IsApproved(ctx context.Context, threadID, fingerprint string) bool
}

// alwaysRejectApproval is used when the engine is built without a Session
// FSM collaborator wired in yet (e.g. standalone `execute_command` CLI
// use outside a thread); every write-class call then raises NeedsApproval.
type alwaysRejectApproval struct{}

func (alwaysRejectApproval) IsApproved(context.Context, string, string) bool { return false }

// Engine is the Fleet Execution Engine (spec §4.2): three public
// operations sharing one piece of state, the connection pool.
type Engine struct {
	registry  Registry
	inventory InventoryProvider
	transport DeviceTransport
	parser    TemplateParser
	approval  ApprovalChecker
	pool      *pool

	connectTimeout time.Duration
}

// Config configures a new Engine.
type Config struct {
	MaxConnections     int
	ConnectTimeout     time.Duration
	IdleTimeout        time.Duration
	CircuitMaxFailures int
	// RequestsPerSecond and Burst bound the per-device command rate
	// (golang.org/x/time/rate token bucket); zero applies the package's
	// own defaults.
	RequestsPerSecond float64
	Burst             int
}

// NewEngine builds a Fleet Execution Engine. parser and approval may be
// nil, in which case parsing is unavailable and write operations always
// require approval.
func NewEngine(registry Registry, inventory InventoryProvider, transport DeviceTransport, parser TemplateParser, approval ApprovalChecker, cfg Config, onStateGauge func(state string, delta int)) *Engine {
	if parser == nil {
		parser = noopParser{}
	}
	if approval == nil {
		approval = alwaysRejectApproval{}
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Engine{
		registry:       registry,
		inventory:      inventory,
		transport:      transport,
		parser:         parser,
		approval:       approval,
		pool:           newPool(transport, cfg.IdleTimeout, cfg.CircuitMaxFailures, cfg.RequestsPerSecond, cfg.Burst, onStateGauge),
		connectTimeout: connectTimeout,
	}
}

var _ system.DescriptorProvider = (*Engine)(nil)

// Descriptor advertises this component's placement.
func (e *Engine) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "fleet",
		Domain: "execution",
		Layer:  core.LayerFleet,
	}.WithCapabilities("execute", "resolve", "list_devices")
}

// PoolSnapshot reports connection counts per state, for metrics/status.
func (e *Engine) PoolSnapshot() map[string]int {
	return e.pool.snapshot()
}

// Stop releases every pooled connection and stops the idle reaper.
func (e *Engine) Stop() {
	e.pool.Stop()
}

// Execute implements spec §4.2.1. threadID is used only to scope approval
// checks; pass "" for calls made outside a thread (standalone CLI use),
// which then can never satisfy an approval check for write operations.
func (e *Engine) Execute(ctx context.Context, threadID string, device Device, op Operation, opts ExecuteOptions) (*ExecutionResult, error) {
	platform := device.Platform
	if opts.PlatformOverride != "" {
		platform = opts.PlatformOverride
	}

	matched, err := e.registry.Match(capability.Kind(op.Kind), platform, op.String())
	if err != nil {
		return nil, err
	}

	fingerprint := approvalFingerprint(device.Name, op)
	if matched.IsWrite && !e.approval.IsApproved(ctx, threadID, fingerprint) {
		return nil, olaverr.New(olaverr.NeedsApproval, "write operation "+op.String()+" on "+device.Name+" requires approval")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	start := time.Now()
	session, unlock, err := e.pool.acquire(ctx, device, e.connectTimeout)
	if err != nil {
		unlock()
		return &ExecutionResult{
			Device:         device.Name,
			PatternMatched: matched.Pattern,
			Success:        false,
			ErrorKind:      string(olaverr.KindOf(err)),
			ErrorMessage:   err.Error(),
			DurationMS:     time.Since(start).Milliseconds(),
		}, nil
	}
	defer unlock()

	e.pool.markAwaiting(device)

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.pool.waitRateLimit(sendCtx, device); err != nil {
		return &ExecutionResult{
			Device:         device.Name,
			PatternMatched: matched.Pattern,
			Success:        false,
			ErrorKind:      string(olaverr.Timeout),
			ErrorMessage:   "rate limit wait: " + err.Error(),
			DurationMS:     time.Since(start).Milliseconds(),
		}, nil
	}

	var raw string
	var sendErr error
	if matched.IsWrite {
		// Write-class operations already passed through an approval gate and
		// must run at most once; only read-class commands are safe to retry.
		raw, sendErr = e.transport.Send(sendCtx, session, op)
	} else {
		sendErr = core.Retry(sendCtx, readRetryPolicy, func() error {
			out, err := e.transport.Send(sendCtx, session, op)
			raw = out
			return err
		})
	}
	if sendErr != nil {
		e.pool.markDead(device)
		kind := olaverr.Transport
		if sendCtx.Err() == context.DeadlineExceeded {
			kind = olaverr.Timeout
		}
		return &ExecutionResult{
			Device:         device.Name,
			PatternMatched: matched.Pattern,
			Success:        false,
			ErrorKind:      string(kind),
			ErrorMessage:   sendErr.Error(),
			DurationMS:     time.Since(start).Milliseconds(),
		}, nil
	}
	e.pool.markReady(device)

	result := &ExecutionResult{
		Device:         device.Name,
		PatternMatched: matched.Pattern,
		Raw:            raw,
		TokensRaw:      tokensOf(raw),
		Success:        true,
		DurationMS:     time.Since(start).Milliseconds(),
	}

	if opts.Parse && e.parser.HasTemplate(platform, op.String()) {
		rows, parseErr := e.parser.Parse(platform, op.String(), raw)
		if parseErr != nil {
			if opts.Fallback {
				result.Structured = false
				return result, nil
			}
			return nil, olaverr.Wrap(olaverr.ParseFailed, "parse output for "+op.String()+" on "+device.Name, parseErr)
		}
		result.Parsed = rows
		result.Structured = true
		result.TokensParsed = tokensOf(renderRows(rows))
		if result.TokensRaw > result.TokensParsed {
			result.TokensSaved = result.TokensRaw - result.TokensParsed
		}
	}

	return result, nil
}

// renderRows gives a stable textual form of parsed rows purely for token
// accounting (tokens_parsed in ExecutionResult); it is not a display
// format.
func renderRows(rows []ParsedRow) string {
	var b strings.Builder
	for _, r := range rows {
		for k, v := range r {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte(' ')
		}
		b.WriteByte('\n')
	}
	return b.String()
}
