package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/olavhq/olav/internal/audit"
	"github.com/olavhq/olav/internal/capability"
	"github.com/olavhq/olav/internal/config"
	"github.com/olavhq/olav/internal/fleet"
	"github.com/olavhq/olav/internal/httpapi"
	"github.com/olavhq/olav/internal/inspection"
	"github.com/olavhq/olav/internal/knowledge"
	"github.com/olavhq/olav/internal/logging"
	"github.com/olavhq/olav/internal/metrics"
	"github.com/olavhq/olav/internal/olaverr"
	"github.com/olavhq/olav/internal/scheduler"
	"github.com/olavhq/olav/internal/session"
	system "github.com/olavhq/olav/internal/system"
)

// app wires every olav component together from a loaded configuration. It
// is built fresh by every CLI subcommand; only `serve` keeps it running
// past the command that built it.
type app struct {
	cfg *config.Config
	log *logging.Logger

	db *sql.DB

	registry    *capability.Registry
	inventory   *fleet.StaticInventory
	credentials fleet.EnvCredentialProvider
	transport   *fleet.SSHTransport
	parser      *fleet.FileTemplateParser
	sessions    *session.Manager
	engine      *fleet.Engine

	store        *knowledge.Store
	index        *knowledge.Index
	catalog      *knowledge.Catalog
	persister    *knowledge.ReportPersister
	orchestrator *inspection.Orchestrator

	audit *audit.Log

	httpSvc   *httpapi.Service
	scheduler *scheduler.Scheduler
}

// buildApp constructs every component in dependency order but starts
// nothing: callers that need a running HTTP listener or scheduler call
// systemManager() and Start it.
func buildApp(cfg *config.Config) (*app, error) {
	log := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	a := &app{cfg: cfg, log: log}

	if dsn := resolveDSN(cfg); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, olaverr.Wrap(olaverr.Internal, "open postgres", err)
		}
		configurePool(db, cfg)
		if err := db.PingContext(context.Background()); err != nil {
			return nil, olaverr.Wrap(olaverr.Internal, "ping postgres", err)
		}
		a.db = db
	}

	a.registry = capability.NewRegistry(cfg.Agent.CommandsDir(), cfg.Agent.APIsDir())
	if _, err := a.registry.Reload(); err != nil {
		log.Warnf("initial capability reload: %v", err)
	}

	a.inventory = fleet.NewStaticInventory(cfg.Agent.InventoryFile())
	a.credentials = fleet.NewEnvCredentialProvider()
	a.transport = fleet.NewSSHTransport(a.credentials, 0)

	parser, err := fleet.NewFileTemplateParser(cfg.Agent.TemplatesDir())
	if err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "load templates", err)
	}
	a.parser = parser

	var threadStore session.ThreadStore
	if a.db != nil {
		threadStore = session.NewPostgresStore(a.db)
	} else {
		threadStore = session.NewMemoryStore()
	}
	a.sessions = session.NewManager(threadStore, cfg.Session.MaxConcurrent)

	var poolGaugeMu sync.Mutex
	poolGauge := map[string]int{}
	a.engine = fleet.NewEngine(a.registry, a.inventory, a.transport, a.parser, a.sessions, fleet.Config{
		MaxConnections:     cfg.Fleet.MaxConnections,
		ConnectTimeout:     time.Duration(cfg.Fleet.ConnectTimeoutSec) * time.Second,
		IdleTimeout:        time.Duration(cfg.Fleet.IdleTimeoutSec) * time.Second,
		CircuitMaxFailures: cfg.Fleet.CircuitMaxFailures,
		RequestsPerSecond:  cfg.Fleet.RequestsPerSecond,
		Burst:              cfg.Fleet.Burst,
	}, func(state string, delta int) {
		// Called with the connection's lock held, so counts come from the
		// deltas (PoolSnapshot would wait on that lock). Dead and
		// Disconnected connections leave the pool at once, so those read 0.
		poolGaugeMu.Lock()
		poolGauge[state] += delta
		if state == "dead" || state == "disconnected" {
			poolGauge[state] = 0
		}
		n := poolGauge[state]
		poolGaugeMu.Unlock()
		metrics.SetPoolConnections(state, n)
	})

	a.index, err = knowledge.NewIndex(nil, nil)
	if err != nil {
		return nil, olaverr.Wrap(olaverr.Internal, "build knowledge index", err)
	}
	a.store = knowledge.NewStore(cfg.Agent.Dir, a.index)
	a.catalog = knowledge.NewCatalog(a.store, "skills")
	if err := a.catalog.ReloadSkills(); err != nil {
		log.Warnf("initial skill reload: %v", err)
	}
	a.persister = knowledge.NewReportPersister(a.store, a.index)

	a.orchestrator = inspection.NewOrchestrator(a.engine, a.catalog, a.persister, a.persister, inspection.Config{
		Concurrency:       cfg.Inspection.Concurrency,
		ReportMaxToks:     cfg.Inspection.ReportMaxToks,
		RequestsPerSecond: cfg.Inspection.RequestsPerSecond,
		Burst:             cfg.Inspection.Burst,
	})

	var auditSink audit.Sink
	if path := strings.TrimSpace(os.Getenv("FLEET_AUDIT_LOG_PATH")); path != "" {
		sink, err := audit.NewFileSink(path)
		if err != nil {
			log.Warnf("fleet audit log not configured: %v", err)
		} else {
			auditSink = sink
		}
	} else if a.db != nil {
		auditSink = audit.NewPostgresSink(a.db)
	}
	a.audit = audit.NewLog(auditSink, func(err error) {
		log.Warnf("audit write failed: %v", err)
	})

	jobs, err := loadScheduleFile(cfg.Agent.SchedulePath())
	if err != nil {
		return nil, err
	}
	if len(jobs) > 0 {
		a.scheduler = scheduler.New(a.orchestrator, jobs, log, time.Duration(cfg.Inspection.TimeoutSec)*time.Second)
	}

	a.httpSvc = httpapi.NewService(newStatusProvider(a), a, httpapi.Config{
		Addr:      fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Tokens:    cfg.Auth.Tokens,
		JWTSecret: cfg.Auth.JWTSecret,
		Version:   version,
		DB:        a.db,
	}, log)

	return a, nil
}

// Reload implements httpapi.Reloader: re-reads capability files and the
// skill catalog from the agent directory.
func (a *app) Reload() error {
	if _, err := a.registry.Reload(); err != nil {
		return err
	}
	return a.catalog.ReloadSkills()
}

// Close releases resources buildApp opened that outlive a single command
// (the connection pool, the database handle). Safe to call on a nil app.
func (a *app) Close() {
	if a == nil {
		return
	}
	if a.engine != nil {
		a.engine.Stop()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// systemManager assembles the long-running services (HTTP control surface,
// scheduler) for `serve` to start and stop in order.
func (a *app) systemManager() *system.Manager {
	services := []system.Service{a.httpSvc}
	if a.scheduler != nil {
		services = append(services, a.scheduler)
	}
	return system.NewManager(services...)
}

// descriptorProviders lists every component the `status` command and the
// control surface's StatusProvider report on.
func (a *app) descriptorProviders() []system.DescriptorProvider {
	return []system.DescriptorProvider{a.registry, a.engine, a.orchestrator}
}

// executeWithApproval runs one device/operation through the engine inside
// an ephemeral CLI thread, interactively prompting the operator when a
// write-class capability raises NeedsApproval (spec §4.2.1 step 2's
// interrupt, played out over a terminal instead of a chat client). Every
// attempt -- approved or not -- is recorded to the fleet audit trail.
func (a *app) executeWithApproval(ctx context.Context, device fleet.Device, op fleet.Operation, opts fleet.ExecuteOptions) (*fleet.ExecutionResult, error) {
	th, err := a.sessions.CreateThread(ctx, "cli")
	if err != nil {
		return nil, err
	}
	if _, err := a.sessions.StartMessage(ctx, th.ID, "cli execute "+op.String()+" on "+device.Name); err != nil {
		return nil, err
	}
	defer a.sessions.Cancel(ctx, th.ID)

	args := map[string]any{"device": device.Name, "operation": op.String()}
	if _, err := a.sessions.BeginTool(ctx, th.ID, fleet.ApprovalToolName, args); err != nil {
		return nil, err
	}

	result, execErr := a.engine.Execute(ctx, th.ID, device, op, opts)
	if execErr != nil && olaverr.Is(execErr, olaverr.NeedsApproval) {
		if !confirmOnTerminal(device, op) {
			a.recordAudit(th.ID, device, op, false, 0, "operator declined approval")
			return nil, olaverr.New(olaverr.NotPermitted, "operator declined approval for "+op.String()+" on "+device.Name)
		}
		if _, err := a.sessions.Interrupt(ctx, th.ID, fleet.ApprovalToolName, args); err != nil {
			return nil, err
		}
		fingerprint := session.Fingerprint(fleet.ApprovalToolName, args)
		if _, err := a.sessions.Resume(ctx, th.ID, true, fingerprint); err != nil {
			return nil, err
		}
		if _, err := a.sessions.BeginTool(ctx, th.ID, fleet.ApprovalToolName, args); err != nil {
			return nil, err
		}
		result, execErr = a.engine.Execute(ctx, th.ID, device, op, opts)
	}

	status := "ok"
	if execErr != nil || (result != nil && !result.Success) {
		status = "error"
	}
	metrics.RecordCapabilityExecution(op.String(), status, time.Duration(durationMS(result))*time.Millisecond)

	if execErr != nil {
		a.recordAudit(th.ID, device, op, false, 0, execErr.Error())
		return nil, execErr
	}
	a.recordAudit(th.ID, device, op, result.Success, len(result.Raw), result.ErrorMessage)
	return result, nil
}

func durationMS(r *fleet.ExecutionResult) int64 {
	if r == nil {
		return 0
	}
	return r.DurationMS
}

func (a *app) recordAudit(threadID string, device fleet.Device, op fleet.Operation, success bool, bytes int, errMsg string) {
	a.audit.Record(audit.Entry{
		ThreadID:  threadID,
		Device:    device.Name,
		Operation: op.String(),
		Success:   success,
		Bytes:     int64(bytes),
		Error:     errMsg,
	})
}

// confirmOnTerminal asks the operator to approve a write-class operation
// on stdin/stdout, the CLI's stand-in for the chat client that would
// otherwise render the Session FSM's Interrupted state as an approval
// prompt.
func confirmOnTerminal(device fleet.Device, op fleet.Operation) bool {
	fmt.Printf("approval required: %s on %s -- allow? [y/N] ", op.String(), device.Name)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

func resolveDSN(cfg *config.Config) string {
	if trimmed := strings.TrimSpace(cfg.Database.DSN); trimmed != "" {
		return trimmed
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}
