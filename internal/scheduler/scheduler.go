// Package scheduler runs Inspection plans on a cron schedule, generalizing
// the teacher's automation scheduler from "poll the automation store" to
// "run a scheduled Inspection plan" (spec: scheduled/periodic inspections
// named in §6's external-interfaces discussion of operational deployment).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	core "github.com/olavhq/olav/internal/core"
	"github.com/olavhq/olav/internal/inspection"
	"github.com/olavhq/olav/internal/logging"
	"github.com/olavhq/olav/internal/metrics"
	"github.com/olavhq/olav/internal/olaverr"
	system "github.com/olavhq/olav/internal/system"
)

// Job is one scheduled inspection: run SkillID against Selector on Spec's
// cron schedule (standard five-field cron syntax).
type Job struct {
	Name     string
	Spec     string
	SkillID  string
	Selector string
	Params   map[string]any
}

// Orchestrator is the subset of inspection.Orchestrator the scheduler
// depends on, so tests can supply a fake.
type Orchestrator interface {
	Prepare(ctx context.Context, req inspection.PlanRequest) (*inspection.Plan, error)
	Run(ctx context.Context, plan *inspection.Plan, opts inspection.RunOptions) (*inspection.Report, error)
}

// Scheduler runs a fixed set of Jobs against an Orchestrator on their cron
// schedules. It implements system.Service so the process-wide Manager
// starts and stops it alongside every other component.
type Scheduler struct {
	orch Orchestrator
	jobs []Job
	log  *logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	timeout time.Duration
}

// New builds a Scheduler. timeout bounds how long one scheduled run may
// take; zero disables the bound.
func New(orch Orchestrator, jobs []Job, log *logging.Logger, timeout time.Duration) *Scheduler {
	if log == nil {
		log = logging.NewDefault("scheduler")
	}
	return &Scheduler{orch: orch, jobs: jobs, log: log, timeout: timeout}
}

var _ system.Service = (*Scheduler)(nil)
var _ system.DescriptorProvider = (*Scheduler)(nil)

// Name implements system.Service.
func (s *Scheduler) Name() string { return "scheduler" }

// Descriptor implements system.DescriptorProvider.
func (s *Scheduler) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "scheduler",
		Domain: "automation",
		Layer:  core.LayerInspection,
	}.WithCapabilities("scheduled_inspection")
}

// Start registers every job with a new cron instance and starts it. An
// invalid cron spec fails Start entirely rather than silently dropping one
// job, so a typo in a schedule is caught at process startup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cron.New()
	for _, job := range s.jobs {
		job := job
		if _, err := c.AddFunc(job.Spec, func() { s.runJob(job) }); err != nil {
			return olaverr.Wrap(olaverr.Internal, "schedule job "+job.Name, err)
		}
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop drains the cron scheduler, waiting for any run in progress to
// finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) runJob(job Job) {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	plan, err := s.orch.Prepare(ctx, inspection.PlanRequest{
		SkillID:    job.SkillID,
		Selector:   job.Selector,
		Parameters: job.Params,
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"job": job.Name, "error": err}).Error("scheduled inspection: prepare failed")
		return
	}

	started := time.Now()
	report, err := s.orch.Run(ctx, plan, inspection.RunOptions{Persist: true})
	if err != nil {
		s.log.WithFields(logrus.Fields{"job": job.Name, "error": err}).Error("scheduled inspection: run failed")
		return
	}
	metrics.RecordInspectionRun(string(dominantTier(report.Aggregate.CountsByTier)), time.Since(started))
	s.log.WithFields(logrus.Fields{
		"job":     job.Name,
		"counts":  report.Aggregate.CountsByTier,
		"devices": len(report.PerDevice),
	}).Info("scheduled inspection completed")
}

// dominantTier picks the worst tier present in a report's per-device counts
// as the single label a scheduled run's metric gets -- FAIL outranks
// WARNING, which outranks PASS, which outranks SKIPPED.
func dominantTier(counts map[inspection.Tier]int) inspection.Tier {
	for _, t := range []inspection.Tier{inspection.TierFail, inspection.TierWarning, inspection.TierPass, inspection.TierSkipped} {
		if counts[t] > 0 {
			return t
		}
	}
	return inspection.TierSkipped
}
