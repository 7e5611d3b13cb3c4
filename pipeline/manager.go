package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/forgepipeline/core/codebase"
	"github.com/forgepipeline/core/codehost"
	"github.com/forgepipeline/core/llm"
	"github.com/forgepipeline/core/refdocs"
	"github.com/forgepipeline/core/store"
)

// Manager owns the five pipeline workers and the Orchestrator, starting
// and stopping them together as one process-lifetime unit. It generalizes
// the teacher's BackgroundAgentManager (background.go) into a thin
// composition root: each worker is a standalone type embedding its own
// workerLoop rather than a closure registered with a shared manager.
type Manager struct {
	Triage      *TriageWorker
	Architect   *ArchitectWorker
	Trigger     *ImplementationTriggerWorker
	PRMonitor   *PullRequestMonitorWorker
	CodeReview  *CodeReviewWorker
	Orchestrator *Orchestrator
	Admin       *Admin
	Metrics     *Metrics

	cancel context.CancelFunc
}

// NewManager wires every worker and the Orchestrator from the shared
// collaborators, deriving every cadence from cfg's poll interval: the
// Architect and PullRequestMonitor workers poll at twice that interval,
// the other workers and the Orchestrator at the interval itself.
// reg registers the pipeline's Prometheus series; pass nil to fall back to
// prometheus.DefaultRegisterer.
func NewManager(db store.Store, host codehost.Client, llmClient *llm.Client, cache *codebase.Cache, docs *refdocs.Store, cfg *ConfigStore, log *slog.Logger, notify func(StallNotice), reg prometheus.Registerer) *Manager {
	base := cfg.Current(context.Background())
	interval, err := time.ParseDuration(base.PollInterval)
	if err != nil || interval <= 0 {
		interval = 30 * time.Second
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics := NewMetrics(reg)

	orch := NewOrchestrator(db, host, cfg, interval, log, notify)
	triage := NewTriageWorker(db, host, llmClient, docs, cfg, interval, log)
	architect := NewArchitectWorker(db, llmClient, cache, docs, cfg, 2*interval, log)
	trigger := NewImplementationTriggerWorker(db, host, docs, cfg, interval, log)
	prMonitor := NewPullRequestMonitorWorker(db, host, cfg, 2*interval, log)
	codeReview := NewCodeReviewWorker(db, host, llmClient, cfg, interval, log)

	triage.SetMetrics(metrics)
	architect.SetMetrics(metrics)
	trigger.SetMetrics(metrics)
	prMonitor.SetMetrics(metrics)
	codeReview.SetMetrics(metrics)
	orch.SetMetrics(metrics)

	return &Manager{
		Triage:       triage,
		Architect:    architect,
		Trigger:      trigger,
		PRMonitor:    prMonitor,
		CodeReview:   codeReview,
		Orchestrator: orch,
		Admin:        NewAdmin(db, host, orch),
		Metrics:      metrics,
	}
}

// Start launches every worker and the Orchestrator in its own goroutine,
// all cancelled together by Stop.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go m.Triage.Run(ctx)
	go m.Architect.Run(ctx)
	go m.Trigger.Run(ctx)
	go m.PRMonitor.Run(ctx)
	go m.CodeReview.Run(ctx)
	go m.Orchestrator.Run(ctx)
}

// Stop cancels every worker's context; it does not block for their
// in-flight cycles to finish.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Statuses returns every worker's current run status, keyed by name, for
// the admin dashboard (SPEC_FULL.md §8 GET /stats).
func (m *Manager) Statuses() map[string]Status {
	return map[string]Status{
		"triage":               m.Triage.Status(),
		"architect":            m.Architect.Status(),
		"implementation-trigger": m.Trigger.Status(),
		"pr-monitor":           m.PRMonitor.Status(),
		"code-review":          m.CodeReview.Status(),
		"orchestrator":         m.Orchestrator.Status(),
	}
}

// Pause stops the named worker's cycles from running until Resume; name
// matches the keys returned by Statuses.
func (m *Manager) Pause(name string) bool {
	switch name {
	case "triage":
		m.Triage.Pause()
	case "architect":
		m.Architect.Pause()
	case "implementation-trigger":
		m.Trigger.Pause()
	case "pr-monitor":
		m.PRMonitor.Pause()
	case "code-review":
		m.CodeReview.Pause()
	case "orchestrator":
		m.Orchestrator.Pause()
	default:
		return false
	}
	return true
}

// Resume clears a prior Pause on the named worker.
func (m *Manager) Resume(name string) bool {
	switch name {
	case "triage":
		m.Triage.Resume()
	case "architect":
		m.Architect.Resume()
	case "implementation-trigger":
		m.Trigger.Resume()
	case "pr-monitor":
		m.PRMonitor.Resume()
	case "code-review":
		m.CodeReview.Resume()
	case "orchestrator":
		m.Orchestrator.Resume()
	default:
		return false
	}
	return true
}
