// Package actionloop implements the Action Loop: the single-consumer
// dispatcher that owns the WorkflowJob queue, evaluates suppression and
// debounce, and spawns Workflow Executors under a bounded concurrency
// cap.
package actionloop

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/ngerakines/workflow-deploy/internal/action"
	"github.com/ngerakines/workflow-deploy/internal/metrics"
	"github.com/ngerakines/workflow-deploy/internal/storage"
	"github.com/ngerakines/workflow-deploy/internal/suppression"
)

// MaxInFlight is the hard-coded per-workflow concurrency cap. Spec.md
// calls this out as "a future field on the spec" -- WorkflowSpec.Parallel
// is read from the wire but not yet honored here.
const MaxInFlight = 3

// Debounce is the delay applied to every newly-enqueued WorkflowJob.
const Debounce = 15 * time.Second

// TickInterval is the loop's wake-up period when no action arrives.
const TickInterval = 3 * time.Second

// ExecutorSpawner spawns a detached Workflow Executor task for one
// (name, checksum, group) WorkflowJob. The Action Loop does not track
// the spawned task's handle; the executor reports back exclusively via
// a WorkflowJobFinished action on actions.
type ExecutorSpawner func(ctx context.Context, actions chan<- action.Action, name string, checksum uint64, group string)

type jobKey struct {
	name     string
	checksum uint64
	group    string
}

type workflowJob struct {
	after    time.Time
	inFlight bool
}

// Loop is the Action Loop. It owns the WorkflowJob queue and the
// suppression tables; state is task-local, accessed only by Run's
// goroutine, so no locking is needed within it.
type Loop struct {
	store   storage.Storage
	spawn   ExecutorSpawner
	logger  *zap.Logger
	clock   clock.PassiveClock
	jobs    map[jobKey]workflowJob
	windows map[string]suppression.Evaluator
}

// New builds an Action Loop. clk may be nil, defaulting to the real
// wall clock; tests inject a fake to exercise debounce/timeout logic
// deterministically.
func New(store storage.Storage, spawn ExecutorSpawner, logger *zap.Logger, clk clock.PassiveClock) *Loop {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Loop{
		store:   store,
		spawn:   spawn,
		logger:  logger.Named("action_loop"),
		clock:   clk,
		jobs:    make(map[jobKey]workflowJob),
		windows: make(map[string]suppression.Evaluator),
	}
}

// Run is the loop's main body: receive one action (or wake on the 3s
// tick), handle it, then perform a dispatch pass, until ctx is
// cancelled. actions is both the channel this loop consumes and the
// channel handed to spawned Executors to report completion on.
func (l *Loop) Run(ctx context.Context, actions chan action.Action) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case a := <-actions:
			l.handle(a)
			l.dispatchPass(ctx, actions)
		case <-ticker.C:
			l.dispatchPass(ctx, actions)
		}
	}
}

func (l *Loop) handle(a action.Action) {
	switch a.Kind {
	case action.WorkflowUpdated:
		l.handleWorkflowUpdated(a.Name, a.VersionChanged)
		metrics.ActionLoopEvent.WithLabelValues("workflow_updated", a.Name).Inc()
	case action.ReconcileWorkflow:
		l.handleReconcileWorkflow(a.Name)
		metrics.ActionLoopEvent.WithLabelValues("reconcile_workflow", a.Name).Inc()
	case action.WorkflowJobFinished:
		l.handleWorkflowJobFinished(a.Name, a.Group, a.EverythingOK)
		metrics.ActionLoopEvent.WithLabelValues("workflow_job_finished", a.Name).Inc()
	}
}

func (l *Loop) handleWorkflowUpdated(name string, versionChanged bool) {
	wf, err := l.store.GetWorkflow(name, nil)
	if err != nil {
		l.logger.Warn("failed to fetch workflow for WorkflowUpdated", zap.String("workflow_name", name), zap.Error(err))
		return
	}

	l.windows[name] = suppression.NewEvaluator(suppression.Parse(wf.Spec.Supression, l.logger))

	if !versionChanged {
		return
	}

	// Retention predicate: drop only waiting (not in-flight) entries for
	// this workflow name; in-flight entries survive so their Executors
	// can finish and report.
	for key, job := range l.jobs {
		if key.name == name && !job.inFlight {
			delete(l.jobs, key)
		}
	}

	checksum := wf.Checksum()
	after := l.clock.Now().Add(Debounce)
	for _, ns := range wf.Spec.Namespaces {
		l.jobs[jobKey{name: name, checksum: checksum, group: ns}] = workflowJob{after: after, inFlight: false}
	}
}

func (l *Loop) handleReconcileWorkflow(name string) {
	for key := range l.jobs {
		if key.name == name {
			return
		}
	}
	l.handleWorkflowUpdated(name, true)
}

func (l *Loop) handleWorkflowJobFinished(name, group string, everythingOK bool) {
	if everythingOK {
		for key := range l.jobs {
			if key.name == name && key.group == group {
				delete(l.jobs, key)
			}
		}
		return
	}

	var (
		failingChecksum uint64
		found           bool
	)
	for key, job := range l.jobs {
		if key.name == name && key.group == group && job.inFlight {
			failingChecksum = key.checksum
			found = true
			break
		}
	}
	if !found {
		return
	}

	for key := range l.jobs {
		if key.name == name && key.checksum != failingChecksum {
			delete(l.jobs, key)
		}
	}
	delete(l.jobs, jobKey{name: name, checksum: failingChecksum, group: group})
	metrics.ActionLoopPurge.WithLabelValues(name).Inc()
}

func (l *Loop) dispatchPass(ctx context.Context, actions chan<- action.Action) {
	names, err := l.store.GetWorkflowNames()
	if err != nil {
		l.logger.Error("failed to list workflow names for dispatch", zap.Error(err))
		return
	}

	now := l.clock.Now()
	for _, name := range names {
		if !l.hasWaitingEntries(name) {
			continue
		}

		if eval, ok := l.windows[name]; ok && eval.IsSuppressed(now) {
			metrics.ActionLoopSupress.WithLabelValues(name).Inc()
			continue
		}

		slots := MaxInFlight - l.countInFlight(name)
		for slots > 0 {
			key, ok := l.nextCandidate(name, now)
			if !ok {
				break
			}
			job := l.jobs[key]
			job.inFlight = true
			l.jobs[key] = job

			metrics.ActionLoopDispatch.WithLabelValues(name).Inc()
			l.spawn(ctx, actions, key.name, key.checksum, key.group)
			slots--
		}
	}
}

func (l *Loop) hasWaitingEntries(name string) bool {
	for key, job := range l.jobs {
		if key.name == name && !job.inFlight {
			return true
		}
	}
	return false
}

func (l *Loop) countInFlight(name string) int {
	count := 0
	for key, job := range l.jobs {
		if key.name == name && job.inFlight {
			count++
		}
	}
	return count
}

// nextCandidate selects one eligible, non-in-flight, due entry for name
// whose group's namespace is currently enabled. Tie-breaking among
// multiple eligible entries is unspecified.
func (l *Loop) nextCandidate(name string, now time.Time) (jobKey, bool) {
	for key, job := range l.jobs {
		if key.name != name || job.inFlight {
			continue
		}
		if job.after.After(now) {
			continue
		}
		if !l.store.IsNamespaceEnabled(key.group) {
			continue
		}
		return key, true
	}
	return jobKey{}, false
}
