// Package executor implements the Workflow Executor: the per-job state
// machine that patches a group's Deployments to a workflow's declared
// version and polls for readiness, reporting exactly one
// WorkflowJobFinished back to the Action Loop when it terminates.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ngerakines/workflow-deploy/internal/action"
	"github.com/ngerakines/workflow-deploy/internal/crd"
	"github.com/ngerakines/workflow-deploy/internal/k8sutil"
	"github.com/ngerakines/workflow-deploy/internal/metrics"
	"github.com/ngerakines/workflow-deploy/internal/storage"
	"github.com/ngerakines/workflow-deploy/internal/xerrors"
)

// GracePeriod is how long a WaitDeploymentReady step waits, after the
// UpdateDeployment it follows, before its first readiness query.
const GracePeriod = 5 * time.Second

// ReadinessTimeout is the effective timeout for a WaitDeploymentReady
// step. See the ambiguousTimeoutThreshold comment: the source this
// behavior was ported from also compares a 30s threshold, but that
// branch is evaluated second and can never fire before this one -- kept
// intentionally rather than "fixed" so the observable behavior matches
// the system this was ported from.
const ReadinessTimeout = 90 * time.Second

// ambiguousTimeoutThreshold is the dead-in-practice threshold from the
// readiness branch: it is only ever reached once now >= ReadinessTimeout
// has already terminated the wait, so it never fires first.
const ambiguousTimeoutThreshold = 30 * time.Second

// TickInterval is the Executor's run-loop polling period.
const TickInterval = time.Second

// Deps are the Executor's external collaborators.
type Deps struct {
	Store   storage.Storage
	Client  client.Client
	Breaker *gobreaker.CircuitBreaker
	Clock   clock.PassiveClock
	Logger  *zap.Logger
}

type stepKind int

const (
	stepStarted stepKind = iota
	stepUpdateDeployment
	stepWaitDeploymentReady
)

type planStep struct {
	kind     stepKind
	target   string
	versions map[string]string
}

type historyEntry struct {
	step planStep
	at   time.Time
}

// Executor is one (workflow, group) job's state machine.
type Executor struct {
	name     string
	checksum uint64
	group    string
	runID    string
	deps     Deps
	logger   *zap.Logger

	plan    []planStep
	history []historyEntry
}

// New builds an Executor and its plan by reading the workflow spec at
// checksum from storage.
func New(name string, checksum uint64, group string, deps Deps) (*Executor, error) {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	wf, err := deps.Store.GetWorkflow(name, &checksum)
	if err != nil {
		return nil, err
	}

	now := deps.Clock.Now()
	plan := []planStep{{kind: stepStarted}}
	plan = append(plan, buildPlan(wf)...)

	runID := uuid.NewString()
	return &Executor{
		name:     name,
		checksum: checksum,
		group:    group,
		runID:    runID,
		deps:     deps,
		logger:   deps.Logger.Named("executor").With(zap.String("run_id", runID)),
		plan:     plan,
		history:  []historyEntry{{step: plan[0], at: now}},
	}, nil
}

// buildPlan walks the workflow's steps in order, emitting an
// UpdateDeployment per target followed by a WaitDeploymentReady per
// target (after all of that action's updates), matching §4.2's plan
// construction.
func buildPlan(wf *crd.Workflow) []planStep {
	var plan []planStep
	for _, step := range wf.Spec.Steps {
		for _, act := range step.Actions {
			if act.Action != "update_deployment" {
				continue
			}
			for _, target := range act.Targets {
				versions := make(map[string]string, len(target.Containers))
				for _, container := range target.Containers {
					versions[container] = wf.Spec.Version
				}
				plan = append(plan, planStep{kind: stepUpdateDeployment, target: target.Name, versions: versions})
			}
			for _, target := range act.Targets {
				plan = append(plan, planStep{kind: stepWaitDeploymentReady, target: target.Name})
			}
		}
	}
	return plan
}

// Run advances the plan on a 1-second ticker until it terminates or ctx
// is cancelled. When the plan terminates it sends one WorkflowJobFinished
// on actions (dropped with a warning if the channel is full); when ctx is
// cancelled it returns without sending.
func (e *Executor) Run(ctx context.Context, actions chan<- action.Action) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			terminal, ok := e.tick(e.deps.Clock.Now())
			metrics.WorkflowLoopWorkRemaining.WithLabelValues(e.name, e.group).Set(float64(len(e.plan)))
			if terminal {
				e.finish(actions, ok)
				return
			}
		}
	}
}

func (e *Executor) finish(actions chan<- action.Action, ok bool) {
	select {
	case actions <- action.WorkflowJobFinishedAction(e.name, e.group, ok):
	default:
		e.logger.Warn("action channel full, dropping WorkflowJobFinished",
			zap.String("workflow_name", e.name), zap.String("workflow_group", e.group))
	}
}

// tick processes the current head of the plan exactly once, mirroring
// one firing of the 1-second ticker. It returns terminal=true once the
// plan is empty or a step fails permanently.
func (e *Executor) tick(now time.Time) (terminal bool, ok bool) {
	if len(e.plan) == 0 {
		return true, true
	}

	head := e.plan[0]
	switch head.kind {
	case stepStarted:
		metrics.WorkflowLoopEvent.WithLabelValues(e.name, "started").Inc()
		e.plan = e.plan[1:]
	case stepUpdateDeployment:
		if !e.updateDeployment(now, head) {
			return true, false
		}
	case stepWaitDeploymentReady:
		switch e.waitDeploymentReady(now, head) {
		case waitFailed:
			return true, false
		case waitPending, waitDone:
		}
	}

	if len(e.plan) == 0 {
		return true, true
	}
	return false, true
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

func (e *Executor) updateDeployment(now time.Time, step planStep) bool {
	ctx := context.Background()
	var dep appsv1.Deployment

	err := e.callAPI(func() error {
		return e.deps.Client.Get(ctx, client.ObjectKey{Namespace: e.group, Name: step.target}, &dep)
	})
	if err != nil {
		metrics.WorkflowLoopDeploymentNotFound.WithLabelValues(e.name, e.group).Inc()
		e.logger.Warn("failed to fetch deployment", zap.Bool("not_found", apierrors.IsNotFound(err)), zap.String("workflow_name", e.name),
			zap.String("workflow_group", e.group), zap.String("resource_name", step.target), zap.Error(err))
		return false
	}

	var ops []patchOp
	for i, container := range dep.Spec.Template.Spec.Containers {
		newVersion, ok := step.versions[container.Name]
		if !ok {
			continue
		}
		ops = append(ops, patchOp{
			Op:    "replace",
			Path:  fmt.Sprintf("/spec/template/spec/containers/%d/image", i),
			Value: k8sutil.RewriteImageTag(container.Image, newVersion),
		})
	}

	if len(ops) > 0 {
		patchBytes, marshalErr := json.Marshal(ops)
		if marshalErr != nil {
			e.logger.Error("failed to marshal json patch", zap.Error(marshalErr))
			return false
		}

		err = e.callAPI(func() error {
			return e.deps.Client.Patch(ctx, &dep, client.RawPatch(types.JSONPatchType, patchBytes))
		})
		if err != nil {
			metrics.WorkflowLoopDeploymentPatchFailed.WithLabelValues(e.name, e.group).Inc()
			e.logger.Warn("failed to patch deployment", zap.String("workflow_name", e.name),
				zap.String("workflow_group", e.group), zap.String("resource_name", step.target), zap.Error(err))
			return false
		}
	}

	e.history = append(e.history, historyEntry{step: step, at: now})
	e.plan = e.plan[1:]
	metrics.WorkflowLoopEvent.WithLabelValues(e.name, "update_deployment").Inc()
	return true
}

type waitStatus int

const (
	waitPending waitStatus = iota
	waitDone
	waitFailed
)

func (e *Executor) waitDeploymentReady(now time.Time, step planStep) waitStatus {
	t0, found := e.lastUpdateTime(step.target)
	if !found {
		e.logger.Error("no UpdateDeployment history entry for WaitDeploymentReady",
			zap.String("workflow_name", e.name), zap.String("resource_name", step.target))
		return waitFailed
	}

	if now.Before(t0.Add(GracePeriod)) {
		return waitPending
	}

	ready, err := e.deps.Store.IsResourceReady(e.group, k8sutil.DeploymentResourceKind, step.target)
	if err != nil {
		e.logger.Warn("failed to query resource readiness", zap.Error(err), zap.String("resource_name", step.target))
	}

	if !ready && now.Before(t0.Add(ReadinessTimeout)) {
		return waitPending
	}
	if !ready && !now.Before(t0.Add(ambiguousTimeoutThreshold)) {
		metrics.WorkflowLoopDeploymentTimeout.WithLabelValues(e.name, e.group).Inc()
		return waitFailed
	}

	if ready {
		e.history = append(e.history, historyEntry{step: step, at: now})
		e.plan = e.plan[1:]
		metrics.WorkflowLoopEvent.WithLabelValues(e.name, "wait_deployment_ready").Inc()
		return waitDone
	}
	return waitPending
}

func (e *Executor) lastUpdateTime(target string) (time.Time, bool) {
	for i := len(e.history) - 1; i >= 0; i-- {
		entry := e.history[i]
		if entry.step.kind == stepUpdateDeployment && entry.step.target == target {
			return entry.at, true
		}
	}
	return time.Time{}, false
}

// callAPI runs fn through the circuit breaker, classifying its error with
// xerrors.IsRetryable so only transient failures (timeouts, connection
// resets, API unavailability) count toward the breaker's trip decision --
// a permanent error like "deployment not found" fails this call without
// nudging the breaker toward tripping for an outage that isn't happening.
func (e *Executor) callAPI(fn func() error) error {
	var callErr error
	_, err := e.breaker().Execute(func() (interface{}, error) {
		callErr = fn()
		if callErr != nil && !xerrors.IsRetryable(callErr) {
			return nil, nil
		}
		return nil, callErr
	})
	if err != nil {
		return err
	}
	return callErr
}

func (e *Executor) breaker() *gobreaker.CircuitBreaker {
	if e.deps.Breaker == nil {
		return noopBreaker()
	}
	return e.deps.Breaker
}

func noopBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "executor-noop"})
}

// Spawn adapts Deps into an actionloop.ExecutorSpawner-compatible
// function: it builds a fresh Executor for the given job and runs it
// as a detached goroutine. The Action Loop never tracks the returned
// goroutine; observation happens exclusively through the
// WorkflowJobFinished action Run sends back.
func Spawn(deps Deps) func(ctx context.Context, actions chan<- action.Action, name string, checksum uint64, group string) {
	return func(ctx context.Context, actions chan<- action.Action, name string, checksum uint64, group string) {
		ex, err := New(name, checksum, group, deps)
		if err != nil {
			deps.Logger.Error("failed to build executor plan", zap.String("workflow_name", name),
				zap.String("workflow_group", group), zap.Error(err))
			go func() {
				select {
				case actions <- action.WorkflowJobFinishedAction(name, group, false):
				default:
				}
			}()
			return
		}
		go ex.Run(ctx, actions)
	}
}
