// Package metrics exposes the fixed Prometheus collectors emitted by the
// Action Loop, the Workflow Executor, and the Reconcile Loop. Dotted
// names from the external contract (e.g. "action_loop.event") are
// rendered as Prometheus-legal underscored names
// ("action_loop_event_total"); the dotted form is kept in each
// collector's Help text as the canonical metric name.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ActionLoopEvent counts every action handled by the Action Loop,
	// labeled by event kind and workflow name.
	ActionLoopEvent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "action_loop_event_total",
		Help: "action_loop.event: actions handled by the Action Loop.",
	}, []string{"event", "workflow_name"})

	// ActionLoopPurge counts WorkflowJob queue entries purged following a
	// failed Executor run.
	ActionLoopPurge = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "action_loop_purge_total",
		Help: "action_loop.purge: queue entries purged after a failure.",
	}, []string{"workflow_name"})

	// ActionLoopSupress counts dispatch passes skipped because a
	// workflow's suppression window covers now.
	ActionLoopSupress = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "action_loop_supress_total",
		Help: "action_loop.supress: dispatch passes skipped due to suppression.",
	}, []string{"workflow_name"})

	// ActionLoopDispatch counts WorkflowJob entries dispatched (an
	// Executor spawned) per workflow.
	ActionLoopDispatch = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "action_loop_dispatch_total",
		Help: "action_loop.dispatch: WorkflowJob entries dispatched.",
	}, []string{"workflow_name"})

	// WorkflowLoopEvent counts plan-step events observed by Executors.
	WorkflowLoopEvent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_loop_event_total",
		Help: "workflow_loop.event: Executor plan-step events.",
	}, []string{"workflow_name", "event_name"})

	// WorkflowLoopWorkRemaining reports the number of plan steps left in
	// a running Executor's plan.
	WorkflowLoopWorkRemaining = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "workflow_loop_work_remaining",
		Help: "workflow_loop.work_remaining: plan steps left for a running Executor.",
	}, []string{"workflow_name", "workflow_group"})

	// WorkflowLoopDeploymentNotFound counts UpdateDeployment steps that
	// failed to fetch the target Deployment (missing, or any other API
	// error on the Get).
	WorkflowLoopDeploymentNotFound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_loop_deployment_not_found_total",
		Help: "workflow_loop.deployment_not_found: target Deployment missing.",
	}, []string{"workflow_name", "workflow_group"})

	// WorkflowLoopDeploymentPatchFailed counts failed JSON-Patch submissions.
	WorkflowLoopDeploymentPatchFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_loop_deployment_patch_failed_total",
		Help: "workflow_loop.deployment_patch_failed: JSON-Patch submission failed.",
	}, []string{"workflow_name", "workflow_group"})

	// WorkflowLoopDeploymentTimeout counts WaitDeploymentReady steps that
	// exceeded the effective 90s readiness timeout.
	WorkflowLoopDeploymentTimeout = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_loop_deployment_timeout_total",
		Help: "workflow_loop.deployment_timeout: readiness wait exceeded its timeout.",
	}, []string{"workflow_name", "workflow_group"})

	// ReconcileLoopReconcile counts ReconcileWorkflow actions emitted.
	ReconcileLoopReconcile = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_loop_reconcile_total",
		Help: "reconcile_loop.reconcile: ReconcileWorkflow actions emitted.",
	})
)

// Registry is the controller's dedicated Prometheus registry, kept
// separate from the global default registry so /metrics serves only the
// collectors registered here (once, in init).
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		ActionLoopEvent,
		ActionLoopPurge,
		ActionLoopSupress,
		ActionLoopDispatch,
		WorkflowLoopEvent,
		WorkflowLoopWorkRemaining,
		WorkflowLoopDeploymentNotFound,
		WorkflowLoopDeploymentPatchFailed,
		WorkflowLoopDeploymentTimeout,
		ReconcileLoopReconcile,
	)
}
