// Package reconcile implements the periodic loop that emits a
// ReconcileWorkflow action for every known workflow, healing missed
// watch events and enforcing drift correction.
package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ngerakines/workflow-deploy/internal/action"
	"github.com/ngerakines/workflow-deploy/internal/metrics"
	"github.com/ngerakines/workflow-deploy/internal/storage"
)

// DefaultInterval is the default period between reconcile passes.
const DefaultInterval = 90 * time.Second

// Loop periodically lists every known workflow and emits a
// ReconcileWorkflow action for each.
type Loop struct {
	store    storage.Storage
	actions  chan<- action.Action
	logger   *zap.Logger
	interval time.Duration
}

// New builds a reconcile Loop. interval <= 0 uses DefaultInterval.
func New(store storage.Storage, actions chan<- action.Action, logger *zap.Logger, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{store: store, actions: actions, logger: logger.Named("reconcile_loop"), interval: interval}
}

// Run blocks, emitting a reconcile pass on every tick, until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.reconcileOnce()
		}
	}
}

func (l *Loop) reconcileOnce() {
	names, err := l.store.GetWorkflowNames()
	if err != nil {
		l.logger.Error("failed to list workflow names for reconciliation", zap.Error(err))
		return
	}

	for _, name := range names {
		metrics.ReconcileLoopReconcile.Inc()
		select {
		case l.actions <- action.ReconcileWorkflowAction(name):
		default:
			l.logger.Warn("action channel full, dropping reconcile action", zap.String("workflow_name", name))
		}
	}
}
