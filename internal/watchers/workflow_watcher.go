package watchers

import (
	"go.uber.org/zap"
	"k8s.io/client-go/dynamic/dynamicinformer"
	"k8s.io/client-go/tools/cache"

	"github.com/ngerakines/workflow-deploy/internal/action"
	"github.com/ngerakines/workflow-deploy/internal/crd"
	"github.com/ngerakines/workflow-deploy/internal/logging"
)

// WorkflowWatcher watches Workflow custom resources and reports changes
// both into storage (as the durable spec cache) and onto the action
// channel (as WorkflowUpdated messages).
type WorkflowWatcher struct {
	store   Store
	actions chan<- action.Action
	logger  *zap.Logger
}

// NewWorkflowWatcher builds a WorkflowWatcher.
func NewWorkflowWatcher(store Store, actions chan<- action.Action, logger *zap.Logger) *WorkflowWatcher {
	return &WorkflowWatcher{store: store, actions: actions, logger: logger.Named("workflow_watcher")}
}

// Run registers event handlers on a dynamic informer factory for the
// Workflow GVR. The informer itself is started (and stopped) by the
// factory's own Start call, shared across every watcher registered on
// it; Run here only wires the handler.
func (w *WorkflowWatcher) Run(factory dynamicinformer.DynamicSharedInformerFactory) {
	informer := factory.ForResource(crd.GroupVersionResource()).Informer()
	_, err := informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    w.handle,
		UpdateFunc: func(_, newObj interface{}) { w.handle(newObj) },
	})
	if err != nil {
		w.logger.Error("failed to register workflow informer handler", zap.Error(err))
	}
}

func (w *WorkflowWatcher) handle(obj interface{}) {
	u, ok := toUnstructured(obj)
	if !ok {
		return
	}

	wf, err := crd.FromUnstructured(u.Object)
	if err != nil {
		w.logger.Warn("failed to decode workflow", zap.Error(err), zap.String("name", u.GetName()))
		return
	}
	if wf.Name == "" {
		wf.Name = u.GetName()
	}

	_, versionChanged, err := w.store.AddWorkflow(wf)
	if err != nil {
		w.logger.Error("failed to store workflow", zap.Error(err), zap.String("name", wf.Name))
		return
	}

	w.logger.Info("observed workflow update", logging.WorkflowFields("workflow_updated", wf.Name, "")...)
	send(w.actions, w.logger, action.WorkflowUpdatedAction(wf.Name, versionChanged))
}
