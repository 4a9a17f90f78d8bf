package watchers

import (
	appsv1 "k8s.io/api/apps/v1"
	"go.uber.org/zap"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/tools/cache"

	"github.com/ngerakines/workflow-deploy/internal/k8sutil"
	"github.com/ngerakines/workflow-deploy/internal/logging"
	"github.com/ngerakines/workflow-deploy/internal/storage"
)

// DeploymentWatcher watches Deployments across the cluster, recording
// each as a Known Resource and tracking its readiness and workflow
// association (via the workflow-deploy.ngerakines.me/workflow
// annotation) so the Executor can answer readiness queries without
// touching the API server directly.
type DeploymentWatcher struct {
	store  Store
	logger *zap.Logger
}

// NewDeploymentWatcher builds a DeploymentWatcher.
func NewDeploymentWatcher(store Store, logger *zap.Logger) *DeploymentWatcher {
	return &DeploymentWatcher{store: store, logger: logger.Named("deployment_watcher")}
}

// Run registers event handlers on a shared informer factory for
// Deployments. The informer is started by the factory's own Start
// call, shared across every watcher registered on it.
func (w *DeploymentWatcher) Run(factory informers.SharedInformerFactory) {
	informer := factory.Apps().V1().Deployments().Informer()
	_, err := informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(obj interface{}) { w.handle(obj) },
		UpdateFunc: func(_, newObj interface{}) { w.handle(newObj) },
		DeleteFunc: w.handleDelete,
	})
	if err != nil {
		w.logger.Error("failed to register deployment informer handler", zap.Error(err))
	}
}

func (w *DeploymentWatcher) handle(obj interface{}) {
	dep, ok := obj.(*appsv1.Deployment)
	if !ok {
		return
	}

	workflowName := dep.Annotations[k8sutil.AnnotationWorkflow]
	ready := deploymentReady(dep)

	err := w.store.AddResource(storage.KnownResource{
		Namespace:   dep.Namespace,
		Kind:        DeploymentResourceKind,
		Name:        dep.Name,
		Workflow:    workflowName,
		Annotations: dep.Annotations,
		Ready:       ready,
	})
	if err != nil {
		w.logger.Error("failed to record deployment",
			logging.New().Error(err).Resource(DeploymentResourceKind, dep.Name)...)
		return
	}
}

func (w *DeploymentWatcher) handleDelete(obj interface{}) {
	dep, ok := obj.(*appsv1.Deployment)
	if !ok {
		if tombstone, isTombstone := obj.(cache.DeletedFinalStateUnknown); isTombstone {
			dep, ok = tombstone.Obj.(*appsv1.Deployment)
		}
		if !ok {
			return
		}
	}
	if err := w.store.RemoveResource(dep.Namespace, DeploymentResourceKind, dep.Name); err != nil {
		w.logger.Warn("failed to forget deleted deployment", zap.Error(err), zap.String("name", dep.Name))
	}
}

// deploymentReady mirrors the standard Kubernetes rollout-complete
// check: the controller has observed the latest spec generation and the
// desired replica count is fully updated and available.
func deploymentReady(dep *appsv1.Deployment) bool {
	if dep.Status.ObservedGeneration < dep.Generation {
		return false
	}
	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	return dep.Status.UpdatedReplicas >= desired &&
		dep.Status.AvailableReplicas >= desired &&
		dep.Status.Replicas == dep.Status.UpdatedReplicas
}
