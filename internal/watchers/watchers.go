// Package watchers translates Kubernetes watch events for Workflow
// custom resources, Deployments, and Namespaces into action.Action
// messages and storage.Storage writes. Besides the watchers, the
// Reconcile Loop and Executors also send on the action channel.
package watchers

import (
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/ngerakines/workflow-deploy/internal/action"
	"github.com/ngerakines/workflow-deploy/internal/k8sutil"
	"github.com/ngerakines/workflow-deploy/internal/logging"
	"github.com/ngerakines/workflow-deploy/internal/storage"
)

// DeploymentResourceKind is the kind string used as the storage resource
// key for Deployments, matching the "apps/v1;Deployment" form the
// readiness view is keyed by.
const DeploymentResourceKind = k8sutil.DeploymentResourceKind

// send delivers an action on ch, dropping it (with a logged warning) if
// the channel is full rather than blocking the calling watcher's
// informer goroutine indefinitely.
func send(ch chan<- action.Action, logger *zap.Logger, a action.Action) {
	select {
	case ch <- a:
	default:
		logger.Warn("action channel full, dropping action",
			logging.New().Custom("action_kind", a.Kind.String()).Custom("workflow_name", a.Name)...,
		)
	}
}

func toUnstructured(obj interface{}) (*unstructured.Unstructured, bool) {
	u, ok := obj.(*unstructured.Unstructured)
	return u, ok
}

// Store is an alias of storage.Storage, the store the watchers write to;
// it is the full interface, not a narrower subset.
type Store = storage.Storage
