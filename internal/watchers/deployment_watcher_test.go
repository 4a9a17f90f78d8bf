package watchers

import (
	"testing"

	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/ngerakines/workflow-deploy/internal/k8sutil"
	"github.com/ngerakines/workflow-deploy/internal/storage"
)

func readyDeployment(namespace, name, workflow string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:   namespace,
			Name:        name,
			Generation:  2,
			Annotations: map[string]string{k8sutil.AnnotationWorkflow: workflow},
		},
		Spec: appsv1.DeploymentSpec{Replicas: ptr.To(int32(3))},
		Status: appsv1.DeploymentStatus{
			ObservedGeneration: 2,
			Replicas:           3,
			UpdatedReplicas:    3,
			AvailableReplicas:  3,
		},
	}
}

func TestDeploymentWatcherHandleRecordsReadyResource(t *testing.T) {
	store := storage.NewMemoryStorage()
	w := NewDeploymentWatcher(store, zap.NewNop())

	w.handle(readyDeployment("team-a", "api", "rollout-api"))

	ready, err := store.IsResourceReady("team-a", DeploymentResourceKind, "api")
	if err != nil {
		t.Fatalf("IsResourceReady: %v", err)
	}
	if !ready {
		t.Error("expected deployment to be recorded as ready")
	}
}

func TestDeploymentWatcherHandleRecordsNotReadyWhenStale(t *testing.T) {
	store := storage.NewMemoryStorage()
	w := NewDeploymentWatcher(store, zap.NewNop())

	dep := readyDeployment("team-a", "api", "rollout-api")
	dep.Status.ObservedGeneration = 1

	w.handle(dep)

	ready, err := store.IsResourceReady("team-a", DeploymentResourceKind, "api")
	if err != nil {
		t.Fatalf("IsResourceReady: %v", err)
	}
	if ready {
		t.Error("expected a deployment with a stale observed generation to not be ready")
	}
}

func TestDeploymentWatcherHandleDeleteForgetsResource(t *testing.T) {
	store := storage.NewMemoryStorage()
	w := NewDeploymentWatcher(store, zap.NewNop())

	dep := readyDeployment("team-a", "api", "rollout-api")
	w.handle(dep)
	w.handleDelete(dep)

	ready, err := store.IsResourceReady("team-a", DeploymentResourceKind, "api")
	if err != nil {
		t.Fatalf("IsResourceReady: %v", err)
	}
	if ready {
		t.Error("expected deleted resource to report not ready (unknown)")
	}
}
