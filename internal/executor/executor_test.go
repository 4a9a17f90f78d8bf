package executor

import (
	"testing"
	"time"

	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clocktesting "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/ngerakines/workflow-deploy/internal/crd"
	"github.com/ngerakines/workflow-deploy/internal/storage"
)

func workflowWithOneTarget() *crd.Workflow {
	return &crd.Workflow{
		Name: "rollout-api",
		Spec: crd.WorkflowSpec{
			Version:    "v2",
			Namespaces: []string{"team-a"},
			Steps: []crd.WorkflowStep{
				{
					Actions: []crd.WorkflowStepAction{
						{
							Action: "update_deployment",
							Targets: []crd.WorkflowStepActionTarget{
								{Resource: "deployment", Name: "app", Containers: []string{"api"}},
							},
						},
					},
				},
			},
		},
	}
}

func deployment(namespace, name, image string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(int32(1)),
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: "api", Image: image}},
				},
			},
		},
	}
}

func newDeps(t *testing.T, now time.Time, objs ...*appsv1.Deployment) (Deps, storage.Storage) {
	t.Helper()
	store := storage.NewMemoryStorage()

	builder := fake.NewClientBuilder().WithScheme(newRuntimeScheme())
	for _, dep := range objs {
		builder = builder.WithObjects(dep)
	}
	cl := builder.Build()

	deps := Deps{
		Store:  store,
		Client: cl,
		Clock:  clocktesting.NewFakePassiveClock(now),
		Logger: zap.NewNop(),
	}
	return deps, store
}

func TestBuildPlanOrdersUpdatesThenWaits(t *testing.T) {
	wf := &crd.Workflow{
		Spec: crd.WorkflowSpec{
			Version: "v2",
			Steps: []crd.WorkflowStep{
				{
					Actions: []crd.WorkflowStepAction{
						{
							Action: "update_deployment",
							Targets: []crd.WorkflowStepActionTarget{
								{Name: "app-one", Containers: []string{"api"}},
								{Name: "app-two", Containers: []string{"api"}},
							},
						},
					},
				},
			},
		},
	}

	plan := buildPlan(wf)
	if len(plan) != 4 {
		t.Fatalf("len(plan) = %d, want 4", len(plan))
	}
	if plan[0].kind != stepUpdateDeployment || plan[0].target != "app-one" {
		t.Errorf("plan[0] = %+v", plan[0])
	}
	if plan[1].kind != stepUpdateDeployment || plan[1].target != "app-two" {
		t.Errorf("plan[1] = %+v", plan[1])
	}
	if plan[2].kind != stepWaitDeploymentReady || plan[2].target != "app-one" {
		t.Errorf("plan[2] = %+v", plan[2])
	}
	if plan[3].kind != stepWaitDeploymentReady || plan[3].target != "app-two" {
		t.Errorf("plan[3] = %+v", plan[3])
	}
}

func TestBuildPlanSkipsUnknownActionKinds(t *testing.T) {
	wf := &crd.Workflow{
		Spec: crd.WorkflowSpec{
			Steps: []crd.WorkflowStep{
				{Actions: []crd.WorkflowStepAction{{Action: "restart_pod", Targets: []crd.WorkflowStepActionTarget{{Name: "app"}}}}},
			},
		},
	}
	if plan := buildPlan(wf); len(plan) != 0 {
		t.Errorf("expected unknown action kinds to produce no plan steps, got %d", len(plan))
	}
}

func TestUpdateDeploymentRewritesImageAndAdvances(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dep := deployment("team-a", "app", "registry/app:v1")
	deps, _ := newDeps(t, now, dep)

	if _, _, err := deps.Store.AddWorkflow(workflowWithOneTarget()); err != nil {
		t.Fatalf("AddWorkflow: %v", err)
	}
	checksum, err := deps.Store.LatestWorkflow("rollout-api")
	if err != nil {
		t.Fatalf("LatestWorkflow: %v", err)
	}

	ex, err := New("rollout-api", checksum, "team-a", deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	terminal, ok := ex.tick(now)
	if terminal {
		t.Fatalf("Started tick should not be terminal, ok=%v", ok)
	}

	terminal, ok = ex.tick(now)
	if terminal {
		t.Fatalf("UpdateDeployment tick should not be terminal on success, ok=%v", ok)
	}

	var updated appsv1.Deployment
	if err := deps.Client.Get(contextBackground(), clientKey("team-a", "app"), &updated); err != nil {
		t.Fatalf("Get updated deployment: %v", err)
	}
	if got, want := updated.Spec.Template.Spec.Containers[0].Image, "registry/app:v2"; got != want {
		t.Errorf("image = %q, want %q", got, want)
	}
}

func TestUpdateDeploymentMissingTerminatesFailed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deps, _ := newDeps(t, now)

	if _, _, err := deps.Store.AddWorkflow(workflowWithOneTarget()); err != nil {
		t.Fatalf("AddWorkflow: %v", err)
	}
	checksum, _ := deps.Store.LatestWorkflow("rollout-api")

	ex, err := New("rollout-api", checksum, "team-a", deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ex.tick(now) // Started
	terminal, ok := ex.tick(now)
	if !terminal || ok {
		t.Errorf("expected terminal failure for a missing deployment, got terminal=%v ok=%v", terminal, ok)
	}
}

func TestWaitDeploymentReadyHonorsGracePeriod(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deps, _ := newDeps(t, now)

	ex := &Executor{name: "rollout-api", group: "team-a", deps: deps, logger: zap.NewNop()}
	ex.history = append(ex.history, historyEntry{step: planStep{kind: stepUpdateDeployment, target: "app"}, at: now})

	status := ex.waitDeploymentReady(now.Add(2*time.Second), planStep{kind: stepWaitDeploymentReady, target: "app"})
	if status != waitPending {
		t.Errorf("status = %v, want waitPending within the grace period", status)
	}
}

func TestWaitDeploymentReadyTimesOutAt90s(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deps, _ := newDeps(t, now)

	ex := &Executor{name: "rollout-api", group: "team-a", deps: deps, logger: zap.NewNop()}
	ex.history = append(ex.history, historyEntry{step: planStep{kind: stepUpdateDeployment, target: "app"}, at: now})
	_ = deps.Store.AddResource(storage.KnownResource{Namespace: "team-a", Kind: "apps/v1;Deployment", Name: "app", Ready: false})

	status := ex.waitDeploymentReady(now.Add(91*time.Second), planStep{kind: stepWaitDeploymentReady, target: "app"})
	if status != waitFailed {
		t.Errorf("status = %v, want waitFailed after 90s", status)
	}
}

func TestWaitDeploymentReadySucceedsWhenReady(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deps, _ := newDeps(t, now)

	ex := &Executor{name: "rollout-api", group: "team-a", deps: deps, logger: zap.NewNop()}
	ex.plan = []planStep{{kind: stepWaitDeploymentReady, target: "app"}}
	ex.history = append(ex.history, historyEntry{step: planStep{kind: stepUpdateDeployment, target: "app"}, at: now})
	_ = deps.Store.AddResource(storage.KnownResource{Namespace: "team-a", Kind: "apps/v1;Deployment", Name: "app", Ready: true})

	status := ex.waitDeploymentReady(now.Add(10*time.Second), ex.plan[0])
	if status != waitDone {
		t.Errorf("status = %v, want waitDone when the resource is ready", status)
	}
	if len(ex.plan) != 0 {
		t.Errorf("expected the wait step to be popped, plan = %+v", ex.plan)
	}
}

func TestWaitDeploymentReadyFailsWithNoMatchingUpdate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deps, _ := newDeps(t, now)

	ex := &Executor{name: "rollout-api", group: "team-a", deps: deps, logger: zap.NewNop()}
	status := ex.waitDeploymentReady(now, planStep{kind: stepWaitDeploymentReady, target: "app"})
	if status != waitFailed {
		t.Errorf("status = %v, want waitFailed with no preceding UpdateDeployment history", status)
	}
}
