// Package crd defines the Workflow custom resource's spec shape and the
// deterministic checksum that identifies a particular revision of it.
//
// Group/version/kind: workflow-deploy.ngerakines.me/v1alpha, kind
// Workflow, plural workflows.
package crd

import (
	"hash/fnv"
	"sort"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	Group   = "workflow-deploy.ngerakines.me"
	Version = "v1alpha"
	Kind    = "Workflow"
	Plural  = "workflows"
)

// GroupVersionKind is the GVK the Workflow watcher filters on.
func GroupVersionKind() schema.GroupVersionKind {
	return schema.GroupVersionKind{Group: Group, Version: Version, Kind: Kind}
}

// GroupVersionResource is the GVR used by the dynamic client/informer.
func GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: Group, Version: Version, Resource: Plural}
}

// WorkflowStepActionTarget names one resource a step's action applies to
// and the containers within it to update.
type WorkflowStepActionTarget struct {
	Resource   string   `json:"resource"`
	Name       string   `json:"name"`
	Containers []string `json:"containers"`
}

// WorkflowStepAction is one action (currently only "update_deployment")
// applied to an ordered list of targets.
type WorkflowStepAction struct {
	Action  string                     `json:"action"`
	Targets []WorkflowStepActionTarget `json:"targets"`
}

// WorkflowStep is an ordered list of actions executed in declaration order.
type WorkflowStep struct {
	Actions []WorkflowStepAction `json:"actions"`
}

// WorkflowSpec is the user-declared spec of a Workflow custom resource.
//
// Debounce and Parallel mirror original_source/src/crd.rs's Option<u32>
// fields: read from the wire but not yet honored by the Action Loop,
// which still hard-codes a 15s debounce and a 3-way concurrency cap.
type WorkflowSpec struct {
	Namespaces []string       `json:"namespaces"`
	Version    string         `json:"version"`
	Debounce   *uint32        `json:"debounce,omitempty"`
	Parallel   *uint32        `json:"parallel,omitempty"`
	Supression []string       `json:"supression"`
	Steps      []WorkflowStep `json:"steps"`
}

// Workflow is one named Workflow custom resource revision.
type Workflow struct {
	Name string       `json:"name"`
	Spec WorkflowSpec `json:"spec"`
}

// Checksum computes a deterministic 64-bit fingerprint of the spec.
// Namespaces, suppressions, and each target's containers are sorted
// before hashing (order-insensitive); steps (and their actions, and
// each action's targets) are hashed in declared order, so reordering
// steps changes the checksum but reordering namespaces, suppressions,
// or a target's containers does not.
func (w *Workflow) Checksum() uint64 {
	h := fnv.New64a()
	write := func(s string) {
		_, _ = h.Write([]byte(s))
	}

	write("version=" + w.Spec.Version)

	namespaces := append([]string(nil), w.Spec.Namespaces...)
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		write("namespace=" + ns)
	}

	supression := append([]string(nil), w.Spec.Supression...)
	sort.Strings(supression)
	for _, s := range supression {
		write("supression=" + s)
	}

	for _, step := range w.Spec.Steps {
		write("step=" + step.checksumString())
	}

	return h.Sum64()
}

func (s WorkflowStep) checksumString() string {
	h := fnv.New64a()
	for _, action := range s.Actions {
		_, _ = h.Write([]byte("action=" + action.checksumString()))
	}
	return hashString(h.Sum64())
}

func (a WorkflowStepAction) checksumString() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte("kind=" + a.Action))
	for _, target := range a.Targets {
		_, _ = h.Write([]byte("target=" + target.checksumString()))
	}
	return hashString(h.Sum64())
}

func (t WorkflowStepActionTarget) checksumString() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte("resource=" + t.Resource + " name=" + t.Name))
	containers := append([]string(nil), t.Containers...)
	sort.Strings(containers)
	for _, c := range containers {
		_, _ = h.Write([]byte("container=" + c))
	}
	return hashString(h.Sum64())
}

func hashString(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// AsUnstructured round-trips a Workflow through the unstructured shape
// the dynamic informer delivers, for use in tests that don't want to
// fabricate raw unstructured maps by hand.
func (w *Workflow) AsUnstructured(meta metav1.ObjectMeta) (map[string]interface{}, error) {
	meta.Name = w.Name
	obj := map[string]interface{}{
		"apiVersion": Group + "/" + Version,
		"kind":       Kind,
		"metadata": map[string]interface{}{
			"name": meta.Name,
		},
	}
	spec, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&w.Spec)
	if err != nil {
		return nil, err
	}
	obj["spec"] = spec
	return obj, nil
}

// FromUnstructured converts an unstructured Workflow object (as delivered
// by the dynamic informer) into a Workflow.
func FromUnstructured(obj map[string]interface{}) (*Workflow, error) {
	name, _, _ := unstructuredNestedString(obj, "metadata", "name")
	specRaw, ok := obj["spec"]
	if !ok {
		return &Workflow{Name: name}, nil
	}
	specMap, ok := specRaw.(map[string]interface{})
	if !ok {
		return &Workflow{Name: name}, nil
	}
	var spec WorkflowSpec
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(specMap, &spec); err != nil {
		return nil, err
	}
	return &Workflow{Name: name, Spec: spec}, nil
}

func unstructuredNestedString(obj map[string]interface{}, fields ...string) (string, bool, error) {
	cur := interface{}(obj)
	for _, field := range fields {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", false, nil
		}
		cur, ok = m[field]
		if !ok {
			return "", false, nil
		}
	}
	s, ok := cur.(string)
	return s, ok, nil
}
