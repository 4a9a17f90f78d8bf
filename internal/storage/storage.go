// Package storage holds the controller's in-memory view of workflow
// revisions, the readiness of resources they target, and per-namespace
// enablement. None of it survives a restart: on startup the watchers
// repopulate it from the current cluster state.
package storage

import (
	"sync"

	"github.com/ngerakines/workflow-deploy/internal/crd"
	"github.com/ngerakines/workflow-deploy/internal/xerrors"
)

// KnownResource is the storage's record of one resource a workflow step
// targets: enough to answer "is this ready" and "which workflow owns
// this" without a round trip to the API server. It keeps the full
// annotation map even though only a couple of keys are read today,
// mirroring the Known Resource record original_source/src/crd_storage.rs
// carried.
type KnownResource struct {
	Namespace   string
	Kind        string
	Name        string
	Workflow    string
	Annotations map[string]string
	Ready       bool
}

func (r KnownResource) key() resourceKey {
	return resourceKey{namespace: r.Namespace, kind: r.Kind, name: r.Name}
}

type resourceKey struct {
	namespace string
	kind      string
	name      string
}

// Storage is the controller's single in-memory state store. All methods
// are safe for concurrent use; every operation is a short, synchronous
// map access guarded by a mutex, never a blocking call.
type Storage interface {
	// LatestWorkflow returns the checksum of the most recently stored
	// revision of a named workflow.
	LatestWorkflow(name string) (uint64, error)
	// GetWorkflow fetches a workflow by name. If checksum is non-nil, the
	// stored revision must match it or ErrChecksumMismatch is returned.
	GetWorkflow(name string, checksum *uint64) (*crd.Workflow, error)
	// GetWorkflowNames lists every known workflow name.
	GetWorkflowNames() ([]string, error)
	// GetLatestWorkflows returns the latest stored revision of every
	// known workflow.
	GetLatestWorkflows() ([]*crd.Workflow, error)
	// AddWorkflow stores a workflow revision, returning its checksum and
	// whether it differs from the previously stored revision (or this is
	// the first revision seen).
	AddWorkflow(w *crd.Workflow) (checksum uint64, versionChanged bool, err error)
	// RemoveWorkflow forgets a workflow entirely.
	RemoveWorkflow(name string) error

	// IsResourceReady reports whether a known resource has been observed
	// ready. Unknown resources are not ready.
	IsResourceReady(namespace, kind, name string) (bool, error)
	// SetResourceReady updates a known resource's readiness bit.
	SetResourceReady(namespace, kind, name string, ready bool) error
	// AddResource records (or replaces) a known resource.
	AddResource(r KnownResource) error
	// RemoveResource forgets a known resource.
	RemoveResource(namespace, kind, name string) error

	// EnableNamespace marks a namespace as participating in dispatch.
	EnableNamespace(namespace string)
	// DisableNamespace marks a namespace as excluded from dispatch.
	DisableNamespace(namespace string)
	// IsNamespaceEnabled reports a namespace's current enablement. A
	// namespace never explicitly disabled defaults to enabled.
	IsNamespaceEnabled(namespace string) bool
}

// ErrChecksumMismatch is returned by GetWorkflow when the caller's
// expected checksum no longer matches the stored revision.
var ErrChecksumMismatch = xerrors.ValidationError("checksum", "stored workflow revision does not match expected checksum")

// ErrNotFound is returned when a named workflow or resource is unknown.
var ErrNotFound = xerrors.ValidationError("name", "not found")

type memoryStorage struct {
	mu sync.Mutex

	workflows map[string]*crd.Workflow
	resources map[resourceKey]KnownResource
	namespace map[string]bool
}

// NewMemoryStorage builds an empty in-memory Storage.
func NewMemoryStorage() Storage {
	return &memoryStorage{
		workflows: make(map[string]*crd.Workflow),
		resources: make(map[resourceKey]KnownResource),
		namespace: make(map[string]bool),
	}
}

func (s *memoryStorage) LatestWorkflow(name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[name]
	if !ok {
		return 0, ErrNotFound
	}
	return w.Checksum(), nil
}

func (s *memoryStorage) GetWorkflow(name string, checksum *uint64) (*crd.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[name]
	if !ok {
		return nil, ErrNotFound
	}
	if checksum != nil && w.Checksum() != *checksum {
		return nil, ErrChecksumMismatch
	}
	return w, nil
}

func (s *memoryStorage) GetWorkflowNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.workflows))
	for name := range s.workflows {
		names = append(names, name)
	}
	return names, nil
}

func (s *memoryStorage) GetLatestWorkflows() ([]*crd.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*crd.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	return out, nil
}

func (s *memoryStorage) AddWorkflow(w *crd.Workflow) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	checksum := w.Checksum()
	existing, ok := s.workflows[w.Name]
	versionChanged := !ok || existing.Checksum() != checksum
	s.workflows[w.Name] = w
	return checksum, versionChanged, nil
}

func (s *memoryStorage) RemoveWorkflow(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workflows, name)
	return nil
}

func (s *memoryStorage) IsResourceReady(namespace, kind, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[resourceKey{namespace: namespace, kind: kind, name: name}]
	if !ok {
		return false, nil
	}
	return r.Ready, nil
}

func (s *memoryStorage) SetResourceReady(namespace, kind, name string, ready bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resourceKey{namespace: namespace, kind: kind, name: name}
	r, ok := s.resources[key]
	if !ok {
		return ErrNotFound
	}
	r.Ready = ready
	s.resources[key] = r
	return nil
}

func (s *memoryStorage) AddResource(r KnownResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resources[r.key()] = r
	return nil
}

func (s *memoryStorage) RemoveResource(namespace, kind, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.resources, resourceKey{namespace: namespace, kind: kind, name: name})
	return nil
}

func (s *memoryStorage) EnableNamespace(namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.namespace[namespace] = true
}

func (s *memoryStorage) DisableNamespace(namespace string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.namespace[namespace] = false
}

func (s *memoryStorage) IsNamespaceEnabled(namespace string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled, ok := s.namespace[namespace]
	if !ok {
		return true
	}
	return enabled
}
