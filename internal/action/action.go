// Package action defines the tagged message union that flows through the
// controller's single-consumer action loop, and the bounded channel it
// travels on.
package action

// Kind tags the variant of an Action.
type Kind int

const (
	// WorkflowUpdated reports that a workflow's stored spec changed (or
	// was first observed). Carries Name, VersionChanged.
	WorkflowUpdated Kind = iota
	// ReconcileWorkflow is emitted periodically for every known workflow,
	// prompting the action loop to re-evaluate dispatch even if nothing
	// changed. Carries Name.
	ReconcileWorkflow
	// WorkflowJobFinished reports that an executor run for one
	// (workflow, group) pair has completed. Carries Name, Group,
	// EverythingOK.
	WorkflowJobFinished
)

func (k Kind) String() string {
	switch k {
	case WorkflowUpdated:
		return "workflow_updated"
	case ReconcileWorkflow:
		return "reconcile_workflow"
	case WorkflowJobFinished:
		return "workflow_job_finished"
	default:
		return "unknown"
	}
}

// Action is the single message type exchanged between watchers, the
// reconcile loop, the action loop, and the executor. Only the fields
// relevant to Kind are populated; the rest are zero.
type Action struct {
	Kind           Kind
	Name           string
	VersionChanged bool
	Group          string
	EverythingOK   bool
}

// Channel capacity: the action loop is a single consumer, so this is the
// maximum number of in-flight, not-yet-processed messages. The producers
// (the watchers, the reconcile loop, and executors) do not block when the
// channel is full: they drop the message and log a warning.
const ChannelCapacity = 100

// NewChannel allocates a bounded channel of the standard capacity.
func NewChannel() chan Action {
	return make(chan Action, ChannelCapacity)
}

// WorkflowUpdatedAction builds a WorkflowUpdated action.
func WorkflowUpdatedAction(name string, versionChanged bool) Action {
	return Action{Kind: WorkflowUpdated, Name: name, VersionChanged: versionChanged}
}

// ReconcileWorkflowAction builds a ReconcileWorkflow action.
func ReconcileWorkflowAction(name string) Action {
	return Action{Kind: ReconcileWorkflow, Name: name}
}

// WorkflowJobFinishedAction builds a WorkflowJobFinished action.
func WorkflowJobFinishedAction(name, group string, everythingOK bool) Action {
	return Action{Kind: WorkflowJobFinished, Name: name, Group: group, EverythingOK: everythingOK}
}
