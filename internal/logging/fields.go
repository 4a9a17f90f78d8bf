// Package logging provides a chainable field builder on top of zap,
// standardizing the keys components use when logging structured events.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// Fields accumulates zap.Field values under a fixed, conventional set of
// keys so log lines across the action loop, executor, and watchers stay
// queryable by the same field names.
type Fields []zap.Field

// New returns an empty Fields builder.
func New() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	return append(f, zap.String("component", name))
}

func (f Fields) Operation(name string) Fields {
	return append(f, zap.String("operation", name))
}

func (f Fields) Workflow(name string) Fields {
	return append(f, zap.String("workflow", name))
}

func (f Fields) Group(name string) Fields {
	return append(f, zap.String("group", name))
}

func (f Fields) Checksum(checksum uint64) Fields {
	return append(f, zap.Uint64("checksum", checksum))
}

func (f Fields) Resource(kind, name string) Fields {
	f = append(f, zap.String("resource_kind", kind))
	if name != "" {
		f = append(f, zap.String("resource_name", name))
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	return append(f, zap.Int64("duration_ms", d.Milliseconds()))
}

func (f Fields) Count(n int) Fields {
	return append(f, zap.Int("count", n))
}

func (f Fields) Error(err error) Fields {
	if err == nil {
		return f
	}
	return append(f, zap.Error(err))
}

func (f Fields) Custom(key string, value interface{}) Fields {
	return append(f, zap.Any(key, value))
}

// KubernetesFields builds the standard field set for a Kubernetes API
// operation log line.
func KubernetesFields(operation, kind, name, namespace string) Fields {
	f := New().Component("kubernetes").Operation(operation).Resource(kind, name)
	if namespace != "" {
		f = append(f, zap.String("namespace", namespace))
	}
	return f
}

// WorkflowFields builds the standard field set for a workflow-job log line.
func WorkflowFields(operation, workflow, group string) Fields {
	f := New().Component("workflow").Operation(operation).Workflow(workflow)
	if group != "" {
		f = f.Group(group)
	}
	return f
}
