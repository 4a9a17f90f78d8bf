// Package k8sutil holds small, dependency-free helpers for working with
// Kubernetes resources that don't belong to any single component.
package k8sutil

import "strings"

const (
	// AnnotationEnabled gates whether a namespace participates in the
	// action loop's dispatch pass at all.
	AnnotationEnabled = "workflow-deploy.ngerakines.me/enabled"
	// AnnotationWorkflow associates a resource with a workflow by name. The
	// Deployment watcher reads it; nothing in this module writes it.
	AnnotationWorkflow = "workflow-deploy.ngerakines.me/workflow"

	// DeploymentResourceKind is the kind string used as the storage
	// resource key for Deployments.
	DeploymentResourceKind = "apps/v1;Deployment"
)

// AnnotationTrue reports whether annotations[key] is present and begins
// with a truthy character ('t' or 'T', matching "true"/"True"/"TRUE").
// A missing or absent annotation is not truthy.
func AnnotationTrue(annotations map[string]string, key string) bool {
	value, ok := annotations[key]
	if !ok || value == "" {
		return false
	}
	switch value[0] {
	case 't', 'T':
		return true
	default:
		return false
	}
}

// RewriteImageTag replaces the tag component of a container image
// reference (the substring after the last ':') with newTag. If image has
// no colon at all, the result is just newTag. If the last colon belongs
// to a registry port rather than a tag (i.e. it's followed by a '/'),
// the tag is appended instead of replacing anything.
func RewriteImageTag(image, newTag string) string {
	idx := strings.LastIndex(image, ":")
	if idx < 0 {
		return newTag
	}
	if strings.Contains(image[idx+1:], "/") {
		return image + ":" + newTag
	}
	return image[:idx] + ":" + newTag
}
