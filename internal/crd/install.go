package crd

import (
	"context"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/ngerakines/workflow-deploy/internal/xerrors"
)

// CustomResourceDefinitionName is the name under which the Workflow CRD
// is (or must be) registered in the cluster.
const CustomResourceDefinitionName = Plural + "." + Group

// EnsureInstalled creates the Workflow CustomResourceDefinition if it
// does not already exist. It never deletes or mutates an existing CRD;
// ownership of schema evolution belongs to cluster operators, not this
// process.
func EnsureInstalled(ctx context.Context, client apiextensionsclient.Interface) error {
	_, err := client.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, CustomResourceDefinitionName, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return xerrors.KubernetesError("get workflow crd", CustomResourceDefinitionName, err)
	}

	crd := definition()
	if _, err := client.ApiextensionsV1().CustomResourceDefinitions().Create(ctx, crd, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return xerrors.KubernetesError("create workflow crd", CustomResourceDefinitionName, err)
	}
	return nil
}

func definition() *apiextensionsv1.CustomResourceDefinition {
	preserveUnknownFields := true
	schema := &apiextensionsv1.JSONSchemaProps{
		Type: "object",
		Properties: map[string]apiextensionsv1.JSONSchemaProps{
			"spec": {
				Type:                   "object",
				XPreserveUnknownFields: &preserveUnknownFields,
			},
		},
	}

	return &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: CustomResourceDefinitionName},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: Group,
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Plural: Plural,
				Kind:   Kind,
			},
			Scope: apiextensionsv1.NamespaceScoped,
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{
				{
					Name:    Version,
					Served:  true,
					Storage: true,
					Schema: &apiextensionsv1.CustomResourceValidation{
						OpenAPIV3Schema: schema,
					},
				},
			},
		},
	}
}
