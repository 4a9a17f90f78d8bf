package watchers

import (
	corev1 "k8s.io/api/core/v1"
	"go.uber.org/zap"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/tools/cache"

	"github.com/ngerakines/workflow-deploy/internal/k8sutil"
)

// NamespaceWatcher watches Namespaces and keeps storage's per-namespace
// enablement bit in sync with the workflow-deploy.ngerakines.me/enabled
// annotation.
type NamespaceWatcher struct {
	store  Store
	logger *zap.Logger
}

// NewNamespaceWatcher builds a NamespaceWatcher.
func NewNamespaceWatcher(store Store, logger *zap.Logger) *NamespaceWatcher {
	return &NamespaceWatcher{store: store, logger: logger.Named("namespace_watcher")}
}

// Run registers event handlers on a shared informer factory for
// Namespaces. The informer is started by the factory's own Start call,
// shared across every watcher registered on it.
func (w *NamespaceWatcher) Run(factory informers.SharedInformerFactory) {
	informer := factory.Core().V1().Namespaces().Informer()
	_, err := informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(obj interface{}) { w.handle(obj) },
		UpdateFunc: func(_, newObj interface{}) { w.handle(newObj) },
	})
	if err != nil {
		w.logger.Error("failed to register namespace informer handler", zap.Error(err))
	}
}

func (w *NamespaceWatcher) handle(obj interface{}) {
	ns, ok := obj.(*corev1.Namespace)
	if !ok {
		return
	}

	if k8sutil.AnnotationTrue(ns.Annotations, k8sutil.AnnotationEnabled) {
		w.store.EnableNamespace(ns.Name)
	} else {
		w.store.DisableNamespace(ns.Name)
	}
}
