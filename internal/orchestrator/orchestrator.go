// Package orchestrator wires every component together into a single
// running process: Kubernetes clients, storage, watchers, the Reconcile
// Loop, the Action Loop, the Executor spawner, the metrics server, and
// graceful shutdown.
package orchestrator

import (
	"context"
	"os"
	"time"

	"github.com/go-logr/zapr"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	apiextensionsclient "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/dynamic/dynamicinformer"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"

	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ngerakines/workflow-deploy/internal/action"
	"github.com/ngerakines/workflow-deploy/internal/actionloop"
	"github.com/ngerakines/workflow-deploy/internal/config"
	"github.com/ngerakines/workflow-deploy/internal/crd"
	"github.com/ngerakines/workflow-deploy/internal/executor"
	"github.com/ngerakines/workflow-deploy/internal/metrics"
	"github.com/ngerakines/workflow-deploy/internal/reconcile"
	"github.com/ngerakines/workflow-deploy/internal/storage"
	"github.com/ngerakines/workflow-deploy/internal/watchers"
)

const informerResync = 10 * time.Minute

const (
	startedProbeFile = "/tmp/started"
	aliveProbeFile   = "/tmp/alive"
	readyProbeFile   = "/tmp/ready"
)

// Orchestrator owns the lifecycle of every component.
type Orchestrator struct {
	cfg    config.Config
	logger *zap.Logger

	restConfig    *rest.Config
	kubeClient    kubernetes.Interface
	dynamicClient dynamic.Interface
	apiextClient  apiextensionsclient.Interface
	ctrlClient    ctrlclient.Client

	store   storage.Storage
	actions chan action.Action

	metricsServer *metrics.Server
	ready         bool
}

// New builds an Orchestrator from configuration and a process-wide
// logger. It establishes Kubernetes clients but does not start any
// loop; call Run for that.
func New(cfg config.Config, logger *zap.Logger) (*Orchestrator, error) {
	restConfig, err := buildRestConfig(cfg.Kubernetes)
	if err != nil {
		return nil, err
	}

	kubeClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, err
	}
	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, err
	}
	apiextClient, err := apiextensionsclient.NewForConfig(restConfig)
	if err != nil {
		return nil, err
	}
	ctrlClient, err := ctrlclient.New(restConfig, ctrlclient.Options{})
	if err != nil {
		return nil, err
	}

	ctrllog.SetLogger(zapr.NewLogger(logger))

	return &Orchestrator{
		cfg:           cfg,
		logger:        logger,
		restConfig:    restConfig,
		kubeClient:    kubeClient,
		dynamicClient: dynamicClient,
		apiextClient:  apiextClient,
		ctrlClient:    ctrlClient,
		store:         storage.NewMemoryStorage(),
		actions:       action.NewChannel(),
	}, nil
}

func buildRestConfig(kcfg config.KubernetesConfig) (*rest.Config, error) {
	if kcfg.Kubeconfig == "" {
		if inCluster, err := rest.InClusterConfig(); err == nil {
			return inCluster, nil
		}
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kcfg.Kubeconfig != "" {
		rules.ExplicitPath = kcfg.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{}
	if kcfg.Context != "" {
		overrides.CurrentContext = kcfg.Context
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

// Run starts every component and blocks until ctx is cancelled or a
// component returns a fatal error, then shuts everything down
// gracefully.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := crd.EnsureInstalled(ctx, o.apiextClient); err != nil {
		return err
	}
	touchProbeFile(startedProbeFile)

	group, gctx := errgroup.WithContext(ctx)

	o.metricsServer = metrics.NewServer(o.cfg.Server.MetricsAddr, o.logger, func() bool { return o.ready })
	o.metricsServer.StartAsync()

	dynFactory := dynamicinformer.NewDynamicSharedInformerFactory(o.dynamicClient, informerResync)
	k8sFactory := informers.NewSharedInformerFactory(o.kubeClient, informerResync)

	workflowWatcher := watchers.NewWorkflowWatcher(o.store, o.actions, o.logger)
	deploymentWatcher := watchers.NewDeploymentWatcher(o.store, o.logger)
	namespaceWatcher := watchers.NewNamespaceWatcher(o.store, o.logger)

	workflowWatcher.Run(dynFactory)
	deploymentWatcher.Run(k8sFactory)
	namespaceWatcher.Run(k8sFactory)

	dynFactory.Start(gctx.Done())
	k8sFactory.Start(gctx.Done())

	reconcileLoop := reconcile.New(o.store, o.actions, o.logger, time.Duration(o.cfg.Reconcile.IntervalSeconds)*time.Second)
	group.Go(func() error {
		reconcileLoop.Run(gctx)
		return nil
	})

	execDeps := executor.Deps{
		Store:   o.store,
		Client:  o.ctrlClient,
		Breaker: newBreaker(),
		Logger:  o.logger,
	}
	actionLoop := actionloop.New(o.store, executor.Spawn(execDeps), o.logger, nil)
	group.Go(func() error {
		actionLoop.Run(gctx, o.actions)
		return nil
	})

	o.ready = true
	touchProbeFile(readyProbeFile)
	group.Go(func() error {
		return o.aliveLoop(gctx)
	})

	<-gctx.Done()
	o.ready = false

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.metricsServer.Stop(shutdownCtx); err != nil {
		o.logger.Warn("metrics server did not shut down cleanly", zap.Error(err))
	}

	return group.Wait()
}

func (o *Orchestrator) aliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			touchProbeFile(aliveProbeFile)
		}
	}
}

func touchProbeFile(path string) {
	f, err := os.Create(path)
	if err != nil {
		return
	}
	_ = f.Close()
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kubernetes-api",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
