// Package config loads the controller's configuration from a layered
// set of YAML files plus KWD_-prefixed environment variable overrides,
// following the same default/RUN_MODE/local layering the rest of this
// codebase's conventions use for every other environment-driven
// setting.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/ngerakines/workflow-deploy/internal/xerrors"
)

// Config is the fully-resolved process configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Kubernetes KubernetesConfig `json:"kubernetes"`
	ActionLoop ActionLoopConfig `json:"actionLoop"`
	Executor   ExecutorConfig   `json:"executor"`
	Reconcile  ReconcileConfig  `json:"reconcile"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig controls the debug/ops HTTP surface.
type ServerConfig struct {
	MetricsAddr string `json:"metricsAddr"`
}

// KubernetesConfig controls how the controller talks to the cluster.
type KubernetesConfig struct {
	Kubeconfig string `json:"kubeconfig"`
	Context    string `json:"context"`
	Namespace  string `json:"namespace"`
}

// ActionLoopConfig documents the Action Loop's tuning knobs. These
// mirror WorkflowSpec.Debounce/Parallel: present in configuration for
// forward-compatibility, but the Action Loop itself still hard-codes
// actionloop.Debounce and actionloop.MaxInFlight.
type ActionLoopConfig struct {
	DebounceSeconds int `json:"debounceSeconds"`
	MaxInFlight     int `json:"maxInFlight"`
	TickSeconds     int `json:"tickSeconds"`
}

// ExecutorConfig documents the Executor's timing knobs, analogous to
// ActionLoopConfig: present in configuration, not yet read by the
// Executor, which hard-codes executor.GracePeriod/ReadinessTimeout.
type ExecutorConfig struct {
	GracePeriodSeconds      int `json:"gracePeriodSeconds"`
	ReadinessTimeoutSeconds int `json:"readinessTimeoutSeconds"`
}

// ReconcileConfig controls the Reconcile Loop's period.
type ReconcileConfig struct {
	IntervalSeconds int `json:"intervalSeconds"`
}

// LoggingConfig controls the process-wide zap logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the baked-in configuration used before any layered
// file or environment override is applied.
func Default() Config {
	return Config{
		Server:     ServerConfig{MetricsAddr: ":9090"},
		Kubernetes: KubernetesConfig{Namespace: ""},
		ActionLoop: ActionLoopConfig{DebounceSeconds: 15, MaxInFlight: 3, TickSeconds: 3},
		Executor:   ExecutorConfig{GracePeriodSeconds: 5, ReadinessTimeoutSeconds: 90},
		Reconcile:  ReconcileConfig{IntervalSeconds: 90},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds a Config by layering default.yaml, then
// <RUN_MODE>.yaml, then local.yaml from dir (each optional), then
// applying KWD_-prefixed environment variable overrides, and finally
// validating the result.
func Load(dir, runMode string) (Config, error) {
	cfg := Default()

	for _, name := range layerFiles(runMode) {
		if err := mergeFile(&cfg, filepath.Join(dir, name)); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func layerFiles(runMode string) []string {
	files := []string{"default.yaml"}
	if runMode != "" {
		files = append(files, runMode+".yaml")
	}
	return append(files, "local.yaml")
}

func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.ConfigurationError(path, err.Error())
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return xerrors.ParseError(path, "yaml", err)
	}
	return nil
}

// applyEnvOverrides applies KWD_-prefixed environment variables onto
// cfg, e.g. KWD_SERVER_METRICSADDR, KWD_KUBERNETES_NAMESPACE,
// KWD_LOGGING_LEVEL.
func applyEnvOverrides(cfg *Config) {
	const prefix = "KWD_"
	overrides := map[string]*string{
		"SERVER_METRICSADDR":    &cfg.Server.MetricsAddr,
		"KUBERNETES_KUBECONFIG": &cfg.Kubernetes.Kubeconfig,
		"KUBERNETES_CONTEXT":    &cfg.Kubernetes.Context,
		"KUBERNETES_NAMESPACE":  &cfg.Kubernetes.Namespace,
		"LOGGING_LEVEL":         &cfg.Logging.Level,
		"LOGGING_FORMAT":        &cfg.Logging.Format,
	}
	for key, target := range overrides {
		if v, ok := os.LookupEnv(prefix + key); ok {
			*target = v
		}
	}

	intOverrides := map[string]*int{
		"ACTIONLOOP_DEBOUNCESECONDS":  &cfg.ActionLoop.DebounceSeconds,
		"ACTIONLOOP_MAXINFLIGHT":      &cfg.ActionLoop.MaxInFlight,
		"ACTIONLOOP_TICKSECONDS":      &cfg.ActionLoop.TickSeconds,
		"EXECUTOR_GRACEPERIODSECONDS": &cfg.Executor.GracePeriodSeconds,
		"RECONCILE_INTERVALSECONDS":   &cfg.Reconcile.IntervalSeconds,
	}
	for key, target := range intOverrides {
		v, ok := os.LookupEnv(prefix + key)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		*target = parsed
	}
}

func validate(cfg Config) error {
	if cfg.Server.MetricsAddr == "" {
		return xerrors.ValidationError("server.metricsAddr", "must not be empty")
	}
	if cfg.ActionLoop.MaxInFlight <= 0 {
		return xerrors.ValidationError("actionLoop.maxInFlight", "must be greater than 0")
	}
	if cfg.ActionLoop.DebounceSeconds < 0 {
		return xerrors.ValidationError("actionLoop.debounceSeconds", "must not be negative")
	}
	if cfg.Executor.ReadinessTimeoutSeconds <= cfg.Executor.GracePeriodSeconds {
		return xerrors.ValidationError("executor.readinessTimeoutSeconds", "must be greater than the grace period")
	}
	if cfg.Reconcile.IntervalSeconds <= 0 {
		return xerrors.ValidationError("reconcile.intervalSeconds", "must be greater than 0")
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return xerrors.ValidationError("logging.format", fmt.Sprintf("unsupported format %q", cfg.Logging.Format))
	}
	return nil
}
