// Command workflow-deploy runs the workflow-deploy controller: it loads
// configuration, builds a process-wide logger, and hands control to the
// orchestrator until an OS signal requests shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ngerakines/workflow-deploy/internal/config"
	"github.com/ngerakines/workflow-deploy/internal/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	configDir := os.Getenv("KWD_CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}
	runMode := os.Getenv("RUN_MODE")

	cfg, err := config.Load(configDir, runMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workflow-deploy: failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workflow-deploy: failed to build logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	o, err := orchestrator.New(cfg, logger)
	if err != nil {
		logger.Error("failed to build orchestrator", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting workflow-deploy", zap.String("run_mode", runMode), zap.String("metrics_addr", cfg.Server.MetricsAddr))
	if err := o.Run(ctx); err != nil {
		logger.Error("orchestrator exited with an error", zap.Error(err))
		return 1
	}

	logger.Info("workflow-deploy shut down cleanly")
	return 0
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("unsupported logging level %q: %w", cfg.Level, err)
		}
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
