package main

import (
	"context"
	"log"
	"os"

	"github.com/Xiaobaiq-q/DataLake/internal/config"
	"github.com/Xiaobaiq-q/DataLake/internal/logger"
	"github.com/Xiaobaiq-q/DataLake/internal/metrics"
	"github.com/Xiaobaiq-q/DataLake/internal/pipeline"
	"github.com/Xiaobaiq-q/DataLake/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Default roots; paths.input and paths.output in dl.yml take precedence.
const (
	inputRoot  = "s3a://udacity-dend/"
	outputRoot = "s3a://xiaobai-s3/"
)

func main() {
	var (
		cfg    config.Config
		runner *pipeline.Runner
		logg   *zap.Logger
	)

	app := fx.New(
		fx.Supply(config.Roots{Input: inputRoot, Output: outputRoot}),
		config.Module,
		logger.Module,
		metrics.Module,
		storage.Module,
		pipeline.Module,
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Populate(&cfg, &runner, &logg),
	)
	if err := app.Err(); err != nil {
		log.Fatalf("Startup failed: %s", err)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		log.Fatalf("Startup failed: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ETL.Timeout)
	_, runErr := runner.Run(ctx)
	cancel()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logg.Warn("shutdown failed", zap.Error(err))
	}

	if runErr != nil {
		logg.Error("pipeline failed", zap.Error(runErr))
		_ = logg.Sync()
		os.Exit(1)
	}
	logg.Info("ETL pipeline completed successfully")
}
