package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studiodesk/studiodesk/internal/app/runtime"
	"github.com/studiodesk/studiodesk/internal/config"
	"github.com/studiodesk/studiodesk/pkg/logger"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging.Logger())
	log.WithField("version", Version).WithField("env", cfg.Env).Info("starting studiod")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	runErr := application.Run(ctx)
	if err := application.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
	if runErr != nil {
		return runErr
	}
	if application.RestartRequested() {
		log.Warn("restart requested; exiting for supervisor")
		return exitCode(exitRestart)
	}
	log.Info("studiod stopped")
	return nil
}
