package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drblury/tracedqueue/internal/contagem"
	runtimepkg "github.com/drblury/tracedqueue/internal/runtime"
	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
	"github.com/drblury/tracedqueue/internal/storage"
)

func newWorkerCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Receive counter results from the queue and store them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, v, cmd)
		},
	}
}

func runWorker(ctx context.Context, v *viper.Viper, cmd *cobra.Command) (err error) {
	a, err := newApp(ctx, v, cmd.OutOrStdout(), "worker")
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.close()) }()

	repo, err := storage.Open(a.cfg.DatabaseDriver, a.cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, repo.Close()) }()
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	worker, err := runtimepkg.NewWorker(runtimepkg.WorkerConfig[contagem.Resultado]{
		Connector:          a.connector,
		Queue:              a.cfg.Queue,
		Handler:            contagem.NewProcessor(repo, a.cfg.Consumer),
		Logger:             a.logger,
		Dependencies:       a.dependencies(""),
		Hooks:              runtimepkg.LoggingHooks(a.logger),
		MaxConcurrentCalls: a.cfg.MaxConcurrentCalls,
		ShutdownTimeout:    a.cfg.ShutdownTimeout,
		HeartbeatInterval:  a.cfg.HeartbeatInterval,
	})
	if err != nil {
		return err
	}
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	a.logger.Info("Worker receiving", loggingpkg.LogFields{
		"transport": a.cfg.Transport,
		"queue":     a.cfg.Queue,
		"database":  a.cfg.DatabaseDriver,
	})

	a.mountObservability()
	serveErr := a.service.Start(ctx)

	stopErr := worker.Stop(context.WithoutCancel(ctx))
	return errors.Join(serveErr, stopErr)
}
