package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drblury/tracedqueue/internal/contagem"
	runtimepkg "github.com/drblury/tracedqueue/internal/runtime"
	loggingpkg "github.com/drblury/tracedqueue/internal/runtime/logging"
)

func newAPICmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve GET /contador and send every counter result to the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAPI(ctx, v, cmd)
		},
	}
}

func runAPI(ctx context.Context, v *viper.Viper, cmd *cobra.Command) error {
	a, err := newApp(ctx, v, cmd.OutOrStdout(), "api")
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	sender, err := runtimepkg.NewSender[contagem.Resultado](a.connector, a.logger, a.dependencies(a.cfg.Producer))
	if err != nil {
		return err
	}
	api, err := contagem.NewAPI(contagem.APIConfig{
		Sender:         sender,
		Queue:          a.cfg.Queue,
		Producer:       a.cfg.Producer,
		Logger:         a.logger,
		TracerProvider: a.tracerProvider,
	})
	if err != nil {
		return err
	}

	a.service.Router(a.cfg.APIAddress).Mount("/", api.Routes())
	a.mountObservability()

	a.logger.Info("Counter API starting", loggingpkg.LogFields{
		"address":   a.cfg.APIAddress,
		"transport": a.cfg.Transport,
		"queue":     a.cfg.Queue,
	})
	return a.service.Start(ctx)
}
