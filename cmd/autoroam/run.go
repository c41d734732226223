package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/autoroam/internal/log"
	"github.com/CZERTAINLY/autoroam/internal/model"
	"github.com/CZERTAINLY/autoroam/internal/remote"
	"github.com/CZERTAINLY/autoroam/internal/roam"
	"github.com/CZERTAINLY/autoroam/internal/service"
)

func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := withSignals(cmd.Context())
	defer stop()

	attrs := slog.Group("autoroam",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	endpointURL := model.DefaultEndpointURL
	if config.Endpoint != nil {
		endpointURL = config.Endpoint.URL
	}
	client, err := remote.New(endpointURL, config.Endpoint.Timeout())
	if err != nil {
		return fmt.Errorf("endpoint.url: %w", err)
	}

	coord := roam.NewCoordinator(client, newTerminal(os.Stderr), coordinatorConfig(config))
	supervisor, err := service.SupervisorFromConfig(ctx, config.Service, coord, runParameters(config))
	if err != nil {
		return err
	}
	return supervisor.Do(ctx)
}

func coordinatorConfig(cfg *model.Config) roam.Config {
	return roam.Config{
		Watch: roam.WatchConfig{
			MaxWait:      cfg.Watch.MaxWait(),
			PollInterval: cfg.Watch.PollInterval(),
		},
		LogInterval: cfg.Watch.LogInterval(),
	}
}

// runParameters resolves flags over environment over the config file.
// Values left empty get the built-in defaults when a run starts.
func runParameters(cfg *model.Config) roam.Parameters {
	var params roam.Parameters
	if cfg.Run != nil {
		params.Iface = cfg.Run.Iface
		params.RSSI = cfg.Run.RSSI
	}
	if overrides.IsSet("iface") {
		params.Iface = overrides.GetString("iface")
	}
	if overrides.IsSet("rssi") {
		params.RSSI = overrides.GetInt("rssi")
	}
	return params
}

func withSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
