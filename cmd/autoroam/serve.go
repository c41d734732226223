package main

import (
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/autoroam/internal/log"
	"github.com/CZERTAINLY/autoroam/internal/model"
	"github.com/CZERTAINLY/autoroam/internal/server"
	"github.com/CZERTAINLY/autoroam/internal/service"
)

func doServe(cmd *cobra.Command, args []string) error {
	ctx, stop := withSignals(cmd.Context())
	defer stop()

	attrs := slog.Group("autoroam",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	if config.Server == nil {
		return errors.New("server section is missing in the configuration")
	}
	srv, err := server.New(serverConfig(*config.Server))
	if err != nil {
		return err
	}

	err = srv.ListenAndServe(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func serverConfig(cfg model.Server) server.Config {
	var env []string
	for _, k := range slices.Sorted(maps.Keys(cfg.Command.Env)) {
		v := cfg.Command.Env[k]
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, k+"="+v)
	}
	return server.Config{
		Listen:  cfg.Listen,
		DataDir: cfg.DataDir,
		Command: service.Command{
			Path:    cfg.Command.Path,
			Args:    cfg.Command.Args,
			Env:     env,
			Timeout: cfg.Command.Timeout(),
		},
		CORSOrigins: cfg.CORSOrigins,
	}
}
