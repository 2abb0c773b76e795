// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command offlinevod downloads recorded programs for offline playback and
// serves them from local storage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/offlinevod/internal/config"
	"github.com/ManuGH/offlinevod/internal/daemon"
	xglog "github.com/ManuGH/offlinevod/internal/log"
	"github.com/ManuGH/offlinevod/internal/version"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "offlinevod",
		Short:         "Download recorded programs and play them back offline",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCmd(opts),
		newDownloadCmd(opts),
		newResumeCmd(opts),
		newListCmd(opts),
		newRemoveCmd(opts),
		newPlayCmd(opts),
		newBackendCmd(opts),
	)
	return root
}

// loadConfig reads the configuration and reconfigures logging from it.
func (o *rootOptions) loadConfig() (config.Config, error) {
	xglog.Configure(xglog.Config{Level: "info", Output: os.Stderr, Service: daemon.ServiceName, Version: version.Version})

	cfg, err := config.NewLoader(o.configPath).Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Output: os.Stderr, Service: daemon.ServiceName, Version: version.Version})

	source := "env+defaults"
	if o.configPath != "" {
		source = "file"
	}
	xglog.WithComponent("cli").Debug().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, o.configPath).
		Msg("configuration loaded")
	return cfg, nil
}

// withApp bootstraps the app for one command and always closes it. ctx
// ends on SIGINT or SIGTERM.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *daemon.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := daemon.Bootstrap(ctx, cfg, version.Version)
	if err != nil {
		return err
	}
	runErr := fn(ctx, app)
	closeErr := app.Close(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and offline media server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			app, err := daemon.Bootstrap(cmd.Context(), cfg, version.Version)
			if err != nil {
				return err
			}
			// Close runs as the manager's last shutdown hook.
			return app.Serve(cmd.Context())
		},
	}
}
