// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuGH/offlinevod/internal/daemon"
	"github.com/ManuGH/offlinevod/internal/intercept"
	"github.com/ManuGH/offlinevod/internal/playback"
	"github.com/ManuGH/offlinevod/internal/playback/player"
)

func newPlayCmd(opts *rootOptions) *cobra.Command {
	var (
		output   string
		realtime bool
	)
	cmd := &cobra.Command{
		Use:   "play <download-id>",
		Short: "Play a completed download from local storage",
		Long: "Plays a download through the offline interception layer. Segment\n" +
			"bytes are written in order to --output (use - for stdout), which can be\n" +
			"piped into a media player.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, closeSink, err := openSink(cmd, output)
			if err != nil {
				return err
			}
			defer closeSink()

			return opts.withApp(cmd, func(ctx context.Context, app *daemon.App) error {
				ctrl := playback.NewController(app.Store, intercept.NewTransport(app.Resolver, nil), playback.Options{
					Factory: player.Factory(player.Options{Sink: sink, Realtime: realtime}),
				})
				return play(ctx, ctrl, args[0], cmd.ErrOrStderr())
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the media stream to this file, - for stdout (default discard)")
	cmd.Flags().BoolVar(&realtime, "realtime", false, "pace delivery by segment duration")
	return cmd
}

func openSink(cmd *cobra.Command, output string) (io.Writer, func(), error) {
	switch output {
	case "":
		return io.Discard, func() {}, nil
	case "-":
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(output) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// play drives ctrl until the stream ends, fails, or ctx is cancelled.
func play(ctx context.Context, ctrl *playback.Controller, id string, status io.Writer) error {
	finished := make(chan playback.State, 1)
	unsubscribe := ctrl.Subscribe(func(s playback.State) {
		fmt.Fprintf(status, "state: %s\n", s)
		if s == playback.StateEnded || s == playback.StateError {
			select {
			case finished <- s:
			default:
			}
		}
	})
	defer unsubscribe()
	defer ctrl.Destroy()

	if err := ctrl.Initialize(ctx, id); err != nil {
		return err
	}
	if err := ctrl.Play(); err != nil {
		return err
	}

	select {
	case s := <-finished:
		if s == playback.StateError {
			return fmt.Errorf("playback of %s failed", id)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}
