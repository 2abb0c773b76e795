// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ManuGH/offlinevod/internal/daemon"
	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/downloader"
	"github.com/ManuGH/offlinevod/internal/registry"
)

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	var (
		quality    string
		hevc       bool
		noComments bool
	)
	cmd := &cobra.Command{
		Use:   "download <video-id>",
		Short: "Download a recorded program for offline playback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID, err := strconv.Atoi(args[0])
			if err != nil || videoID <= 0 {
				return fmt.Errorf("invalid video id %q", args[0])
			}
			return opts.withApp(cmd, func(ctx context.Context, app *daemon.App) error {
				program, err := app.Upstream.FetchProgram(ctx, videoID)
				if err != nil {
					return err
				}
				q := quality
				if q == "" {
					q = app.Config.Download.Quality
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Downloading %q (%s)\n", program.Title, q)

				stop := reportProgress(out, app.Registry)
				defer stop()
				rec, err := app.Engine.StartDownload(ctx, program, downloader.Options{
					Quality:      q,
					IsHEVC:       hevc,
					SaveComments: app.Config.Download.SaveComments && !noComments,
				})
				return finish(out, rec, err)
			})
		},
	}
	cmd.Flags().StringVar(&quality, "quality", "", "stream quality, e.g. 1080p (default from config)")
	cmd.Flags().BoolVar(&hevc, "hevc", false, "download the HEVC variant")
	cmd.Flags().BoolVar(&noComments, "no-comments", false, "skip the comment side channel")
	return cmd
}

func newResumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <download-id>",
		Short: "Resume a paused or failed download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *daemon.App) error {
				out := cmd.OutOrStdout()
				stop := reportProgress(out, app.Registry)
				defer stop()
				rec, err := app.Engine.ResumeDownload(ctx, args[0])
				return finish(out, rec, err)
			})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(_ context.Context, app *daemon.App) error {
				if _, err := app.Registry.StorageBackend(); err != nil {
					return err
				}
				return writeList(cmd.OutOrStdout(), app.Registry.Downloads(), time.Now())
			})
		},
	}
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <download-id>...",
		Aliases: []string{"rm"},
		Short:   "Delete downloads and their stored media",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *daemon.App) error {
				var errs []error
				for _, id := range args {
					if err := app.Engine.RemoveDownload(ctx, id); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", id, err))
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
				}
				return errors.Join(errs...)
			})
		},
	}
}

// reportProgress prints one line per progress event until stopped.
func reportProgress(w io.Writer, reg *registry.Registry) func() {
	return reg.Subscribe(func(ev registry.Event) {
		if ev.Kind != registry.EventProgress {
			return
		}
		if p, ok := reg.Progress(ev.ID); ok {
			fmt.Fprintln(w, progressLine(p))
		}
	})
}

func progressLine(p model.ProgressSnapshot) string {
	line := fmt.Sprintf("  %d/%d segments, %s", p.DownloadedSegments, p.TotalSegments, humanize.Bytes(uint64(p.DownloadedBytes)))
	if p.TotalBytesEstimate != nil && *p.TotalBytesEstimate > 0 {
		line += " of ~" + humanize.Bytes(uint64(*p.TotalBytesEstimate))
	}
	if p.EstimatedRemainingMS != nil && p.DownloadedSegments < p.TotalSegments {
		line += ", " + (time.Duration(*p.EstimatedRemainingMS) * time.Millisecond).Round(time.Second).String() + " left"
	}
	return line
}

func finish(w io.Writer, rec model.DownloadRecord, err error) error {
	if err != nil {
		if model.IsAborted(err) {
			fmt.Fprintf(w, "Paused %s; run `offlinevod resume %s` to continue\n", rec.ID, rec.ID)
			return nil
		}
		return err
	}
	fmt.Fprintf(w, "Completed %s: %d segments, %s\n", rec.ID, rec.SegmentCount, humanize.Bytes(uint64(rec.TotalBytes)))
	return nil
}

func writeList(w io.Writer, recs []model.DownloadRecord, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTITLE\tQUALITY\tSEGMENTS\tSIZE\tUPDATED")
	for _, rec := range recs {
		updated := rec.UpdatedAt
		if t, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt); err == nil {
			updated = humanize.RelTime(t, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.ID, rec.Status, rec.Program.Title, rec.QualityPath(),
			rec.SegmentCount, humanize.Bytes(uint64(rec.TotalBytes)), updated)
	}
	return tw.Flush()
}
