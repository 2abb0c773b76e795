// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ManuGH/offlinevod/internal/daemon"
	"github.com/ManuGH/offlinevod/internal/domain/download/model"
	"github.com/ManuGH/offlinevod/internal/storage"
)

func newBackendCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Inspect the storage backends",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "detect",
			Short: "Print the first usable backend in preference order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withApp(cmd, func(ctx context.Context, app *daemon.App) error {
					kind, err := app.Store.DetectAvailableBackend(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), kind)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "estimate",
			Short: "Report bytes held by the catalog and each backend",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withApp(cmd, func(ctx context.Context, app *daemon.App) error {
					est, err := app.Store.Estimate(ctx)
					if err != nil {
						return err
					}
					writeEstimate(cmd.OutOrStdout(), est)
					return nil
				})
			},
		},
		newVerifyCmd(opts),
	)
	return cmd
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run an integrity check on the catalog database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *daemon.App) error {
				problems, err := app.Store.VerifyCatalog(ctx, full)
				if err != nil {
					return err
				}
				if len(problems) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "ok")
					return nil
				}
				for _, p := range problems {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return fmt.Errorf("catalog check reported %d problem(s)", len(problems))
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "run integrity_check instead of quick_check")
	return cmd
}

func writeEstimate(w io.Writer, est storage.Estimate) {
	fmt.Fprintf(w, "catalog\t%s\n", humanize.IBytes(uint64(est.CatalogBytes)))

	kinds := make([]model.StorageBackend, 0, len(est.Backends))
	for k := range est.Backends {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Fprintf(w, "%s\t%s\n", k, humanize.IBytes(uint64(est.Backends[k])))
	}
	for k, reason := range est.Unavailable {
		fmt.Fprintf(w, "%s\tunavailable: %s\n", k, reason)
	}
	fmt.Fprintf(w, "total\t%s\n", humanize.IBytes(uint64(est.TotalBytes)))
}
