package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fiffu/registrywatch/app"
	"github.com/fiffu/registrywatch/config"
	"github.com/fiffu/registrywatch/lib/models"
	"github.com/fiffu/registrywatch/lib/registry"
	"github.com/fiffu/registrywatch/lib/snapshot"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// fetchLive pulls the whole catalog once, outside the long-running service.
func fetchLive(ctx context.Context) (*models.Snapshot, error) {
	var client *registry.Client
	fxApp := fx.New(
		fx.NopLogger,
		fx.Provide(NewLogger, config.NewConfig, app.NewTransport, registry.NewClient),
		fx.Populate(&client),
	)
	if err := fxApp.Err(); err != nil {
		return nil, err
	}

	servers, err := client.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	snap := snapshot.Create(servers, time.Now())
	snap.ID = uuid.NewString()
	return snap, nil
}

func snapshotCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch the live catalog and save it as a snapshot file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := fetchLive(cmd.Context())
			if err != nil {
				return err
			}
			if err := snapshot.Save(out, snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d servers to %s\n", snap.ServerCount, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "file to write the snapshot to")
	cmd.MarkFlagRequired("out")
	return cmd
}

func diffCommand() *cobra.Command {
	var live, asJSON bool
	cmd := &cobra.Command{
		Use:   "diff OLD [NEW]",
		Short: "Compare two saved snapshots, or a saved snapshot against the live catalog",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			previous, err := snapshot.Load(args[0])
			if err != nil {
				return err
			}

			var current *models.Snapshot
			switch {
			case live && len(args) == 2:
				return errors.New("pass either NEW or --live, not both")
			case live:
				current, err = fetchLive(cmd.Context())
			case len(args) == 2:
				current, err = snapshot.Load(args[1])
			default:
				return errors.New("NEW is required unless --live is set")
			}
			if err != nil {
				return err
			}

			diff := snapshot.Compare(previous, current)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(diff)
			}
			writeDiff(cmd.OutOrStdout(), diff)
			return nil
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "compare against the live catalog")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diff as JSON")
	return cmd
}

func writeDiff(w io.Writer, diff *snapshot.DiffResult) {
	if diff.TotalChanges == 0 {
		fmt.Fprintln(w, "No changes")
		return
	}
	for _, c := range diff.NewServers {
		fmt.Fprintf(w, "+ %s %s\n", c.ServerName, c.NewVersion)
	}
	for _, c := range diff.UpdatedServers {
		fmt.Fprintf(w, "~ %s %s -> %s\n", c.ServerName, c.PreviousVersion, c.NewVersion)
	}
	for _, c := range diff.RemovedServers {
		fmt.Fprintf(w, "- %s %s\n", c.ServerName, c.PreviousVersion)
	}
	fmt.Fprintf(w, "%d new, %d updated, %d removed\n",
		len(diff.NewServers), len(diff.UpdatedServers), len(diff.RemovedServers))
}
