package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vpnwatch/backend/internal/identity"
	"github.com/vpnwatch/backend/internal/mock"
	"github.com/vpnwatch/backend/internal/monitor"
)

type snapshotRow struct {
	ID             string    `json:"id"`
	Identity       string    `json:"identity"`
	Address        string    `json:"address"`
	VirtualAddress string    `json:"virtualAddress,omitempty"`
	ConnectedSince time.Time `json:"connectedSince,omitempty"`
}

func newSnapshotCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the currently connected sessions once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}

			directory := identity.NewDirectory(cfg.Mapping.Path, cfg.Mapping.Extension, zerolog.Nop())
			directory.Load()

			var source monitor.Source = monitor.NewStatusFileSource(cfg.Feed.Path, cfg.Feed.Marker, cfg.Feed.RequireEnd)
			if mockMode {
				source = mock.NewGenerator(1, cfg.Feed.PollInterval)
			}
			snap, err := source.Snapshot()
			if err != nil {
				return err
			}

			rows := make([]snapshotRow, 0, len(snap))
			for _, s := range snap.Sessions() {
				rows = append(rows, snapshotRow{
					ID:             s.ID,
					Identity:       directory.Resolve(s.ID),
					Address:        s.Address,
					VirtualAddress: s.VirtualAddress,
					ConnectedSince: s.ConnectedSince,
				})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tIDENTITY\tADDRESS\tVIRTUAL\tSINCE")
			for _, r := range rows {
				since := "-"
				if !r.ConnectedSince.IsZero() {
					since = r.ConnectedSince.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Identity, r.Address, r.VirtualAddress, since)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
