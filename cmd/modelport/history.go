package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelport/internal/config"
	"github.com/ekisa-team/modelport/internal/history"
)

func newHistoryCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent exports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			store, err := history.Open(config.ResolveHistoryPath(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tCHECKPOINT\tFORMAT\tOPSET\tSTATUS\tSIZE\tSHA256\tDETAIL")
			for _, e := range entries {
				detail := e.Artifact
				if e.Status == history.StatusFailed {
					detail = e.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
					humanize.Time(e.FinishedAt),
					e.Checkpoint,
					e.Format,
					e.Opset,
					e.Status,
					humanize.Bytes(uint64(e.SizeBytes)),
					shortDigest(e.SHA256),
					detail)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries (0 = all)")

	return cmd
}

func shortDigest(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	if sum == "" {
		return "-"
	}
	return sum
}
