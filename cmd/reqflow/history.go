package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/reqflow/internal/config"
	"github.com/unkn0wn-root/reqflow/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		runUID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history [collection-dir]",
		Short: "Show recorded request executions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := history.NewStore(filepath.Join(config.Dir(), history.FileName), a.settings.Request.HistoryEntries)
			if err := store.Load(); err != nil {
				return err
			}
			var entries []history.Entry
			switch {
			case runUID != "":
				entries = store.ByRun(runUID)
			case len(args) == 1:
				col, err := loadCollection(args[0], "")
				if err != nil {
					return err
				}
				entries = store.ByCollection(col.UID)
			default:
				entries = store.Entries()
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tREQUEST\tMETHOD\tSTATUS\tTESTS\tDURATION")
			for _, e := range entries {
				status := fmt.Sprintf("%d", e.StatusCode)
				if e.Error != "" {
					status = e.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					e.ExecutedAt.Format(time.DateTime), e.RequestName, e.Method, status,
					e.Tests.Passed+e.Assertions.Passed,
					e.Tests.Passed+e.Tests.Failed+e.Assertions.Passed+e.Assertions.Failed,
					e.Duration.Round(time.Millisecond))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&runUID, "run", "", "Only entries of this run uid")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	return cmd
}
