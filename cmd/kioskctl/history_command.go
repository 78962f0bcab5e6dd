package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/artkiosk/kiosk/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent rotations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				limit = history.DefaultLimit
			}

			var (
				total int64
				rows  []history.Rotation
				err   error
			)
			if api := ctx.remote(); api != nil {
				total, rows, err = api.history(cmd.Context(), limit)
			} else {
				total, rows, err = localHistory(cmd, ctx, limit)
			}
			if err != nil {
				return err
			}

			if asJSON {
				if rows == nil {
					rows = []history.Rotation{}
				}
				return writeJSON(cmd, map[string]any{"total": total, "rotations": rows})
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No rotations recorded")
				return nil
			}
			tableRows := make([][]string, 0, len(rows))
			for _, r := range rows {
				tableRows = append(tableRows, []string{
					shortID(r.ID),
					r.RotatedAt.Local().Format(time.DateTime),
					string(r.Trigger),
					r.Mode,
					filepath.Base(r.Source),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Rotated", "Trigger", "Mode", "Source"},
				tableRows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			fmt.Fprintf(out, "%d of %d rotations\n", len(rows), total)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "Maximum number of rotations to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func localHistory(cmd *cobra.Command, ctx *commandContext, limit int) (int64, []history.Rotation, error) {
	store, err := ctx.openHistory(cmd.Context())
	if err != nil {
		return 0, nil, err
	}
	defer store.Close()

	rows, err := store.Recent(cmd.Context(), limit)
	if err != nil {
		return 0, nil, err
	}
	total, err := store.Count(cmd.Context())
	if err != nil {
		return 0, nil, err
	}
	return total, rows, nil
}
