package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newCandidatesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List pool images eligible for the next rotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				files []string
				err   error
			)
			if api := ctx.remote(); api != nil {
				files, err = api.candidates(cmd.Context())
			} else {
				files, err = localCandidates(cmd, ctx)
			}
			if err != nil {
				return err
			}

			if asJSON {
				if files == nil {
					files = []string{}
				}
				return writeJSON(cmd, map[string]any{"candidates": files})
			}

			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "Image pool is empty")
				return nil
			}
			rows := make([][]string, 0, len(files))
			for _, f := range files {
				size := "-"
				if info, err := os.Stat(f); err == nil {
					size = humanSize(info.Size())
				}
				rows = append(rows, []string{filepath.Base(f), size})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"File", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			fmt.Fprintf(out, "%d candidates\n", len(files))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func localCandidates(cmd *cobra.Command, ctx *commandContext) ([]string, error) {
	rot, cleanup, err := ctx.newRotator(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return rot.Candidates()
}
