package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/artkiosk/config.yaml"

func newRootCommand() *cobra.Command {
	var configFlag, addrFlag, tokenFlag string

	ctx := newCommandContext(&configFlag, &addrFlag, &tokenFlag)

	rootCmd := &cobra.Command{
		Use:           "kioskctl",
		Short:         "Art kiosk control CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", defaultConfigPath, "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Rotator control API base URL (e.g. http://127.0.0.1:9100); empty works on local files")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", os.Getenv("KIOSK_TOKEN"), "Bearer token for the control API (default $KIOSK_TOKEN)")

	rootCmd.AddCommand(newRotateCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newCandidatesCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
