package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const sampleConfig = `# Art kiosk configuration, shared by the rotator and the viewer.
active_artwork: /srv/artkiosk/active.jpg
image_directory: /srv/artkiosk/pool
log_level: info

rotation:
  interval: 1h
  mode: copy
  extensions: [".jpg"]
  rotate_on_start: false
  # control_addr: 127.0.0.1:9100

viewer:
  listen_addr: 127.0.0.1:8080
  watch_mode: notify
  debounce: 1s
  settle_delay: 100ms
  fullscreen: true
  # frame:
  #   path: /srv/artkiosk/frame.png
  #   inner_width: 1600
  #   inner_height: 900

history:
  driver: sqlite
  dsn: /var/lib/artkiosk/history.db
`

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				target = defaultConfigPath
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := os.WriteFile(target, []byte(sampleConfig), 0o644); err != nil {
				return fmt.Errorf("write sample config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath())
			fmt.Fprintf(out, "Active artwork: %s\n", cfg.ActiveArtwork)
			if cfg.ImageDirectory != "" {
				fmt.Fprintf(out, "Image pool: %s\n", cfg.ImageDirectory)
			}
			fmt.Fprintf(out, "Rotation: every %s (%s)\n", cfg.Rotation.Interval, cfg.Rotation.Mode)
			fmt.Fprintf(out, "Viewer: %s, %s watch, debounce %s\n", cfg.Viewer.ListenAddr, cfg.Viewer.WatchMode, *cfg.Viewer.Debounce)
			if cfg.History.Enabled() {
				fmt.Fprintf(out, "History: %s\n", cfg.History.Driver)
			} else {
				fmt.Fprintln(out, "History: disabled")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
