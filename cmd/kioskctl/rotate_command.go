package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artkiosk/kiosk/internal/history"
	"github.com/artkiosk/kiosk/internal/rotator"
)

func newRotateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Replace the active artwork now",
		Long: `Replace the active artwork with a random file from the image pool.

With --addr the request goes to a running rotator's control API. Without it
the rotation is performed directly on the configured files, which fails while
a rotator holds the lock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				rot history.Rotation
				err error
			)
			if api := ctx.remote(); api != nil {
				rot, err = api.rotate(cmd.Context())
			} else {
				rot, err = rotateLocal(cmd, ctx)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rotated %s -> %s (%s)\n", rot.Source, rot.Target, rot.Mode)
			return nil
		},
	}
}

func rotateLocal(cmd *cobra.Command, ctx *commandContext) (history.Rotation, error) {
	rot, cleanup, err := ctx.newRotator(cmd.Context())
	if err != nil {
		return history.Rotation{}, err
	}
	defer cleanup()

	if err := rot.Acquire(); err != nil {
		if errors.Is(err, rotator.ErrLocked) {
			return history.Rotation{}, fmt.Errorf("%w: a rotator is running; use --addr to ask it to rotate", err)
		}
		return history.Rotation{}, err
	}
	defer rot.Release()

	return rot.RotateOnce(cmd.Context(), history.TriggerManual)
}
