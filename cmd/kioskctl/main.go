// Command kioskctl inspects and drives an art kiosk: it rotates the artwork
// on demand, lists rotation history and pool candidates, and checks the
// configuration file. It works either directly on the configured paths or
// against a rotator control API (--addr).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
