package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree; every call returns fresh flag state
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "soundlink",
		Short: "Sound level sensor client",
		Long: `Connects to a SHIELD sound level sensor over Bluetooth Low Energy, or over
the local network when no Bluetooth stack is available, and streams its readings:

- Discover nearby sensors by name or name prefix
- Monitor live dBA readings with rolling statistics
- Send commands to the sensor

Settings come from defaults, an optional YAML file (--config), SOUNDLINK_*
environment variables and finally command-line flags.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),

		// main() prints clean errors
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("verbose", false, "Verbose output (same as --log-level=debug)")
	flags.String("transport", "", "Transport: auto, radio or network")
	flags.String("target", "", "Device name to look for")
	flags.String("prefix", "", "Also accept device names starting with this prefix")
	flags.StringSlice("hosts", nil, "Network candidates: host, host:port or CIDR up to /24")

	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(newScanCmd())
	root.AddCommand(newMonitorCmd())
	root.AddCommand(newSendCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
