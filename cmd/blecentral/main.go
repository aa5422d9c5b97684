package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/srg/blecentral/pkg/central"
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

// newRootCmd builds the command tree. Every call returns fresh commands and
// flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blecentral",
		Short: "Bluetooth Low Energy central tool",
		Long: `Bluetooth Low Energy (BLE) central-role command-line tool that provides:

- Scan and discover nearby BLE peripherals
- Inspect GATT services, characteristics, and descriptors
- Read from and write to characteristics
- Follow characteristic notifications
- Monitor the raw central event stream
- Read Xiaomi temperature/humidity sensors, actively or from advertisements`,
		Version: formatVersion(version),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("{{.Name}} {{.Version}} (commit %s, built %s)\n", commit, date))

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolP("verbose", "V", false, "Enable debug logging")
	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	root.PersistentFlags().String("backend", "", fmt.Sprintf("Native BLE backend %v (default %q)", central.Backends(), central.DefaultBackend()))

	// Add -v as a short flag for --version
	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(
		newScanCmd(),
		newInspectCmd(),
		newReadCmd(),
		newWriteCmd(),
		newSubscribeCmd(),
		newRSSICmd(),
		newMonitorCmd(),
		newMiSensorCmd(),
		newMiPassiveCmd(),
	)
	return root
}

func main() {
	ctx, stop := signalContext(context.Background())
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		stop()
		os.Exit(1)
	}
}
