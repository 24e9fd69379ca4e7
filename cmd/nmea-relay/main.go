package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

var exampleUsage = strings.TrimSpace(`
  nmea-relay run --config ./nmea-relay.yaml
  nmea-relay run --config replay.yaml --seek 2024-05-01T10:30:00Z --speed 4
  nmea-relay summary logs/nmea0_1714559400000.nmea
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nmea-relay",
		Short:         "Frame, filter, log and replay NMEA 0183 sentences",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newSummaryCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nmea-relay: %v\n", err)
		os.Exit(1)
	}
}
