package main

import (
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

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blegw",
	Short: "BLE access-point gateway",
	Long: `BLE access-point gateway that bridges Bluetooth Low Energy devices
onto an MQTT data plane:

- Connect to BLE peripherals and walk their GATT tables
- Read, write and subscribe to characteristics
- Forward notifications, advertisements and connection status as
  CBOR-encoded MQTT messages

Backends: an NCP radio controller over a serial port, the host BLE
stack, or an in-process mock for development.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to YAML config file")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
