package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/blegw/internal/apfactory"
	"github.com/srg/blegw/internal/config"
	"github.com/srg/blegw/internal/publish"
)

// scanCmd scans with the configured backend and prints advertisements
// to the console instead of publishing them.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for Bluetooth Low Energy devices with the configured backend and
print each advertisement as it arrives.`,
	RunE: runScan,
}

var scanDuration time.Duration

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
}

// consolePublisher prints advertisements; the gateway's other event
// kinds are irrelevant while only scanning.
type consolePublisher struct {
	addrColor *color.Color
	rssiColor *color.Color
}

var _ publish.Publisher = (*consolePublisher)(nil)

func newConsolePublisher() *consolePublisher {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
	return &consolePublisher{
		addrColor: color.New(color.FgCyan),
		rssiColor: color.New(color.FgYellow),
	}
}

func (p *consolePublisher) PublishAdvertisement(address string, rssi int, data []byte) {
	fmt.Printf("%s  %s  %s\n",
		p.addrColor.Sprint(address),
		p.rssiColor.Sprintf("%4d dBm", rssi),
		hex.EncodeToString(data))
}

func (p *consolePublisher) PublishNotification(string, string, string, []byte) {}

func (p *consolePublisher) PublishConnectionStatus(string, bool, int) {}

func runScan(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	accessPoint, err := apfactory.New(cfg, newConsolePublisher(), logger)
	if err != nil {
		return err
	}

	if err := accessPoint.Start(); err != nil {
		return fmt.Errorf("failed to start access point: %w", err)
	}
	defer func() {
		if err := accessPoint.Stop(); err != nil {
			logger.WithField("error", err).Warn("Failed to stop access point")
		}
	}()

	if err := accessPoint.StartScan(); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if scanDuration > 0 {
		timer := time.NewTimer(scanDuration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-sigCh:
			fmt.Println("\nCtrl+C pressed, stopping scan...")
		}
	} else {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, stopping scan...")
	}

	return accessPoint.StopScan()
}
