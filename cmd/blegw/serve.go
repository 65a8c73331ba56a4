package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blegw/internal/apfactory"
	"github.com/srg/blegw/internal/config"
	"github.com/srg/blegw/internal/publish"
)

// serveCmd runs the gateway: backend access point plus MQTT publisher.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway: bring the configured BLE backend online and forward
notifications, advertisements and connection status changes to the MQTT
broker until interrupted.`,
	RunE: runServe,
}

var serveScan bool

func init() {
	serveCmd.Flags().BoolVar(&serveScan, "scan", false, "Start scanning immediately")
}

func runServe(cmd *cobra.Command, _ []string) error {
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

	publisher, err := publish.NewMQTTPublisher(publish.MQTTOptions{
		BrokerURL:   cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QueueSize:   cfg.MQTT.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create MQTT publisher: %w", err)
	}
	defer publisher.Close()

	accessPoint, err := apfactory.New(cfg, publisher, logger)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"backend": cfg.Backend,
		"broker":  cfg.MQTT.Broker,
	}).Info("Starting gateway")

	if err := accessPoint.Start(); err != nil {
		return fmt.Errorf("failed to start access point: %w", err)
	}

	if serveScan {
		if err := accessPoint.StartScan(); err != nil {
			logger.WithField("error", err).Warn("Failed to start scan")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutting down")

	if err := accessPoint.Stop(); err != nil {
		return fmt.Errorf("failed to stop access point: %w", err)
	}
	return nil
}
