// cmd/server/serve.go
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"serial-service/internal/utils"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, WebSocket and MQTT service",
	Long: `Start the serial service. The configured default port is opened when
serial.auto_connect is set; otherwise clients connect through the API.

The command journal and the MQTT bridge start when enabled in the
configuration. SIGINT or SIGTERM shut everything down gracefully.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer utils.CloseLogger(logger)

		serviceLogger := utils.NewServiceLogger(logger, "serial-service")
		serviceLogger.LogServiceStart(cfg.App.Version, cfg)

		app, err := NewApplication(cfg, logger)
		if err != nil {
			return err
		}

		if err := app.initializeJournal(); err != nil {
			app.Shutdown()
			return fmt.Errorf("failed to initialize journal: %w", err)
		}
		if err := app.initializeBridge(); err != nil {
			// the service stays usable over HTTP without a broker
			logger.Error("MQTT bridge unavailable", zap.Error(err))
		}

		app.autoConnect()

		var serverErr <-chan error
		if cfg.Server.Enabled {
			app.initializeServer()
			serverErr = app.startServer()
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		reason := "shutdown signal received"
		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		case err := <-serverErr:
			if err != nil {
				logger.Error("HTTP server failed", zap.Error(err))
				reason = "http server failed"
			}
		}

		serviceLogger.LogServiceStop(reason)
		app.Shutdown()
		logger.Info("Application shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
