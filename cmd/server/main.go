// cmd/server/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "serial-service/docs"
	"serial-service/internal/config"
	"serial-service/internal/utils"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "serial-service",
	Short: "Serial device communication service",
	Long: `serial-service owns one serial port (local, tcp:// bridge or usb:// bulk
device), classifies the device's responses, maps telemetry lines to typed
variables and exposes everything over HTTP, WebSocket and MQTT.

Run "serial-service serve" to start the service, or use the ports, send and
sequence commands for one-off work against a device.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a config file (default: ./config.yaml, ./config/, /etc/serial-service/)")
}

// @title Serial Service API
// @version 1.0.0
// @description Serial port connection management, command exchange, telemetry signals, sequences and the command journal.
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @host localhost:8085
// @BasePath /
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the root logger
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
