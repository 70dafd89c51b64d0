// cmd/server/send.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"serial-service/internal/model"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Send one command and print the response",
	Long: `Open the port, send a command and print the classified response.

Example usage:
  serial-service send "AT+GMR" --port /dev/ttyUSB0
  serial-service send "READ 1" --port tcp://10.0.0.5:4001 --expect '^VAL'
  serial-service send "LED ON" --no-wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		// one-shot commands talk to the device directly
		cfg.Server.Enabled = false
		cfg.Reader.Enabled = false

		app, err := NewApplication(cfg, logger)
		if err != nil {
			return err
		}
		defer app.Shutdown()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := connectFromFlags(cmd, app); err != nil {
			return err
		}

		noWait, _ := cmd.Flags().GetBool("no-wait")
		if noWait {
			if err := app.manager.SendCommand(args[0], nil); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		retries, _ := cmd.Flags().GetInt("retries")
		expect, _ := cmd.Flags().GetString("expect")

		resp, err := app.manager.SendAndWait(ctx, model.Command{
			Text:             args[0],
			Retries:          retries,
			ExpectedResponse: expect,
		}, timeout)
		if err != nil {
			return err
		}

		fmt.Printf("%s\t%s\t(%s)\n", resp.Status, resp.Data, resp.ResponseTime.Round(time.Millisecond))
		if !resp.IsSuccess() {
			return fmt.Errorf("device responded with status %s", resp.Status)
		}
		return nil
	},
}

// connectFromFlags opens --port (or the configured default) with the
// --baud override
func connectFromFlags(cmd *cobra.Command, app *Application) error {
	port, _ := cmd.Flags().GetString("port")
	if port == "" {
		port = app.config.Serial.Port
	}
	if port == "" {
		return fmt.Errorf("no port given: use --port or set serial.port")
	}

	var opts []model.SettingsOption
	if baud, _ := cmd.Flags().GetInt("baud"); baud > 0 {
		opts = append(opts, model.WithBaudRate(baud))
	}
	if err := app.manager.Connect(port, opts...); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", port, err)
	}
	return nil
}

func addPortFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("port", "p", "", "Port to open (path, tcp://host:port or usb://vid:pid)")
	cmd.Flags().IntP("baud", "b", 0, "Baud rate (default: serial.baud_rate)")
}

func init() {
	rootCmd.AddCommand(sendCmd)

	addPortFlags(sendCmd)
	sendCmd.Flags().DurationP("timeout", "t", 0, "Response timeout (default: protocol.default_timeout)")
	sendCmd.Flags().IntP("retries", "r", 0, "Resend attempts after a timeout")
	sendCmd.Flags().StringP("expect", "e", "", "Regular expression the response must match")
	sendCmd.Flags().Bool("no-wait", false, "Send without waiting for a response")
}
