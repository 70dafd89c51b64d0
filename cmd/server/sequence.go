// cmd/server/sequence.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// sequenceCmd groups the sequence subcommands
var sequenceCmd = &cobra.Command{
	Use:   "sequence",
	Short: "List or run configured command sequences",
}

var sequenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured sequences with their expanded steps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Server.Enabled = false

		app, err := NewApplication(cfg, logger)
		if err != nil {
			return err
		}
		defer app.Shutdown()

		for _, name := range app.library.Names() {
			steps, err := app.library.Expand(name)
			if err != nil {
				fmt.Printf("%s: %v\n", name, err)
				continue
			}
			fmt.Printf("%s:\n  %s\n", name, strings.Join(steps, "\n  "))
		}
		return nil
	},
}

var sequenceRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Connect and run one sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Server.Enabled = false

		app, err := NewApplication(cfg, logger)
		if err != nil {
			return err
		}
		defer app.Shutdown()

		// stop blocked workers on Ctrl-C while the run unwinds
		workerCtx, cancelWorkers := context.WithCancel(context.Background())
		defer cancelWorkers()
		go app.workers.HandleSignals(workerCtx, cfg.Manager.ShutdownTimeout)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := connectFromFlags(cmd, app); err != nil {
			return err
		}

		result, err := app.runner.Run(ctx, args[0])
		if result != nil {
			fmt.Printf("%s: %s (executed %d, skipped %d, %s)\n",
				result.Sequence, result.Message, result.Executed, result.Skipped, result.Duration.Round(time.Millisecond))
			for _, resp := range result.Responses {
				fmt.Printf("  %s -> %s %s\n", resp.Command, resp.Status, resp.Data)
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(sequenceCmd)
	sequenceCmd.AddCommand(sequenceListCmd, sequenceRunCmd)

	addPortFlags(sequenceRunCmd)
}
