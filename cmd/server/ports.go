// cmd/server/ports.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"serial-service/internal/discovery/usb"
	"serial-service/internal/transport"
)

// portsCmd represents the ports command
var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Long: `List the serial ports the operating system reports. USB adapters are
described from the built-in vendor table; --usb-lookup additionally reads
the manufacturer and product strings from the device descriptors.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		live, _ := cmd.Flags().GetBool("usb-lookup")
		asJSON, _ := cmd.Flags().GetBool("json")

		ports, err := transport.ListPorts(usb.NewDescriber(zap.NewNop(), live))
		if err != nil {
			return fmt.Errorf("failed to list ports: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ports)
		}

		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tVID:PID\tDESCRIPTION")
		for _, p := range ports {
			ids := "-"
			if p.IsUSB {
				ids = p.VID + ":" + p.PID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Port, ids, p.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)

	portsCmd.Flags().Bool("usb-lookup", false, "Read USB descriptor strings (needs access to the USB bus)")
	portsCmd.Flags().Bool("json", false, "Print the port list as JSON")
}
