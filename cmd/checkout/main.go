// Command checkout pays an invoice from the terminal against a processing
// backend, typically the sandbox started by cmd/server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "checkout",
		Short: "Terminal checkout for processing invoices",
		Long: `checkout walks through the payment of one invoice: method selection,
card entry, payment progress with 3-D Secure and recovery from failures.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newPayCmd())
	root.AddCommand(newConfigCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
