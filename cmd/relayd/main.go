package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCmd creates the root command for relayd. It is called once in main.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "relayd",
		Short:         "Mega Rally tournament relay daemon",
		Long: `relayd sits between websocket game clients and the tournament ledger:
it authenticates players by wallet signature, validates gameplay events,
computes authoritative scores, and submits them on-chain.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	registerFlags(rootCmd)
	return rootCmd
}
