package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spacehub",
		Short: "Space presence and filtered event hub",
		Long: `spacehub keeps track of who is present in each space and pushes
membership changes to the connections watching it, through the filters
each connection declared.

A deployment runs one or more gateways, which hold client websocket
connections, and one backend relay shared by all of them over NATS or
Redis. With the memory transport a single gateway runs its own relay.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(createGatewayCmd())
	rootCmd.AddCommand(createBackendCmd())
	rootCmd.AddCommand(createTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
