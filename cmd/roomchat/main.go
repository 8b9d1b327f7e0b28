package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomchat",
		Short: "Multi-room chat over a length-prefixed TLV protocol",
		Long: `Roomchat is a multi-room chat service. The server accepts raw TCP
and WebSocket clients on one port, authenticates them with a display
name, and relays chat lines to every member of a room.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		clientCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
