package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roomchat-dev/roomchat/internal/server"
)

func serveCmd() *cobra.Command {
	var cfg server.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := server.New(cfg)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				errChan <- srv.Start()
			}()

			select {
			case err := <-errChan:
				// Start only fails before serving; bind errors land here.
				return err
			case sig := <-sigChan:
				log.Printf("received signal %v, shutting down...", sig)
				srv.Stop()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.Addr, "addr", ":9070", "address to listen on")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address for Prometheus metrics (disabled when empty)")
	cmd.Flags().IntVar(&cfg.MaxSessions, "max-sessions", server.DefaultMaxSessions, "maximum concurrent sessions")
	return cmd
}
