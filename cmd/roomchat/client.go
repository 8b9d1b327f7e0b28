package main

import (
	"github.com/spf13/cobra"

	"github.com/roomchat-dev/roomchat/internal/tui"
)

func clientCmd() *cobra.Command {
	var (
		addr     string
		username string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run the terminal chat client",
		RunE: func(cmd *cobra.Command, args []string) error {
			ui, err := tui.New(addr, username)
			if err != nil {
				return err
			}
			return ui.Run()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9070", "server address")
	cmd.Flags().StringVar(&username, "username", "", "display name to authenticate with")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
