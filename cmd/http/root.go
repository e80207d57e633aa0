package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:   "roomdrop",
		Short: "Pair browsers by room key and relay files and text between them",
		Long: `roomdrop runs a WebSocket server that groups connections into rooms by a short
key and forwards files and text between members of the same room.

Running roomdrop without a subcommand starts the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}

	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, newStatsCmd())

	return root
}
