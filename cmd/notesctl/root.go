package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kuitang/note-organizer/internal/apiclient"
	"github.com/kuitang/note-organizer/internal/notesync"
	"github.com/kuitang/note-organizer/internal/obs"
)

const defaultServer = "http://localhost:4000"

type globalOptions struct {
	server  string
	output  string
	verbose bool
}

func (g *globalOptions) client() *apiclient.Client {
	return apiclient.New(g.server)
}

// syncer returns a Syncer over the configured server. Callers must Close it.
func (g *globalOptions) syncer() *notesync.Syncer {
	return notesync.New(g.client(), notesync.Options{})
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "notesctl",
		Short: "Manage notes on a notes server",
		Long: `notesctl lists, creates, edits, pins and deletes notes through the
notes REST API. Deleted notes are hidden, not destroyed.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			return obs.Configure(obs.Options{Level: level, Pretty: true, Output: cmd.ErrOrStderr()})
		},
	}

	server := os.Getenv("NOTES_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "Notes server base URL (env NOTES_SERVER)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", formatTable, "Output format: table, json or yaml")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newListCmd(opts),
		newShowCmd(opts),
		newNewCmd(opts),
		newEditCmd(opts),
		newPinCmd(opts),
		newRmCmd(opts),
	)
	return root
}
