package main

import (
	"github.com/spf13/cobra"
)

var configPath string

// NewRootCommand builds gale-broker's cobra command tree, following the
// teacher's cobra_cli.go root-command shape (persistent config flag,
// subcommands registered via AddCommand).
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gale-broker",
		Short: "Agentic flow broker: publishes tasks, tracks flows, resumes parents",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to gale-broker config file (default: gale-broker.yaml in . or $HOME)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())

	return root
}
