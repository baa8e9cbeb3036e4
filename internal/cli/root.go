// Package cli implements the taptik command line: serve and migrate.
package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command for the taptik CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "taptik",
		Short: "taptik real-time chat server",
		Long:  "Presence, encrypted direct messages, notifications and call signaling over WebSocket.",
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML or JSON config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log_level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}
