// Package cmd holds the command line interface of the list server.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stevemurr/list-sync-server/config"
)

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd, passwdCmd, printConfigCmd, lambdaCmd)
}

var rootCmd = &cobra.Command{
	Use:   "lists",
	Short: "List Sync Server - versioned JSON lists over HTTP",
	Long: `lists stores JSON shopping lists and serves them over HTTP.

Every list carries a "version" that counts accepted updates. An update must
declare the stored version plus one, otherwise it is rejected with 409 and the
current list so the client can merge and retry.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runServe,
}

// Execute runs the command selected by the process arguments.
func Execute() error {
	return rootCmd.Execute()
}
