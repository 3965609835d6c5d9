// Command kodelensd is the kodelens core daemon: it watches a local AI
// coding assistant's session log tree and serves the derived conversation
// state over HTTP and WebSocket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := newCmdRoot()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newCmdRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "kodelensd",
		Short:        "Local observability core for an AI coding assistant",
		SilenceUsage: true,
		Version:      version,
	}
	cmd.SetVersionTemplate(fmt.Sprintf("kodelensd %s (commit: %s)\n", version, commit))
	cmd.AddCommand(newCmdServe())
	return cmd
}
