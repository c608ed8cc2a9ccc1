package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rerun [flags] <command>",
	Short: "Restart a command whenever watched files change",
	Long: `Watch a directory tree and restart a command whenever a file matching
one of the patterns is created, modified, deleted or moved.

A one-word command names a source file run with the interpreter
("rerun main" runs "python3 main.py"). Anything longer runs as given
("rerun 'poetry run start'").

While running, enter "rs" to restart or "stop" to terminate.`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runRoot,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var logged loggedError
		if !errors.As(err, &logged) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
