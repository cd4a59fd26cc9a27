// Package cmd implements the osb command-line front end: argument parsing
// around the pkg/sandbox façade. Commands run without a PTY and the host
// terminal is never switched to raw mode. Per the
// engine's scope, the CLI itself is a thin external collaborator — it never
// touches bwrap/slirp4netns/fuse-overlayfs directly, only through
// pkg/sandbox.
//
// Structure follows cmd/cli/cmd/root.go: a persistent-flag-bearing root
// command with subcommands registered via init().
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "osb",
	Short: "pybubble - build and run lightweight Linux sandboxes",
	Long: `osb builds and manages lightweight Linux sandboxes for untrusted shell
commands, composing bubblewrap, slirp4netns, and fuse-overlayfs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and prints "Error: <message>" to stderr on
// failure, per the error-handling design's user-visible-failures rule.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if ec, ok := err.(exitCodeError); ok {
			if ec.message != "" {
				fmt.Fprintln(os.Stderr, "Error:", ec.message)
			}
			return ec.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// exitCodeError lets a RunE return a specific process exit code (a child's
// exit code, or 124 for timeouts) instead of the generic argument-error
// code 1.
type exitCodeError struct {
	code    int
	message string
}

func (e exitCodeError) Error() string { return e.message }
