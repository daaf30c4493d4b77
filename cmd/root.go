// Package cmd implements memsearchd's command-line surface: a thin
// cobra wrapper around the daemon's serve loop, in the teacher's style
// (cmd/root.go + one long-running subcommand per cmd/mcp.go).
package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	debug      bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:     "memsearchd",
	Short:   "memsearchd - resident in-memory code search daemon",
	Version: "v0.1.0",
	Long:    "memsearchd memory-maps a repository's text files once and serves repeated regex searches over a local IPC channel, keeping the corpus in sync with a filesystem watcher.",
}

// Execute runs the root command, matching the teacher's stderr-and-exit
// error handling.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "memsearchd: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a memsearchd YAML config file")
}

func configureLogging() {
	if debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
}
