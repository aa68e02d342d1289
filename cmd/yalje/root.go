package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/johnwbyrd/yalje/pkg/logger"
)

var (
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "yalje",
	Short: "Archive a LiveJournal account into one portable file",
	Long: `yalje exports a LiveJournal account (posts, threaded comments and inbox
messages) into a single YAML, JSON or XML archive.

Features:
  - Secure credential storage using the system keychain
  - Posts, comment threads and inbox fetched concurrently
  - Rate limiting and bounded retries on every request
  - Checkpointed progress: interrupted exports resume where they stopped
  - Deterministic output ordering so archives diff cleanly`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Initialize(&logger.Config{Level: logLevel, File: logFile})
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .yalje.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a file instead of stderr")

	rootCmd.SetVersionTemplate(`yalje {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
