// Package cli implements the command-line interface for the ledger cache.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xrpldata/ledgercache/internal/core"
)

// Global flags
var (
	verbose     bool
	quiet       bool
	backendName string
	cacheDir    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "ledgercache",
	Short:   "XRPL ledger-index time cache builder",
	Long:    `Builds and maintains a tiered cache that maps instants in time to XRPL ledger indexes, stored on Cloudflare R2 or the local filesystem.`,
	Version: core.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "Storage backend (r2 or filesystem; default from config)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "root", "", "Root directory for the filesystem backend")
}
