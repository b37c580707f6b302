package main

import (
	"fmt"
	"os"

	"github.com/banux/zlibrary/internal/apperr"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(apperr.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "zlibrary",
	Short: "Search, download, and catalog books from a Z-Library-style source",
	Long: `zlibrary rotates across a set of upstream credentials to search and
download books, recording everything it touches in a local catalog so
repeat searches, reading lists, and exports never need the upstream
service again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to zlibrary.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().String("credentials", "", "path to the credentials TOML file (default: config's credentials_file)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (default: config's log_level)")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(downloadAllCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(unsaveCmd)
	rootCmd.AddCommand(listCreateCmd)
	rootCmd.AddCommand(listAddCmd)
	rootCmd.AddCommand(listRemoveCmd)
	rootCmd.AddCommand(listShowCmd)
	rootCmd.AddCommand(downloadsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(vacuumCmd)
}
