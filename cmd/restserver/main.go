package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "1.0"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "restserver",
		Short: "A small REST server with a URI trie router",
		Long: `restserver answers HTTP/1.1 requests by walking a trie of route
templates. A "$" segment in a template matches any single path segment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := serveCmd()
	rootCmd.AddCommand(serve, versionCmd())

	// a bare invocation serves, so the flags work without a subcommand
	rootCmd.Flags().AddFlagSet(serve.Flags())
	rootCmd.RunE = serve.RunE

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Printf("Rest Server v%s\n\n", version)
}
