package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	devMode    bool
}

var rootCmd = &cobra.Command{
	Use:   "casereview",
	Short: "LLM-assisted review of closed support cases",
	Long:  "casereview analyzes support cases with an LLM, validates their tags and\nreferences, and aggregates the results into a cross-case summary.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Path to config file (default: ./config.yaml)")
	pf.BoolVar(&rootFlags.devMode, "dev", false, "Development mode: stack traces and full error chains")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(bucketiseCmd)
	rootCmd.AddCommand(relevanceCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(casesCmd)
	rootCmd.AddCommand(vocabCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if rootFlags.devMode {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
