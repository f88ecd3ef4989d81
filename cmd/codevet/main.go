package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "codevet",
	Short: "Code quality analysis orchestrator",
	Long: `codevet runs configured analysis tools against a project, normalizes
their findings onto one severity and scoring scale, and reports a single
quality score with a per-dimension breakdown.

Plugins run concurrently under resource governance: memory and CPU limits
are enforced, repeated results are served from cache, and failing tools
degrade the run gracefully instead of killing it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default codevet.yaml in the working directory)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
