package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codevet/codevet/internal/config"
	"github.com/codevet/codevet/internal/normalize"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List configured plugins and built-in normalization rules",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== codevet plugins ==="))

		fmt.Printf("%s\n", yellow("Configured:"))
		if len(cfg.Project.Plugins) == 0 {
			fmt.Printf("  %s\n", gray("No plugins enabled"))
		}
		for _, pc := range cfg.Project.Plugins {
			marks := make([]string, 0, 2)
			if pc.Essential {
				marks = append(marks, green("essential"))
			}
			if pc.Timeout > 0 {
				marks = append(marks, gray("timeout "+pc.Timeout.Round(time.Second).String()))
			}
			suffix := ""
			if len(marks) > 0 {
				suffix = "  " + strings.Join(marks, ", ")
			}
			fmt.Printf("  %-20s priority %d%s\n", pc.Name, pc.Priority, suffix)
		}
		fmt.Println()

		fmt.Printf("%s\n", yellow("Normalization rules:"))
		for _, tool := range normalize.NewNormalizer().Rules() {
			fmt.Printf("  %s\n", tool)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}
