package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codevet/codevet/internal/config"
	"github.com/codevet/codevet/internal/events"
	"github.com/codevet/codevet/internal/governor"
	"github.com/codevet/codevet/internal/orchestrator"
	"github.com/codevet/codevet/internal/plugin"
	"github.com/codevet/codevet/internal/types"
)

var (
	analyzeVerbose bool
	analyzeJSON    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the configured analysis plugins against the project",
	Long: `Run every plugin enabled in the project configuration, consolidate
their findings, and print the quality score.

Each plugin adapter wraps an external command that reports issues as JSON
on stdout. The command defaults to the plugin name and can be overridden
with the plugin's "command" option.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cfg.Project.Root == "" {
			cwd, _ := os.Getwd()
			cfg.Project.Root = cwd
		}
		if cfg.Project.Name == "" {
			cfg.Project.Name = cfg.Project.Root
		}

		o := orchestrator.New(cfg.Orchestrator(), governor.NewRuntimeSampler())
		o.Start()
		defer o.Stop()

		for _, pc := range cfg.Project.Plugins {
			command := pc.Name
			if c, ok := pc.Options["command"]; ok && c != "" {
				command = c
			}
			if err := o.Registry().Register(plugin.NewExecPlugin(pc.Name, command)); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		if analyzeVerbose {
			sub := o.Bus().Subscribe()
			defer o.Bus().Unsubscribe(sub)
			go printEvents(sub)
		}

		result, err := o.Analyze(context.Background(), &cfg.Project)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if analyzeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		printResult(result)
		if result.Aborted {
			os.Exit(1)
		}
	},
}

func init() {
	analyzeCmd.Flags().BoolVarP(&analyzeVerbose, "verbose", "v", false,
		"stream progress events while the run executes")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false,
		"print the full result as JSON")
	rootCmd.AddCommand(analyzeCmd)
}

// printEvents streams run progress to stderr so stdout stays parseable.
func printEvents(sub *events.Subscription) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for ev := range sub.C {
		line := fmt.Sprintf("[%s] %s", ev.Type, ev.Message)
		if ev.Plugin != "" {
			line = fmt.Sprintf("[%s] %s: %s", ev.Type, ev.Plugin, ev.Message)
		}
		switch ev.Severity {
		case events.SeverityWarning:
			fmt.Fprintln(os.Stderr, yellow(line))
		case events.SeverityError, events.SeverityCritical:
			fmt.Fprintln(os.Stderr, red(line))
		default:
			fmt.Fprintln(os.Stderr, gray(line))
		}
	}
}

func printResult(result *types.AnalysisResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== codevet analysis ==="))
	fmt.Printf("Project:  %s\n", result.ProjectID)
	fmt.Printf("Run:      %s\n", result.ID)
	fmt.Printf("Duration: %s\n", result.Duration.Round(time.Millisecond))
	fmt.Println()

	fmt.Printf("%s\n", yellow("Plugins:"))
	for _, out := range result.Outcomes {
		switch out.Status {
		case types.OutcomeSucceeded:
			detail := ""
			if r, ok := result.Results[out.Plugin]; ok {
				detail = fmt.Sprintf("%d issues", r.Summary.Total)
			}
			if out.Reason != "" {
				detail = out.Reason
			}
			fmt.Printf("  %s %-20s %s\n", green("●"), out.Plugin, gray(detail))
		case types.OutcomeSkipped:
			fmt.Printf("  %s %-20s %s\n", gray("○"), out.Plugin, gray("skipped: "+out.Reason))
		default:
			fmt.Printf("  %s %-20s %s\n", red("✗"), out.Plugin, red(out.Reason))
		}
	}
	fmt.Println()

	fmt.Printf("%s\n", yellow("Breakdown:"))
	dims := make([]string, 0, len(result.Breakdown))
	for dim := range result.Breakdown {
		dims = append(dims, dim)
	}
	sort.Strings(dims)
	for _, dim := range dims {
		fmt.Printf("  %-16s %s\n", dim, scoreColor(result.Breakdown[dim]))
	}
	fmt.Println()

	if result.Aborted {
		fmt.Printf("%s\n", red("Run aborted by degradation: result is partial"))
	}
	fmt.Printf("Overall score: %s\n\n", scoreColor(result.OverallScore))
}

// scoreColor renders a 0-100 score green/yellow/red.
func scoreColor(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	switch {
	case v >= 80:
		return color.New(color.FgGreen, color.Bold).Sprint(s)
	case v >= 50:
		return color.New(color.FgYellow, color.Bold).Sprint(s)
	default:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	}
}
