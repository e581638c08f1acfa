package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ekleog/risuto/internal/benchmark"
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Run a concurrent load benchmark against the commit pipeline",
	Long: `Run a load benchmark: concurrent writers submit events through the full
commit pipeline (validation, permissions, cycle check, append, fold) while
also running searches against the live projection.

The benchmark uses a throwaway database and reports latency distributions
and throughput for commits and searches.

Examples:
  # Default load (50 writers, 500 tasks)
  risuto benchmark

  # Heavier load
  risuto benchmark --writers 200 --tasks 2000

  # Output results as JSON
  risuto benchmark --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := benchmark.DefaultConfig()
		cfg.Writers, _ = cmd.Flags().GetInt("writers")
		cfg.Tasks, _ = cmd.Flags().GetInt("tasks")
		cfg.EventsPerWriter, _ = cmd.Flags().GetInt("events")
		cfg.SearchesPerWriter, _ = cmd.Flags().GetInt("searches")
		cfg.Search, _ = cmd.Flags().GetString("query")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if cfg.Writers <= 0 || cfg.Tasks <= 0 || cfg.EventsPerWriter <= 0 {
			return fmt.Errorf("--writers, --tasks and --events must be positive")
		}
		if cfg.Tasks < cfg.Writers {
			return fmt.Errorf("--tasks must be at least --writers")
		}

		fmt.Printf("Running benchmark: %d writers, %d tasks, %d events/writer, %d searches/writer\n",
			cfg.Writers, cfg.Tasks, cfg.EventsPerWriter, cfg.SearchesPerWriter)

		result, err := benchmark.Run(context.Background(), cfg)
		if err != nil {
			return err
		}

		if jsonOutput {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return fmt.Errorf("encode results: %w", err)
			}
		} else {
			benchmark.PrintResult(*result)
		}

		if result.ErrorCount > 0 {
			return fmt.Errorf("%d operations failed", result.ErrorCount)
		}
		return nil
	},
}

func init() {
	benchmarkCmd.Flags().Int("writers", 50, "Number of concurrent writers to simulate")
	benchmarkCmd.Flags().Int("tasks", 500, "Number of tasks seeded into the database")
	benchmarkCmd.Flags().Int("events", 20, "Events submitted per writer")
	benchmarkCmd.Flags().Int("searches", 10, "Searches run per writer")
	benchmarkCmd.Flags().String("query", "-done:true", "Search query each searcher evaluates")
	benchmarkCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchmarkCmd)
}
