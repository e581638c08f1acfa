// Package benchmark measures the sync coordinator under concurrent load:
// many writers submitting events through the full commit pipeline while
// running searches against the live projection.
package benchmark

import (
	"fmt"
	"runtime"
	"sort"
	"time"
)

// Config defines the parameters for a benchmark run.
type Config struct {
	// Writers is the number of concurrent submitters to simulate.
	Writers int `json:"writers"`

	// Tasks is the number of tasks seeded into the database.
	Tasks int `json:"tasks"`

	// EventsPerWriter is how many events each writer submits.
	EventsPerWriter int `json:"events_per_writer"`

	// SearchesPerWriter is how many searches each writer runs.
	SearchesPerWriter int `json:"searches_per_writer"`

	// Search is the query each searcher evaluates.
	Search string `json:"search"`

	// DBPath is where the benchmark database lives. Empty means a
	// temporary directory.
	DBPath string `json:"db_path,omitempty"`
}

// DefaultConfig returns a benchmark configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Writers:           50,
		Tasks:             500,
		EventsPerWriter:   20,
		SearchesPerWriter: 10,
		Search:            "-done:true",
	}
}

// Result captures all metrics from a benchmark run.
type Result struct {
	Config Config `json:"config"`

	// Commit is the latency distribution of Submit calls.
	Commit LatencyMetrics `json:"commit"`

	// Search is the latency distribution of search evaluations.
	Search LatencyMetrics `json:"search"`

	Throughput ThroughputMetrics `json:"throughput"`
	Resources  ResourceMetrics   `json:"resources"`

	TotalDuration time.Duration `json:"total_duration"`
	ErrorCount    int           `json:"error_count"`
	ErrorRate     float64       `json:"error_rate"`
	Success       bool          `json:"success"`
}

// LatencyMetrics captures latency statistics for one operation kind.
type LatencyMetrics struct {
	Min  time.Duration `json:"min"`
	P50  time.Duration `json:"p50"`
	Mean time.Duration `json:"mean"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
	Max  time.Duration `json:"max"`

	Count int `json:"count"`
}

// ThroughputMetrics captures operations-per-second metrics.
type ThroughputMetrics struct {
	CommitsPerSecond  float64 `json:"commits_per_second"`
	SearchesPerSecond float64 `json:"searches_per_second"`
}

// ResourceMetrics captures memory usage around the run.
type ResourceMetrics struct {
	MemoryBeforeBytes uint64 `json:"memory_before_bytes"`
	MemoryAfterBytes  uint64 `json:"memory_after_bytes"`
	MemoryPeakBytes   uint64 `json:"memory_peak_bytes"`
}

// ComputeStats calculates statistics from raw durations.
func ComputeStats(durations []time.Duration) LatencyMetrics {
	if len(durations) == 0 {
		return LatencyMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean := sum / time.Duration(len(sorted))

	return LatencyMetrics{
		Min:   sorted[0],
		P50:   sorted[len(sorted)*50/100],
		Mean:  mean,
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Max:   sorted[len(sorted)-1],
		Count: len(sorted),
	}
}

func memoryStats() (alloc, sys uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc, m.Sys
}

// FormatBytes formats bytes into a human-readable string.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats a duration into a human-readable string.
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// PrintResult outputs a formatted benchmark result.
func PrintResult(result Result) {
	fmt.Printf("\n=== Benchmark Results ===\n\n")

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Concurrent Writers:  %d\n", result.Config.Writers)
	fmt.Printf("  Seeded Tasks:        %d\n", result.Config.Tasks)
	fmt.Printf("  Events per Writer:   %d\n", result.Config.EventsPerWriter)
	fmt.Printf("  Searches per Writer: %d\n", result.Config.SearchesPerWriter)
	fmt.Printf("  Search Query:        %q\n", result.Config.Search)
	fmt.Printf("\n")

	for _, section := range []struct {
		name string
		m    LatencyMetrics
	}{{"Commit Latency", result.Commit}, {"Search Latency", result.Search}} {
		fmt.Printf("%s (%d ops):\n", section.name, section.m.Count)
		fmt.Printf("  Min:       %s\n", FormatDuration(section.m.Min))
		fmt.Printf("  P50:       %s\n", FormatDuration(section.m.P50))
		fmt.Printf("  Mean:      %s\n", FormatDuration(section.m.Mean))
		fmt.Printf("  P95:       %s\n", FormatDuration(section.m.P95))
		fmt.Printf("  P99:       %s\n", FormatDuration(section.m.P99))
		fmt.Printf("  Max:       %s\n", FormatDuration(section.m.Max))
		fmt.Printf("\n")
	}

	fmt.Printf("Throughput:\n")
	fmt.Printf("  Commits/sec:       %.2f\n", result.Throughput.CommitsPerSecond)
	fmt.Printf("  Searches/sec:      %.2f\n", result.Throughput.SearchesPerSecond)
	fmt.Printf("\n")

	fmt.Printf("Resources:\n")
	fmt.Printf("  Memory Before:     %s\n", FormatBytes(result.Resources.MemoryBeforeBytes))
	fmt.Printf("  Memory After:      %s\n", FormatBytes(result.Resources.MemoryAfterBytes))
	fmt.Printf("  Memory Peak:       %s\n", FormatBytes(result.Resources.MemoryPeakBytes))
	fmt.Printf("\n")

	fmt.Printf("Overall:\n")
	fmt.Printf("  Total Duration:    %s\n", FormatDuration(result.TotalDuration))
	fmt.Printf("  Errors:            %d (%.2f%%)\n", result.ErrorCount, result.ErrorRate*100)
	fmt.Printf("  Success:           %v\n", result.Success)
	fmt.Printf("\n")
}
