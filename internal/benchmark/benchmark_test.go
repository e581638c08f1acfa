package benchmark

import (
	"context"
	"testing"
	"time"
)

func TestComputeStats(t *testing.T) {
	durations := make([]time.Duration, 100)
	for i := range durations {
		durations[i] = time.Duration(i+1) * time.Millisecond
	}

	stats := ComputeStats(durations)
	if stats.Min != time.Millisecond {
		t.Errorf("Min = %v", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Errorf("Max = %v", stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v", stats.P50)
	}
	if stats.P95 != 96*time.Millisecond {
		t.Errorf("P95 = %v", stats.P95)
	}
	if stats.Count != 100 {
		t.Errorf("Count = %d", stats.Count)
	}

	if empty := ComputeStats(nil); empty.Count != 0 || empty.Max != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tc := range cases {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRunSmallLoad(t *testing.T) {
	cfg := Config{
		Writers:           2,
		Tasks:             4,
		EventsPerWriter:   6,
		SearchesPerWriter: 2,
		Search:            "done:true",
	}

	result, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success {
		t.Fatalf("run reported %d errors", result.ErrorCount)
	}
	if result.Commit.Count != cfg.Writers*cfg.EventsPerWriter {
		t.Errorf("commits = %d, want %d", result.Commit.Count, cfg.Writers*cfg.EventsPerWriter)
	}
	if result.Search.Count != cfg.Writers*cfg.SearchesPerWriter {
		t.Errorf("searches = %d, want %d", result.Search.Count, cfg.Writers*cfg.SearchesPerWriter)
	}
	if result.Throughput.CommitsPerSecond <= 0 {
		t.Error("commit throughput not recorded")
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	if _, err := Run(context.Background(), Config{}); err == nil {
		t.Error("Run accepted an empty config")
	}
}
