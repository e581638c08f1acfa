package benchmark

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Ekleog/risuto/internal/event"
	"github.com/Ekleog/risuto/internal/project"
	"github.com/Ekleog/risuto/internal/server"
	"github.com/Ekleog/risuto/internal/store"
)

// writerState is one simulated submitter and the tasks it owns.
type writerState struct {
	user  store.User
	tasks []project.TaskMeta

	commits  []time.Duration
	searches []time.Duration
	errCount int
}

// Run seeds a database, then drives concurrent writers through the commit
// pipeline and the search path, collecting latency distributions.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.Writers <= 0 || cfg.Tasks <= 0 || cfg.EventsPerWriter <= 0 {
		return nil, fmt.Errorf("writers, tasks and events per writer must be positive")
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dir, err := os.MkdirTemp("", "risuto-bench-*")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "bench.db")
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	coord, err := server.NewCoordinator(ctx, st, log.New(io.Discard, "", 0))
	if err != nil {
		return nil, err
	}

	writers, err := seed(ctx, coord, cfg)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}

	memBefore, _ := memoryStats()
	started := time.Now()

	var wg sync.WaitGroup
	for _, w := range writers {
		wg.Add(1)
		go func(w *writerState) {
			defer wg.Done()
			drive(ctx, coord, cfg, w)
		}(w)
	}
	wg.Wait()

	total := time.Since(started)
	memAfter, memPeak := memoryStats()

	var commits, searches []time.Duration
	errCount := 0
	for _, w := range writers {
		commits = append(commits, w.commits...)
		searches = append(searches, w.searches...)
		errCount += w.errCount
	}
	ops := len(commits) + len(searches) + errCount

	result := &Result{
		Config: cfg,
		Commit: ComputeStats(commits),
		Search: ComputeStats(searches),
		Throughput: ThroughputMetrics{
			CommitsPerSecond:  float64(len(commits)) / total.Seconds(),
			SearchesPerSecond: float64(len(searches)) / total.Seconds(),
		},
		Resources: ResourceMetrics{
			MemoryBeforeBytes: memBefore,
			MemoryAfterBytes:  memAfter,
			MemoryPeakBytes:   memPeak,
		},
		TotalDuration: total,
		ErrorCount:    errCount,
		Success:       errCount == 0,
	}
	if ops > 0 {
		result.ErrorRate = float64(errCount) / float64(ops)
	}
	return result, nil
}

// seed creates one account per writer and distributes task ownership
// round-robin.
func seed(ctx context.Context, coord *server.Coordinator, cfg Config) ([]*writerState, error) {
	writers := make([]*writerState, cfg.Writers)
	for i := range writers {
		user, err := coord.CreateUser(ctx, fmt.Sprintf("writer-%d", i))
		if err != nil {
			return nil, err
		}
		writers[i] = &writerState{user: user}
	}
	for i := 0; i < cfg.Tasks; i++ {
		w := writers[i%len(writers)]
		meta, err := coord.CreateTask(ctx, w.user.ID, fmt.Sprintf("benchmark task %d", i))
		if err != nil {
			return nil, err
		}
		w.tasks = append(w.tasks, meta)
	}
	for _, w := range writers {
		if len(w.tasks) == 0 {
			return nil, fmt.Errorf("writer %s has no tasks; raise --tasks above --writers", w.user.Name)
		}
	}
	return writers, nil
}

// drive runs one writer's share of the load.
func drive(ctx context.Context, coord *server.Coordinator, cfg Config, w *writerState) {
	for i := 0; i < cfg.EventsPerWriter; i++ {
		task := w.tasks[i%len(w.tasks)]
		var payload event.Payload
		if i%2 == 0 {
			payload = event.SetDone{Done: true}
		} else {
			payload = event.SetTitle{Title: fmt.Sprintf("%s rev %d", task.Title, i)}
		}
		ev := event.New(w.user.ID, task.ID, payload)

		begin := time.Now()
		_, _, err := coord.Submit(ctx, ev)
		if err != nil {
			w.errCount++
			continue
		}
		w.commits = append(w.commits, time.Since(begin))
	}

	order := project.Order{Kind: project.OrderCreationDate}
	for i := 0; i < cfg.SearchesPerWriter; i++ {
		begin := time.Now()
		_, err := coord.Search(ctx, w.user.ID, cfg.Search, order, time.UTC)
		if err != nil {
			w.errCount++
			continue
		}
		w.searches = append(w.searches, time.Since(begin))
	}
}
