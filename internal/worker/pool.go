package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolAborted is returned when a run stops before all tasks completed.
var ErrPoolAborted = errors.New("extraction aborted")

// DefaultMaxTasksPerWorker bounds how many tasks a worker handles before it
// is replaced, which limits the effect of leaks in a single worker.
const DefaultMaxTasksPerWorker = 16

// Sink consumes results in the coordinating process. Calls are serialized.
type Sink func(task Task, res Result) error

// Stats counts the outcome of a pool run.
type Stats struct {
	Dispatched int
	Completed  int
	Missing    int
	Spawned    int
}

// Pool runs tasks on at most Workers runners at a time.
type Pool struct {
	Spawner           Spawner
	Workers           int
	MaxTasksPerWorker int
	Logger            *slog.Logger
}

func (p *Pool) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// slot is one worker position in the pool. Its runner is replaced after
// maxTasks tasks.
type slot struct {
	runner Runner
	tasks  int
}

func (s *slot) retire() error {
	if s.runner == nil {
		return nil
	}
	err := s.runner.Close()
	s.runner = nil
	s.tasks = 0
	return err
}

// Run dispatches all tasks and hands every result to sink. The first fatal
// failure stops dispatching, kills running workers and makes Run return an
// error wrapping ErrPoolAborted. A missing package archive is not fatal; it
// reaches the sink with Result.Missing set.
func (p *Pool) Run(ctx context.Context, job Job, tasks []Task, sink Sink) (Stats, error) {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	maxTasks := p.MaxTasksPerWorker
	if maxTasks < 1 {
		maxTasks = DefaultMaxTasksPerWorker
	}

	var (
		stats  Stats
		mu     sync.Mutex
		sinkMu sync.Mutex
	)

	slots := make(chan *slot, workers)
	for i := 0; i < workers; i++ {
		slots <- &slot{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			s := <-slots
			defer func() { slots <- s }()
			mu.Lock()
			stats.Dispatched++
			mu.Unlock()

			if s.runner == nil {
				r, err := p.Spawner.Spawn(gctx, job)
				if err != nil {
					return fmt.Errorf("spawn worker: %w", err)
				}
				s.runner = r
				mu.Lock()
				stats.Spawned++
				mu.Unlock()
			}

			res, err := s.runner.Run(gctx, task)
			if err != nil {
				s.runner = nil
				return fmt.Errorf("%s: %w", task.PackageID(), err)
			}
			s.tasks++
			if s.tasks >= maxTasks {
				if err := s.retire(); err != nil {
					p.logger().Warn("worker exited with error", "error", err)
				}
			}

			if res.Failed() {
				return fmt.Errorf("%s: %s", task.PackageID(), res.Err)
			}
			if res.Missing {
				mu.Lock()
				stats.Missing++
				mu.Unlock()
			}

			sinkMu.Lock()
			defer sinkMu.Unlock()
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if err := sink(task, res); err != nil {
				return fmt.Errorf("store result of %s: %w", task.PackageID(), err)
			}
			mu.Lock()
			stats.Completed++
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()

	close(slots)
	for s := range slots {
		if cerr := s.retire(); cerr != nil && err == nil {
			p.logger().Warn("worker exited with error", "error", cerr)
		}
	}

	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return stats, fmt.Errorf("%w: %w", ErrPoolAborted, err)
	}
	return stats, nil
}
