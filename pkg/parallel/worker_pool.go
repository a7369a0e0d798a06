// Package parallel runs bounded groups of tasks.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// PoolConfig configures the worker pool behavior.
type PoolConfig struct {
	// MaxWorkers is the maximum number of concurrent workers.
	// Default: min(runtime.NumCPU(), 8)
	MaxWorkers int

	// Timeout bounds the whole run. Zero means no timeout.
	Timeout time.Duration
}

// DefaultPoolConfig returns a default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxWorkers: min(max(runtime.NumCPU(), 2), 8)}
}

// WithWorkers returns a new config with the specified number of workers.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	c.MaxWorkers = n
	return c
}

// WithTimeout returns a new config with the specified timeout.
func (c PoolConfig) WithTimeout(d time.Duration) PoolConfig {
	c.Timeout = d
	return c
}

func (c PoolConfig) workers() int {
	if c.MaxWorkers > 0 {
		return c.MaxWorkers
	}
	return DefaultPoolConfig().MaxWorkers
}

// PoolMetrics holds execution statistics.
type PoolMetrics struct {
	TotalTasks    int
	FailedTasks   int
	TotalDuration time.Duration
	MaxTaskTime   time.Duration
}

// WorkerPool runs a function over inputs with bounded concurrency.
type WorkerPool[T any, R any] struct {
	config PoolConfig

	mu      sync.Mutex
	metrics PoolMetrics
}

// NewWorkerPool creates a new worker pool with the given configuration.
func NewWorkerPool[T any, R any](config PoolConfig) *WorkerPool[T, R] {
	return &WorkerPool[T, R]{config: config}
}

// Map calls fn for every input and returns the results in input order.
// The first error cancels the context handed to the remaining calls and is
// returned once every started call has finished.
func (p *WorkerPool[T, R]) Map(ctx context.Context, inputs []T, fn func(ctx context.Context, input T) (R, error)) ([]R, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	results := make([]R, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.workers())
	for i, input := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			taskStart := time.Now()
			r, err := fn(gctx, input)
			p.record(time.Since(taskStart), err)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	err := g.Wait()

	p.mu.Lock()
	p.metrics.TotalDuration = time.Since(start)
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return results, nil
}

func (p *WorkerPool[T, R]) record(d time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.TotalTasks++
	if err != nil {
		p.metrics.FailedTasks++
	}
	p.metrics.MaxTaskTime = max(p.metrics.MaxTaskTime, d)
}

// Metrics returns the statistics of the runs so far.
func (p *WorkerPool[T, R]) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// ForEach executes fn for each item with bounded concurrency and returns the
// first error.
func ForEach[T any](ctx context.Context, items []T, config PoolConfig, fn func(ctx context.Context, item T) error) error {
	pool := NewWorkerPool[T, struct{}](config)
	_, err := pool.Map(ctx, items, func(ctx context.Context, item T) (struct{}, error) {
		return struct{}{}, fn(ctx, item)
	})
	return err
}
