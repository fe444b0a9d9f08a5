// Package pool provides a bounded goroutine pool used to run one scheduling
// layer at a time.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// Config configures the pool.
type Config struct {
	MaxWorkers   int       `json:"max_workers" yaml:"max_workers"`
	PanicHandler func(any) `json:"-" yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxWorkers: 4}
}

// Pool bounds the number of tasks running at the same time.
type Pool struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
	logger *zap.Logger

	panicHandler func(any)

	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panicked  atomic.Int64
}

// New creates a pool. MaxWorkers below 1 is treated as 1.
func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		slots:        make(chan struct{}, cfg.MaxWorkers),
		logger:       logger.With(zap.String("component", "pool")),
		panicHandler: cfg.PanicHandler,
	}
}

// Submit waits for a free slot and starts the task in its own goroutine.
// The result is delivered to done (which may be nil).
func (p *Pool) Submit(ctx context.Context, task Task, done func(error)) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.submitted.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()

		p.active.Add(1)
		err := p.execute(ctx, task)
		p.active.Add(-1)

		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		if done != nil {
			done(err)
		}
	}()
	return nil
}

// RunAll runs every task and returns their errors in task order. It returns
// once all started tasks have finished. Tasks that could not be started
// because ctx ended report ctx.Err().
func (p *Pool) RunAll(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		i := i
		wg.Add(1)
		if err := p.Submit(ctx, task, func(err error) {
			errs[i] = err
			wg.Done()
		}); err != nil {
			errs[i] = err
			wg.Done()
		}
	}

	wg.Wait()
	return errs
}

func (p *Pool) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return task(ctx)
}

// Close rejects new tasks and waits for running ones.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:  cap(p.slots),
		Active:    int(p.active.Load()),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Capacity  int   `json:"capacity"`
	Active    int   `json:"active"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panicked  int64 `json:"panicked"`
}
