package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Task is one branch of a parallel group.
type Task func(ctx context.Context) (any, error)

// Parallel runs tasks with one goroutine per task and a join-all barrier.
// Siblings are never cancelled when one fails.
type Parallel struct {
	spawned atomic.Int64
}

// NewParallel creates a Parallel runner.
func NewParallel() *Parallel {
	return &Parallel{}
}

// Run starts every task and waits for all of them. Results are in task
// order. The first error in completion order is returned once every task
// has finished. A panicking task counts as failed.
func (p *Parallel) Run(ctx context.Context, tasks []Task) ([]any, error) {
	results := make([]any, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() { firstErr = err })
	}

	for i, task := range tasks {
		wg.Add(1)
		p.spawned.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					fail(fmt.Errorf("parallel branch %d panicked: %v", i, r))
				}
			}()
			res, err := task(ctx)
			if err != nil {
				fail(err)
				return
			}
			results[i] = res
		}(i, task)
	}
	wg.Wait()

	return results, firstErr
}

// Spawned is the number of goroutines started so far.
func (p *Parallel) Spawned() int {
	return int(p.spawned.Load())
}
