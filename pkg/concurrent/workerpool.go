// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerPool represents a pool of workers that can process jobs concurrently
type WorkerPool struct {
	workerCount int
}

// RunEach executes all functions without cancellation on error.
// The returned slice is aligned with functions: errs[i] is the result of functions[i].
// A function that had not started when ctx was cancelled reports ctx.Err().
func (wp *WorkerPool) RunEach(ctx context.Context, functions ...func() error) []error {
	if len(functions) == 0 {
		return nil
	}

	// Each goroutine writes only its own slot
	errs := make([]error, len(functions))

	g := new(errgroup.Group)
	g.SetLimit(wp.workerCount)

	for i, fn := range functions {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return nil
			default:
			}

			errs[i] = fn()
			// Never return the error so errgroup keeps the remaining work running
			return nil
		})
	}

	_ = g.Wait()
	return errs
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WorkerPool{
		workerCount: workerCount,
	}
}
