package utils

import (
	"context"
	"sync"
)

// Worker processes one item of a WorkerPool.
type Worker[T any, R any] func(ctx context.Context, item T) (R, error)

// WorkerPool runs a Worker over a slice of items with bounded concurrency.
//
// Workers are started by ProcessItems and exit once the items are drained or
// the context is cancelled. Items never picked up because of cancellation
// report ctx.Err(). Panics in a worker are recovered and reported as
// *PanicError for that item.
//
//	pool := NewWorkerPool(4, func(ctx context.Context, ep types.AddEpisodeRequest) (*types.AddEpisodeResult, error) {
//	    return client.AddEpisode(ctx, ep)
//	})
//	results, errs := pool.ProcessItems(ctx, requests)
type WorkerPool[T any, R any] struct {
	numWorkers int
	worker     Worker[T, R]
}

// NewWorkerPool creates a new worker pool. A non-positive size uses
// GetSemaphoreLimit.
func NewWorkerPool[T any, R any](numWorkers int, worker Worker[T, R]) *WorkerPool[T, R] {
	if numWorkers <= 0 {
		numWorkers = GetSemaphoreLimit()
	}
	return &WorkerPool[T, R]{
		numWorkers: numWorkers,
		worker:     worker,
	}
}

type indexedItem[T any] struct {
	item  T
	index int
}

// ProcessItems runs the worker over items. Results and errors are index
// aligned with items.
func (wp *WorkerPool[T, R]) ProcessItems(ctx context.Context, items []T) ([]R, []error) {
	if len(items) == 0 {
		return nil, nil
	}

	itemsChan := make(chan indexedItem[T], len(items))
	for i, item := range items {
		itemsChan <- indexedItem[T]{item: item, index: i}
	}
	close(itemsChan)

	results := make([]R, len(items))
	errs := make([]error, len(items))
	done := make([]bool, len(items))

	workers := wp.numWorkers
	if workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case it, ok := <-itemsChan:
					if !ok {
						return
					}
					func() {
						defer RecoverWithCallback(func(err error) {
							errs[it.index] = err
						})
						defer func() { done[it.index] = true }()
						results[it.index], errs[it.index] = wp.worker(ctx, it.item)
					}()
				}
			}
		}()
	}
	wg.Wait()

	for i := range items {
		if !done[i] {
			errs[i] = ctx.Err()
		}
	}
	return results, errs
}

// Batch splits items into consecutive slices of at most batchSize.
func Batch[T any](items []T, batchSize int) [][]T {
	if batchSize <= 0 {
		batchSize = 10
	}

	var batches [][]T
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}
