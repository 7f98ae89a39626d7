// Package builder constructs and incrementally updates the spatial
// index by fanning object listings out to the metadata extractor and
// merging results on a single consumer.
package builder

import (
	"context"
	"sync"

	"github.com/MeKo-Tech/elevationmap/internal/extract"
	"github.com/MeKo-Tech/elevationmap/internal/storage"
)

// task is one object to extract.
type task struct {
	obj storage.ObjectInfo
}

// result is the outcome of one extraction.
type result struct {
	obj storage.ObjectInfo
	res extract.Result
	err error
}

// pool runs extraction workers against a bounded queue. Workers are
// pure functions of the object reference; all index mutation happens
// on the consumer side of the results channel.
type pool struct {
	workers   int
	extractor *extract.Extractor

	tasks   chan task
	results chan result
	wg      sync.WaitGroup
}

// newPool sizes the queue at four tasks per worker, which is what
// bounds the number of in-flight header fetches.
func newPool(workers int, ex *extract.Extractor) *pool {
	return &pool{
		workers:   workers,
		extractor: ex,
		tasks:     make(chan task, workers*4),
		results:   make(chan result, workers*4),
	}
}

// start launches the workers. The results channel closes once every
// worker has drained the task queue.
func (p *pool) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				select {
				case <-ctx.Done():
					p.results <- result{obj: t.obj, err: ctx.Err()}
					continue
				default:
				}
				res, err := p.extractor.Extract(ctx, t.obj)
				p.results <- result{obj: t.obj, res: res, err: err}
			}
		}()
	}
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// submit blocks when the queue is full; that back-pressure is what
// keeps enumeration from outrunning extraction.
func (p *pool) submit(ctx context.Context, obj storage.ObjectInfo) error {
	select {
	case p.tasks <- task{obj: obj}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish closes the task queue; in-flight workers complete their
// current object.
func (p *pool) finish() {
	close(p.tasks)
}
