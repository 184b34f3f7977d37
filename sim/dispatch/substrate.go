package dispatch

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Substrate is the execution model behind the dispatcher. The dispatcher
// logic is identical for every substrate; only where jobs run changes.
type Substrate interface {
	// Workers returns the maximum number of jobs running at once.
	Workers() int
	// Run calls job(worker, i) for every i in [0, n), starting jobs in index
	// order, and returns once all of them have returned. worker is in
	// [0, Workers()) and identifies the slot the job ran on.
	Run(n int, job func(worker, index int))
}

// Sequential runs every job on the calling goroutine.
type Sequential struct{}

func (Sequential) Workers() int { return 1 }

func (Sequential) Run(n int, job func(worker, index int)) {
	for i := 0; i < n; i++ {
		job(0, i)
	}
}

// Pool runs jobs on a bounded set of goroutines.
type Pool struct {
	workers int
}

// NewPool returns a pool of the given size.
func NewPool(workers int) (*Pool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker pool size must be >= 1, got %d", workers)
	}
	return &Pool{workers: workers}, nil
}

func (p *Pool) Workers() int { return p.workers }

func (p *Pool) Run(n int, job func(worker, index int)) {
	slots := make(chan int, p.workers)
	for w := 0; w < p.workers; w++ {
		slots <- w
	}
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := 0; i < n; i++ {
		// Go blocks while the pool is full, so jobs start in index order.
		g.Go(func() error {
			w := <-slots
			defer func() { slots <- w }()
			job(w, i)
			return nil
		})
	}
	_ = g.Wait()
}
