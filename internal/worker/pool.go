package worker

import (
	"context"
	"sync"
)

// Job represents a unit of work to be executed
type Job interface {
	Execute(ctx context.Context) Result
}

// Result represents the result of a job execution
type Result interface {
	GetError() error
}

// Pool runs a batch of jobs on a fixed number of workers
type Pool struct {
	workers int
	onDone  func(index int, r Result)
	mu      sync.Mutex // serializes onDone
}

// NewPool creates a pool. workers <= 0 means one worker.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{workers: workers}
}

// Workers returns the worker count
func (p *Pool) Workers() int { return p.workers }

// OnDone registers fn to be called as each job finishes. Calls never overlap.
func (p *Pool) OnDone(fn func(index int, r Result)) *Pool {
	p.onDone = fn
	return p
}

// Run executes jobs and returns their results in job order. Jobs not started
// before ctx is cancelled leave a nil result in their slot.
func (p *Pool) Run(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	workers := p.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				r := jobs[i].Execute(ctx)
				results[i] = r
				p.done(i, r)
			}
		}()
	}

feed:
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case next <- i:
		}
	}
	close(next)
	wg.Wait()
	return results
}

func (p *Pool) done(i int, r Result) {
	if p.onDone == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDone(i, r)
}

// Failed returns the non-nil results that carry an error
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r != nil && r.GetError() != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
