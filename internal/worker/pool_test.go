package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockResult implements Result
type mockResult struct {
	id  int
	err error
}

func (r *mockResult) GetError() error {
	return r.err
}

// mockJob implements Job
type mockJob struct {
	id        int
	duration  time.Duration
	shouldErr bool
	executed  *int32 // atomic counter
	running   *int32 // atomic, jobs in flight
	peak      *int32 // atomic, max jobs in flight
}

func (j *mockJob) Execute(ctx context.Context) Result {
	if j.executed != nil {
		atomic.AddInt32(j.executed, 1)
	}
	if j.running != nil {
		n := atomic.AddInt32(j.running, 1)
		defer atomic.AddInt32(j.running, -1)
		for {
			old := atomic.LoadInt32(j.peak)
			if n <= old || atomic.CompareAndSwapInt32(j.peak, old, n) {
				break
			}
		}
	}
	if j.duration > 0 {
		select {
		case <-time.After(j.duration):
		case <-ctx.Done():
			return &mockResult{id: j.id, err: ctx.Err()}
		}
	}
	if j.shouldErr {
		return &mockResult{id: j.id, err: errors.New("job error")}
	}
	return &mockResult{id: j.id}
}

func TestNewPool(t *testing.T) {
	if got := NewPool(4).Workers(); got != 4 {
		t.Errorf("expected 4 workers, got %d", got)
	}
	if got := NewPool(0).Workers(); got != 1 {
		t.Errorf("expected 1 worker for 0, got %d", got)
	}
	if got := NewPool(-3).Workers(); got != 1 {
		t.Errorf("expected 1 worker for negative input, got %d", got)
	}
}

func TestPool_RunKeepsOrder(t *testing.T) {
	var executed int32
	jobs := make([]Job, 20)
	for i := range jobs {
		// Later jobs finish first
		jobs[i] = &mockJob{id: i, duration: time.Duration(20-i) * time.Millisecond, executed: &executed}
	}

	results := NewPool(5).Run(context.Background(), jobs)
	if len(results) != len(jobs) {
		t.Fatalf("expected %d results, got %d", len(jobs), len(results))
	}
	for i, r := range results {
		if r == nil {
			t.Fatalf("result %d missing", i)
		}
		if got := r.(*mockResult).id; got != i {
			t.Errorf("slot %d holds result of job %d", i, got)
		}
	}
	if executed != int32(len(jobs)) {
		t.Errorf("expected %d executions, got %d", len(jobs), executed)
	}
}

func TestPool_ManyJobs(t *testing.T) {
	jobs := make([]Job, 500)
	for i := range jobs {
		jobs[i] = &mockJob{id: i}
	}
	results := NewPool(3).Run(context.Background(), jobs)
	for i, r := range results {
		if r == nil {
			t.Fatalf("result %d missing", i)
		}
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	var running, peak int32
	jobs := make([]Job, 12)
	for i := range jobs {
		jobs[i] = &mockJob{id: i, duration: 20 * time.Millisecond, running: &running, peak: &peak}
	}

	NewPool(3).Run(context.Background(), jobs)

	if peak > 3 {
		t.Errorf("expected at most 3 jobs in flight, saw %d", peak)
	}
	if peak < 2 {
		t.Errorf("expected jobs to overlap, peak was %d", peak)
	}
}

func TestPool_Empty(t *testing.T) {
	results := NewPool(2).Run(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestPool_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var executed int32
	jobs := []Job{&mockJob{id: 0, executed: &executed}, &mockJob{id: 1, executed: &executed}}
	results := NewPool(1).Run(ctx, jobs)

	if executed != 0 {
		t.Errorf("expected no job to start after cancel, got %d", executed)
	}
	for i, r := range results {
		if r != nil {
			t.Errorf("slot %d should be empty", i)
		}
	}
}

func TestPool_CancelMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = &mockJob{id: i, duration: 50 * time.Millisecond}
	}
	time.AfterFunc(20*time.Millisecond, cancel)

	results := NewPool(2).Run(ctx, jobs)
	missing := 0
	for _, r := range results {
		if r == nil {
			missing++
		}
	}
	if missing == 0 {
		t.Error("expected queued jobs to be dropped after cancel")
	}
	if results[0] == nil || !errors.Is(results[0].GetError(), context.Canceled) {
		t.Errorf("expected the running job to see the cancellation, got %v", results[0])
	}
}

func TestPool_OnDone(t *testing.T) {
	jobs := make([]Job, 8)
	for i := range jobs {
		jobs[i] = &mockJob{id: i, shouldErr: i%2 == 0}
	}

	seen := make(map[int]bool)
	calls := 0
	NewPool(4).OnDone(func(i int, r Result) {
		// Calls never overlap, so plain map writes are safe
		calls++
		seen[i] = r.GetError() != nil
	}).Run(context.Background(), jobs)

	if calls != len(jobs) {
		t.Fatalf("expected %d callbacks, got %d", len(jobs), calls)
	}
	for i := range jobs {
		if seen[i] != (i%2 == 0) {
			t.Errorf("job %d: error flag %v", i, seen[i])
		}
	}
}

func TestFailed(t *testing.T) {
	results := []Result{
		&mockResult{id: 0},
		&mockResult{id: 1, err: errors.New("boom")},
		nil,
		&mockResult{id: 3, err: errors.New("bang")},
	}
	failed := Failed(results)
	if len(failed) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failed))
	}
	if failed[0].(*mockResult).id != 1 || failed[1].(*mockResult).id != 3 {
		t.Errorf("unexpected failures %v", failed)
	}
}
