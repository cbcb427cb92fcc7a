package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/rolcurve/internal/curve"
	"github.com/ppiankov/rolcurve/internal/model"
)

// Fitter fits one (client, LOB) portfolio
type Fitter interface {
	FitGroup(ctx context.Context, key model.GroupKey, policies []model.Policy) (*curve.RolCurve, error)
}

// FitJob fits one portfolio. Each job runs single-threaded.
type FitJob struct {
	Key      model.GroupKey
	Policies []model.Policy
	Fitter   Fitter
	Limiter  *Limiter // Optional, keyed by client
}

// Execute executes the fit job
func (j *FitJob) Execute(ctx context.Context) Result {
	start := time.Now()
	if j.Limiter != nil {
		if err := j.Limiter.Wait(ctx, j.Key.Client); err != nil {
			return &FitResult{Key: j.Key, Policies: len(j.Policies), Error: err}
		}
	}
	c, err := j.Fitter.FitGroup(ctx, j.Key, j.Policies)
	return &FitResult{
		Key:      j.Key,
		Curve:    c,
		Policies: len(j.Policies),
		Elapsed:  time.Since(start),
		Error:    err,
	}
}

// FitResult represents the result of a fit job
type FitResult struct {
	Key      model.GroupKey
	Curve    *curve.RolCurve
	Policies int
	Elapsed  time.Duration
	Error    error
}

// GetError returns the error from the fit result
func (r *FitResult) GetError() error {
	return r.Error
}

// BatchFitter fits many portfolios concurrently. A failed group never aborts the batch.
type BatchFitter struct {
	fitter      Fitter
	concurrency int
	limiter     *Limiter
	progress    func(*FitResult)
}

// NewBatchFitter creates a new batch fitter
func NewBatchFitter(fitter Fitter, concurrency int, limiter *Limiter) *BatchFitter {
	return &BatchFitter{
		fitter:      fitter,
		concurrency: concurrency,
		limiter:     limiter,
	}
}

// OnProgress registers fn to be called as each group finishes
func (b *BatchFitter) OnProgress(fn func(*FitResult)) *BatchFitter {
	b.progress = fn
	return b
}

// FitGroups fits every group and returns the results sorted by client, then LOB
func (b *BatchFitter) FitGroups(ctx context.Context, groups map[model.GroupKey][]model.Policy) []*FitResult {
	keys := SortedKeys(groups)
	jobs := make([]Job, len(keys))
	for i, k := range keys {
		jobs[i] = &FitJob{
			Key:      k,
			Policies: groups[k],
			Fitter:   b.fitter,
			Limiter:  b.limiter,
		}
	}

	pool := NewPool(b.concurrency)
	if b.progress != nil {
		pool.OnDone(func(_ int, r Result) { b.progress(r.(*FitResult)) })
	}
	results := pool.Run(ctx, jobs)

	fitResults := make([]*FitResult, len(keys))
	for i, k := range keys {
		if results[i] != nil {
			fitResults[i] = results[i].(*FitResult)
			continue
		}
		// Jobs dropped by cancellation still get a result
		err := ctx.Err()
		if err == nil {
			err = fmt.Errorf("fit %s: not run", k)
		}
		fitResults[i] = &FitResult{Key: k, Policies: len(groups[k]), Error: err}
	}
	return fitResults
}

// SortedKeys returns group keys ordered by client, then LOB
func SortedKeys(groups map[model.GroupKey][]model.Policy) []model.GroupKey {
	keys := make([]model.GroupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	return keys
}

func lessKey(a, b model.GroupKey) bool {
	if a.Client != b.Client {
		return a.Client < b.Client
	}
	return a.LOB < b.LOB
}

// ReadKeysFromFile reads "client/lob" selectors from a file (one per line).
// A bare client selects all of its LOBs.
func ReadKeysFromFile(filePath string) ([]model.GroupKey, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var keys []model.GroupKey
	seen := make(map[model.GroupKey]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		client, lob, _ := strings.Cut(line, "/")
		k := model.GroupKey{Client: strings.TrimSpace(client), LOB: strings.TrimSpace(lob)}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return keys, nil
}

// FilterGroups keeps the groups matched by keys. An empty LOB matches every LOB of the client.
func FilterGroups(groups map[model.GroupKey][]model.Policy, keys []model.GroupKey) map[model.GroupKey][]model.Policy {
	if len(keys) == 0 {
		return groups
	}
	out := make(map[model.GroupKey][]model.Policy)
	for k, v := range groups {
		for _, sel := range keys {
			if sel.Client == k.Client && (sel.LOB == "" || sel.LOB == k.LOB) {
				out[k] = v
				break
			}
		}
	}
	return out
}
