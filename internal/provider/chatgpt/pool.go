package chatgpt

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
)

// Solver runs proof-of-work searches on a bounded number of goroutines so
// a burst of challenges cannot occupy every CPU that request I/O needs.
type Solver struct {
	sem           *semaphore.Weighted
	maxIterations int
}

// NewSolver allows at most workers concurrent searches of maxIterations
// trials each. workers <= 0 means GOMAXPROCS.
func NewSolver(workers, maxIterations int) *Solver {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Solver{
		sem:           semaphore.NewWeighted(int64(workers)),
		maxIterations: maxIterations,
	}
}

// ProofResult is the outcome of one search.
type ProofResult struct {
	Token   string
	Solved  bool
	Elapsed time.Duration
}

// Solve waits for a free worker, then searches on it. Cancelling ctx
// abandons the wait or stops the search within a bounded number of trials.
func (s *Solver) Solve(ctx context.Context, ch Challenge, meta ClientMetadata) (ProofResult, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return ProofResult{}, err
	}

	type outcome struct {
		res ProofResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer s.sem.Release(1)
		start := time.Now()
		token, solved, err := solve(ctx, ch, meta, s.maxIterations)
		done <- outcome{ProofResult{Token: token, Solved: solved, Elapsed: time.Since(start)}, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return ProofResult{}, ctx.Err()
	}
}

// Prove answers the session's challenge, if any, with this provider's user
// agent. A session without a challenge yields an empty token.
func (p *Provider) Prove(ctx context.Context, sess *Session) (ProofResult, error) {
	if sess.Challenge == nil {
		return ProofResult{Solved: true}, nil
	}
	meta := NewClientMetadata(p.userAgent, time.Now())
	res, err := p.solver.Solve(ctx, *sess.Challenge, meta)
	if err != nil {
		return res, err
	}
	if res.Solved {
		p.logf("[chatgpt] proof-of-work solved in %s (difficulty %s)", res.Elapsed, sess.Challenge.Difficulty)
	} else {
		p.logf("[chatgpt] proof-of-work exhausted after %d trials, using fallback token", p.solver.maxIterations)
	}
	return res, nil
}
