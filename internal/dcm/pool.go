package dcm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Pool fans a single resource_alloc request out across several
// candidate scheduler replicas and takes the first grant, the way a
// rack with more than one DCM instance load-balances allocation
// traffic. A grant cancels the shared context, which aborts candidates
// still dialing; ResourceAlloc still waits for every candidate to
// return, and grants other than the one it returns are discarded.
type Pool struct {
	candidates []*Client
}

// NewPool wraps a set of already-dialed candidate clients. At least one
// candidate is required.
func NewPool(candidates ...*Client) (*Pool, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("dcm: pool requires at least one candidate")
	}
	return &Pool{candidates: candidates}, nil
}

// ResourceAlloc races ResourceAlloc against every candidate concurrently
// and returns the grant of the earliest candidate, in candidate order,
// that succeeded. If every candidate fails, the
// first error encountered is returned (candidate order is preserved for
// determinism in tests).
func (p *Pool) ResourceAlloc(ctx context.Context, pid uint64, nCores, nFrames int) (machineIDs []int, frameIDs []uint64, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		machineIDs []int
		frameIDs   []uint64
		ok         bool
	}
	results := make([]result, len(p.candidates))
	errs := make([]error, len(p.candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range p.candidates {
		i, c := i, c
		g.Go(func() error {
			m, f, cerr := c.ResourceAlloc(gctx, pid, nCores, nFrames)
			if cerr != nil {
				errs[i] = cerr
				return nil
			}
			results[i] = result{machineIDs: m, frameIDs: f, ok: true}
			cancel()
			return nil
		})
	}
	// errgroup.Group.Wait only ever returns a non-nil error from a Go
	// func that itself returns one; every candidate above always
	// returns nil and records its own outcome instead, so the granted
	// winner (if any) is found by scanning results below rather than by
	// checking Wait's return value.
	_ = g.Wait()

	for i := range results {
		if results[i].ok {
			return results[i].machineIDs, results[i].frameIDs, nil
		}
	}
	for _, e := range errs {
		if e != nil {
			return nil, nil, e
		}
	}
	return nil, nil, fmt.Errorf("%w: resource_alloc: all candidates failed", ErrSchedulerUnreachable)
}
