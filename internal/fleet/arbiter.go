package fleet

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"lego-hub-manager/internal/hub"
)

const noHolder = -1

// ScanArbiter hands out the single scan permit. The radio can run only one
// discovery or connection at a time, so a session holds the permit from scan
// through connect and initialization.
type ScanArbiter struct {
	sem          *semaphore.Weighted
	holder       atomic.Int64
	probe        hub.ActivityProbe
	pollInterval time.Duration
}

// Permit is the owned right to scan and connect. Release is idempotent.
type Permit struct {
	arbiter *ScanArbiter
	holder  int
	once    sync.Once
}

// NewScanArbiter creates an arbiter; probe may be nil when the transport has
// no asynchronous activity of its own.
func NewScanArbiter(probe hub.ActivityProbe, pollInterval time.Duration) *ScanArbiter {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	a := &ScanArbiter{
		sem:          semaphore.NewWeighted(1),
		probe:        probe,
		pollInterval: pollInterval,
	}
	a.holder.Store(noHolder)
	return a
}

// Acquire blocks until the permit is free or ctx is done
func (a *ScanArbiter) Acquire(ctx context.Context, holder int) (*Permit, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	a.holder.Store(int64(holder))
	return &Permit{arbiter: a, holder: holder}, nil
}

// TryAcquire takes the permit only if it is free right now
func (a *ScanArbiter) TryAcquire(holder int) (*Permit, bool) {
	if !a.sem.TryAcquire(1) {
		return nil, false
	}
	a.holder.Store(int64(holder))
	return &Permit{arbiter: a, holder: holder}, true
}

// Holder returns the id of the current permit holder, -1 when free
func (a *ScanArbiter) Holder() int {
	return int(a.holder.Load())
}

// WaitSettled blocks until the transport reports no discovery or connection
// in flight.
func (a *ScanArbiter) WaitSettled(ctx context.Context) error {
	if a.probe == nil {
		return ctx.Err()
	}
	for a.probe.Busy() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
	return nil
}

// Holder returns the id the permit was acquired for
func (p *Permit) Holder() int {
	return p.holder
}

// Release returns the permit to the arbiter
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.arbiter.holder.Store(noHolder)
		p.arbiter.sem.Release(1)
	})
}
