// Package consistency implements the release-consistency protocol (C4):
// Release/ReleaseLazy publish locally dirty cache state to its home,
// Acquire/AcquireEpoch invalidate locally cached state so subsequent reads
// observe a partner's prior release. Built on the cache engine's
// AllDirty/AllClean bulk views (internal/cache) and on the
// blocking-with-progress wait pattern in internal/longwait for the
// handler-driven acquire variant.
package consistency

import (
	"context"
	"fmt"
	"sync"

	"github.com/s417-lama/ityr-go/internal/cache"
	"github.com/s417-lama/ityr-go/internal/longwait"
	"github.com/s417-lama/ityr-go/logger"
)

// Epoch identifies a release point produced by ReleaseLazy. Acquiring an
// Epoch only needs to invalidate state made stale by that specific
// release, though this implementation conservatively invalidates the
// whole cache on every Acquire (spec §4.3 permits a conservative
// over-invalidation; see DESIGN.md).
type Epoch uint64

// Protocol drives release/acquire transitions over one process's cache.
type Protocol struct {
	engine *cache.Engine
	log    logger.Logger

	epochMu sync.Mutex
	epoch   uint64
}

// New constructs a Protocol bound to engine.
func New(engine *cache.Engine, log logger.Logger) *Protocol {
	if log == nil {
		log = logger.NewDummy(0)
	}
	return &Protocol{engine: engine, log: log}
}

// Release writes back every dirty block, blocking until all writebacks are
// durable at their home. Matches spec §4.3's eager release.
func (p *Protocol) Release() error {
	dirty := p.engine.AllDirty()
	for _, b := range dirty {
		if err := p.engine.Writeback(b); err != nil {
			return fmt.Errorf("consistency: release: %w", err)
		}
	}
	p.engine.Poll()
	p.log.Log(logger.Event{Kind: logger.EventRelease, Misc: map[string]any{"blocks": len(dirty)}})
	return nil
}

// ReleaseLazy mints a new Epoch and then writes back every dirty block
// synchronously, exactly like Release; the writeback is not deferred to a
// later AcquireEpoch call. The returned Epoch is what AcquireEpoch
// validates against.
func (p *Protocol) ReleaseLazy() (Epoch, error) {
	p.epochMu.Lock()
	p.epoch++
	e := Epoch(p.epoch)
	p.epochMu.Unlock()

	if err := p.Release(); err != nil {
		return 0, err
	}
	return e, nil
}

// Acquire invalidates every clean block, forcing the next Fetch to re-read
// from home. Matches spec §4.3's eager acquire.
func (p *Protocol) Acquire() error {
	clean := p.engine.AllClean()
	for _, b := range clean {
		if err := p.engine.Invalidate(b); err != nil {
			return fmt.Errorf("consistency: acquire: %w", err)
		}
	}
	p.log.Log(logger.Event{Kind: logger.EventAcquire, Misc: map[string]any{"blocks": len(clean)}})
	return nil
}

// AcquireEpoch acquires up to and including a specific Epoch produced by
// ReleaseLazy. Since this process's releases are synchronous, AcquireEpoch
// reduces to Acquire; the Epoch parameter is retained for API fidelity
// with spec §4.3 and validated against the highest epoch minted so far.
func (p *Protocol) AcquireEpoch(e Epoch) error {
	p.epochMu.Lock()
	known := Epoch(p.epoch)
	p.epochMu.Unlock()
	if e > known {
		return fmt.Errorf("consistency: acquire epoch %d: no such epoch minted (have %d)", e, known)
	}
	return p.Acquire()
}

// AcquireWithHandler acquires while invoking handler as a progress
// callback, matching spec §4.3's acquire(handler) form: a caller blocked
// waiting on remote invalidation completions can still make forward
// progress (e.g. servicing steal requests) via handler, instead of
// parking with no way to drain other work.
func (p *Protocol) AcquireWithHandler(ctx context.Context, handler func()) error {
	errCh := make(chan error, 1)
	go func() { errCh <- p.Acquire() }()
	return longwait.Until(ctx, nil, errCh, 1, func(err error) {
		if err != nil {
			p.log.Log(logger.Event{Kind: logger.EventAcquire, Misc: map[string]any{"error": err.Error()}})
		}
	}, handler)
}
