package driver

import (
	"context"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/syncutil"
)

// perDestChain serializes append-request sends to one destination without
// serializing sends to different destinations (spec §4.2 step 5, §9's
// "fan-in per key" pattern note). Each destination gets a single-slot
// buffered work queue drained by its own goroutine; submit enqueues a send
// closure, release decrements the entry's reference count and tears it
// down once it reaches zero, with atomic re-creation on a
// concurrent submit against a just-erased entry (spec §9 Open Questions).
type perDestChains struct {
	mu      syncutil.Mutex
	entries map[driverpb.ServerID]*chainEntry
}

type chainEntry struct {
	work    chan func(context.Context)
	count   int
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newPerDestChains() *perDestChains {
	return &perDestChains{entries: make(map[driverpb.ServerID]*chainEntry)}
}

// submit enqueues fn to run on dest's chain, creating the chain's
// goroutine if this is the first outstanding send to dest.
func (c *perDestChains) submit(ctx context.Context, dest driverpb.ServerID, fn func(context.Context)) {
	c.mu.Lock()
	e, ok := c.entries[dest]
	if !ok {
		e = c.newEntryLocked(dest)
	}
	e.count++
	c.mu.Unlock()

	e.work <- fn
}

func (c *perDestChains) newEntryLocked(dest driverpb.ServerID) *chainEntry {
	cctx, cancel := context.WithCancel(context.Background())
	e := &chainEntry{
		work:    make(chan func(context.Context), 1),
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	c.entries[dest] = e
	go func() {
		defer close(e.stopped)
		for {
			select {
			case fn, ok := <-e.work:
				if !ok {
					return
				}
				fn(cctx)
				c.release(dest, e)
			case <-cctx.Done():
				return
			}
		}
	}()
	return e
}

// release decrements e's count; when it reaches zero the entry is erased
// from the map, unless a concurrent submit already re-created a fresh
// entry under the same key (in which case this stale e is simply left to
// drain and exit).
func (c *perDestChains) release(dest driverpb.ServerID, e *chainEntry) {
	c.mu.Lock()
	e.count--
	if e.count == 0 && c.entries[dest] == e {
		delete(c.entries, dest)
		close(e.work)
	}
	c.mu.Unlock()
}

// removeDest tears down dest's chain entirely (e.g. the destination left
// the configuration), cancelling any send still in flight.
func (c *perDestChains) removeDest(dest driverpb.ServerID) {
	c.mu.Lock()
	e, ok := c.entries[dest]
	if ok {
		delete(c.entries, dest)
	}
	c.mu.Unlock()
	if ok {
		e.cancel()
	}
}

// stopAll cancels every chain and returns once every chain goroutine has
// exited (spec §4.1 abort(): "awaits ... per-destination append-request
// serializer chains").
func (c *perDestChains) stopAll() {
	c.mu.Lock()
	entries := make([]*chainEntry, 0, len(c.entries))
	for dest, e := range c.entries {
		entries = append(entries, e)
		delete(c.entries, dest)
	}
	c.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	for _, e := range entries {
		<-e.stopped
	}
}
