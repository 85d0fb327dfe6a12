package driver

import (
	"context"
	"runtime"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// snapshotTransfer is spec §3's SnapshotTransfer: (destination,
// cancellation handle, unique id, future). Go's idiomatic cancellation
// handle is a context.CancelFunc (SPEC_FULL §4.4 [EXPANDED]).
type snapshotTransfer struct {
	id     uint64
	dest   driverpb.ServerID
	cancel context.CancelFunc
	done   chan struct{}
}

// snapshotCompletion is delivered by a transfer's background goroutine
// back to the I/O activity, which is the only goroutine allowed to step
// the reply into the FSM or mutate the transfer table (spec §5).
type snapshotCompletion struct {
	dest driverpb.ServerID
	id   uint64
	resp driverpb.InstallSnapshotResponse
	err  error
}

// snapshotTransfers tracks in-flight outgoing transfers, at most one per
// destination (spec §3 invariant), plus an "aborted" bucket of
// not-yet-finished transfers to be awaited at shutdown (spec §4.4,
// §9 "Snapshot transfer table" pattern note).
type snapshotTransfers struct {
	nextID  uint64
	byDest  map[driverpb.ServerID]*snapshotTransfer
	aborted []*snapshotTransfer
}

func newSnapshotTransfers() *snapshotTransfers {
	return &snapshotTransfers{byDest: make(map[driverpb.ServerID]*snapshotTransfer)}
}

// start launches a background task sending req to dest via send, reporting
// its outcome on completions once done. The task yields once before
// calling send so the table entry above is guaranteed visible to any
// concurrent abort() before this transfer can complete (spec §4.4).
func (s *snapshotTransfers) start(
	ctx context.Context,
	dest driverpb.ServerID,
	send func(ctx context.Context) (driverpb.InstallSnapshotResponse, error),
	completions chan<- snapshotCompletion,
) *snapshotTransfer {
	s.nextID++
	id := s.nextID
	cctx, cancel := context.WithCancel(ctx)
	t := &snapshotTransfer{id: id, dest: dest, cancel: cancel, done: make(chan struct{})}
	s.byDest[dest] = t

	go func() {
		defer close(t.done)
		runtime.Gosched()
		resp, err := send(cctx)
		select {
		case completions <- snapshotCompletion{dest: dest, id: id, resp: resp, err: err}:
		case <-ctx.Done():
		}
	}()
	return t
}

// isCancelled reports whether id is absent from the live table, meaning it
// was moved to aborted (or already completed and erased) rather than still
// in flight — the table-absence check spec §4.4 describes.
func (s *snapshotTransfers) isCancelled(dest driverpb.ServerID, id uint64) bool {
	t, ok := s.byDest[dest]
	return !ok || t.id != id
}

// complete erases dest's entry if it still refers to id (a newer transfer
// to the same destination may have superseded it).
func (s *snapshotTransfers) complete(dest driverpb.ServerID, id uint64) {
	if t, ok := s.byDest[dest]; ok && t.id == id {
		delete(s.byDest, dest)
	}
}

// abort cancels dest's in-flight transfer (if any) and moves it into the
// aborted bucket to be awaited at shutdown.
func (s *snapshotTransfers) abort(dest driverpb.ServerID) {
	t, ok := s.byDest[dest]
	if !ok {
		return
	}
	delete(s.byDest, dest)
	t.cancel()
	s.aborted = append(s.aborted, t)
}

// abortAll aborts every in-flight transfer, used on Stop.
func (s *snapshotTransfers) abortAll() {
	for dest := range s.byDest {
		s.abort(dest)
	}
}

// awaitAborted blocks until every aborted transfer's background task has
// returned (spec §4.1 abort(): "awaits all in-flight snapshot transfers").
func (s *snapshotTransfers) awaitAborted() {
	for _, t := range s.aborted {
		<-t.done
	}
	s.aborted = nil
}
