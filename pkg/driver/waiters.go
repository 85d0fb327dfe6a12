package driver

import (
	"sort"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// outcome is the resolved result of a Waiter or ReadRequest.
type outcome struct {
	err   error
	value interface{}
}

// waiter is spec §3's Waiter: (awaited-index, term-at-submission,
// completion-signal). Exactly one outcome is ever sent on done.
type waiter struct {
	index driverpb.Index
	term  driverpb.Term
	done  chan outcome
}

// waiterTable is one of the two ordered index-keyed maps from spec §4.5
// (commit-waiters, apply-waiters). It is only ever touched from the
// driver's single owning goroutine (the applier activity owns both
// tables), per §5, so no internal locking is needed.
type waiterTable struct {
	byIndex map[driverpb.Index][]*waiter
}

func newWaiterTable() *waiterTable {
	return &waiterTable{byIndex: make(map[driverpb.Index][]*waiter)}
}

func (t *waiterTable) add(w *waiter) {
	t.byIndex[w.index] = append(t.byIndex[w.index], w)
}

// sortedIndexesUpTo returns the indexes present in the table that are
// <= upTo, ascending.
func (t *waiterTable) sortedIndexesUpTo(upTo driverpb.Index) []driverpb.Index {
	idxs := make([]driverpb.Index, 0, len(t.byIndex))
	for idx := range t.byIndex {
		if idx <= upTo {
			idxs = append(idxs, idx)
		}
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}

func (t *waiterTable) allIndexesSorted() []driverpb.Index {
	idxs := make([]driverpb.Index, 0, len(t.byIndex))
	for idx := range t.byIndex {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}

func (t *waiterTable) take(idx driverpb.Index) []*waiter {
	ws := t.byIndex[idx]
	delete(t.byIndex, idx)
	return ws
}

func resolve(w *waiter, o outcome) {
	w.done <- o
	close(w.done)
}

// notifyRange implements spec §4.5's notification procedure for a batch
// [entries[0].Index .. entries[len-1].Index]: waiters at or below the
// batch's last index resolve success/dropped-entry by comparing terms;
// remaining waiters whose term is strictly behind the batch's last term
// can never commit at their original term and are dropped too.
func (t *waiterTable) notifyRange(entries []driverpb.LogEntry, onAwoken, onDropped func()) {
	if len(entries) == 0 {
		return
	}
	termAt := make(map[driverpb.Index]driverpb.Term, len(entries))
	for _, e := range entries {
		termAt[e.Index] = e.Term
	}
	last := entries[len(entries)-1].Index
	lastTerm := entries[len(entries)-1].Term

	for _, idx := range t.sortedIndexesUpTo(last) {
		term, ok := termAt[idx]
		for _, w := range t.take(idx) {
			if ok && w.term == term {
				resolve(w, outcome{})
				onAwoken()
			} else {
				resolve(w, outcome{err: ErrDroppedEntry})
				onDropped()
			}
		}
	}

	for _, idx := range t.allIndexesSorted() {
		ws := t.byIndex[idx]
		if len(ws) == 0 {
			continue
		}
		if ws[0].term < lastTerm {
			for _, w := range t.take(idx) {
				resolve(w, outcome{err: ErrDroppedEntry})
				onDropped()
			}
		}
	}
}

// dropThrough resolves every waiter with index <= through as
// commit-unknown (used on snapshot supersession, spec §4.3 "snapshot
// descriptor" path step 3).
func (t *waiterTable) dropThrough(through driverpb.Index, onDropped func()) {
	for _, idx := range t.sortedIndexesUpTo(through) {
		for _, w := range t.take(idx) {
			resolve(w, outcome{err: ErrCommitStatusUnknown})
			onDropped()
		}
	}
}

// dropAll resolves every remaining waiter with err, used during Stop.
func (t *waiterTable) dropAll(err error) {
	for _, idx := range t.allIndexesSorted() {
		for _, w := range t.take(idx) {
			resolve(w, outcome{err: err})
		}
	}
}

// awaitedIndexes tracks generic "wait until AppliedIndex >= target"
// requests, registered through waitForApplied by ReadBarrier (spec §4.3
// "signal all awaited indexes").
type awaitedIndexes struct {
	byTarget map[driverpb.Index][]chan struct{}
}

func newAwaitedIndexes() *awaitedIndexes {
	return &awaitedIndexes{byTarget: make(map[driverpb.Index][]chan struct{})}
}

func (a *awaitedIndexes) register(target driverpb.Index) chan struct{} {
	ch := make(chan struct{})
	a.byTarget[target] = append(a.byTarget[target], ch)
	return ch
}

// registerChan attaches a caller-provided channel, used when the channel
// must be created before it can be handed across the awaitRegister
// registration channel (see driver.awaitRequest).
func (a *awaitedIndexes) registerChan(target driverpb.Index, ch chan struct{}) {
	a.byTarget[target] = append(a.byTarget[target], ch)
}

func (a *awaitedIndexes) signalUpTo(appliedIndex driverpb.Index) {
	for target, chans := range a.byTarget {
		if target > appliedIndex {
			continue
		}
		for _, ch := range chans {
			close(ch)
		}
		delete(a.byTarget, target)
	}
}

func (a *awaitedIndexes) signalAll() {
	for target, chans := range a.byTarget {
		for _, ch := range chans {
			close(ch)
		}
		delete(a.byTarget, target)
	}
}
