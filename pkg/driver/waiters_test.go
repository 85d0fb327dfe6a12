package driver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

func TestWaiterTableNotifyRangeResolvesMatchingTerm(t *testing.T) {
	tbl := newWaiterTable()
	w1 := &waiter{index: 1, term: 1, done: make(chan outcome, 1)}
	w2 := &waiter{index: 2, term: 1, done: make(chan outcome, 1)}
	tbl.add(w1)
	tbl.add(w2)

	entries := []driverpb.LogEntry{{Index: 1, Term: 1}, {Index: 2, Term: 1}}
	var awoken, dropped int
	tbl.notifyRange(entries, func() { awoken++ }, func() { dropped++ })

	require.Equal(t, 2, awoken)
	require.Equal(t, 0, dropped)
	require.NoError(t, (<-w1.done).err)
	require.NoError(t, (<-w2.done).err)
}

func TestWaiterTableNotifyRangeDropsTermMismatch(t *testing.T) {
	tbl := newWaiterTable()
	w := &waiter{index: 2, term: 1, done: make(chan outcome, 1)}
	tbl.add(w)

	// A later leader overwrote index 2 at term 2.
	entries := []driverpb.LogEntry{{Index: 1, Term: 2}, {Index: 2, Term: 2}}
	var dropped int
	tbl.notifyRange(entries, func() {}, func() { dropped++ })

	require.Equal(t, 1, dropped)
	o := <-w.done
	require.ErrorIs(t, o.err, ErrDroppedEntry)
}

func TestWaiterTableNotifyRangeDropsBehindLastTerm(t *testing.T) {
	tbl := newWaiterTable()
	// A waiter for an index past the batch, submitted at a term the batch's
	// last entry has already superseded, can never commit at its own term.
	w := &waiter{index: 5, term: 1, done: make(chan outcome, 1)}
	tbl.add(w)

	entries := []driverpb.LogEntry{{Index: 3, Term: 2}, {Index: 4, Term: 2}}
	var dropped int
	tbl.notifyRange(entries, func() {}, func() { dropped++ })

	require.Equal(t, 1, dropped)
	o := <-w.done
	require.ErrorIs(t, o.err, ErrDroppedEntry)
}

func TestWaiterTableDropThrough(t *testing.T) {
	tbl := newWaiterTable()
	w1 := &waiter{index: 1, term: 1, done: make(chan outcome, 1)}
	w2 := &waiter{index: 10, term: 1, done: make(chan outcome, 1)}
	tbl.add(w1)
	tbl.add(w2)

	var dropped int
	tbl.dropThrough(5, func() { dropped++ })

	require.Equal(t, 1, dropped)
	require.ErrorIs(t, (<-w1.done).err, ErrCommitStatusUnknown)
	require.Len(t, tbl.byIndex, 1)
}

func TestWaiterTableDropAll(t *testing.T) {
	tbl := newWaiterTable()
	w := &waiter{index: 1, term: 1, done: make(chan outcome, 1)}
	tbl.add(w)

	tbl.dropAll(ErrStopped)
	require.ErrorIs(t, (<-w.done).err, ErrStopped)
}

func TestAwaitedIndexesSignalUpTo(t *testing.T) {
	a := newAwaitedIndexes()
	ch5 := a.register(5)
	ch10 := a.register(10)

	a.signalUpTo(7)
	select {
	case <-ch5:
	default:
		t.Fatal("expected ch5 to be signaled")
	}
	select {
	case <-ch10:
		t.Fatal("did not expect ch10 to be signaled yet")
	default:
	}

	a.signalUpTo(10)
	select {
	case <-ch10:
	default:
		t.Fatal("expected ch10 to be signaled")
	}
}

func TestAwaitedIndexesSignalAll(t *testing.T) {
	a := newAwaitedIndexes()
	ch := a.register(1000)
	a.signalAll()
	select {
	case <-ch:
	default:
		t.Fatal("expected ch to be signaled by signalAll")
	}
}
