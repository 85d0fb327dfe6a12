package storage

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

func openMemStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return &Store{db: db}
}

func TestStoreAppendAndRead(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	entries := []driverpb.LogEntry{
		{Term: 1, Index: 1, Type: driverpb.EntryCommand, Command: []byte("a")},
		{Term: 1, Index: 2, Type: driverpb.EntryCommand, Command: []byte("b")},
		{Term: 1, Index: 3, Type: driverpb.EntryCommand, Command: []byte("c")},
	}
	require.NoError(t, s.AppendEntries(ctx, entries))

	last, err := s.LastIndex(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, last)

	got, err := s.Entries(ctx, 1, 4)
	require.NoError(t, err)
	require.Equal(t, entries, got)
}

func TestStoreAppendTruncatesSuffix(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	require.NoError(t, s.AppendEntries(ctx, []driverpb.LogEntry{
		{Term: 1, Index: 1}, {Term: 1, Index: 2}, {Term: 1, Index: 3},
	}))
	// A new leader's append at index 2 must overwrite the old index-3 entry.
	require.NoError(t, s.AppendEntries(ctx, []driverpb.LogEntry{
		{Term: 2, Index: 2, Command: []byte("rewritten")},
	}))

	got, err := s.Entries(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.EqualValues(t, 2, got[1].Term)
}

func TestStoreTermVoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	id := driverpb.NewServerID()
	require.NoError(t, s.SetTermVote(ctx, driverpb.TermVote{Term: 7, Vote: id}))

	tv, err := s.TermVote(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 7, tv.Term)
	require.Equal(t, id, tv.Vote)
}

func TestStoreSnapshotAdvancesLastIndexAndTruncates(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	require.NoError(t, s.AppendEntries(ctx, []driverpb.LogEntry{
		{Term: 1, Index: 1}, {Term: 1, Index: 2}, {Term: 1, Index: 3}, {Term: 1, Index: 4},
	}))

	snp := driverpb.SnapshotDescriptor{Term: 1, Index: 3}
	require.NoError(t, s.SetSnapshot(ctx, snp, 1))

	got, ok, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snp, got)

	// trailing=1 keeps entries with index > 3-1=2, i.e. index 3 and 4.
	remaining, err := s.Entries(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)

	last, err := s.LastIndex(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 4, last)
}

func TestStoreLastIndexFallsBackToSnapshot(t *testing.T) {
	ctx := context.Background()
	s := openMemStore(t)

	snp := driverpb.SnapshotDescriptor{Term: 5, Index: 42}
	require.NoError(t, s.SetSnapshot(ctx, snp, 0))

	last, err := s.LastIndex(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 42, last)
}
