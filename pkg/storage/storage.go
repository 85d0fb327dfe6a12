// Package storage defines the durable persistence contract the driver
// depends on for its log, hard state, and snapshot metadata, plus a
// concrete implementation (Store) backed by github.com/cockroachdb/pebble,
// the LSM engine the teacher itself uses for all on-disk state.
package storage

import (
	"context"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// Persistence is everything the driver's I/O activity needs from durable
// storage. All methods must be safe for concurrent use; the driver only
// ever has one I/O activity goroutine calling into it at a time, but tests
// and administrative tools (log inspection) may call read methods
// concurrently.
type Persistence interface {
	// AppendEntries appends entries to the log, truncating any existing
	// entries at or after entries[0].Index first (the driver only ever
	// appends at a point consistent with the FSM's own log, but a leader
	// election can still cause a suffix to be rewritten).
	AppendEntries(ctx context.Context, entries []driverpb.LogEntry) error

	// TruncateLog drops every entry with Index > through, called when the
	// FSM's output regresses the log to a point at or before the last
	// persisted index.
	TruncateLog(ctx context.Context, through driverpb.Index) error

	// Entries returns log entries in [lo, hi).
	Entries(ctx context.Context, lo, hi driverpb.Index) ([]driverpb.LogEntry, error)

	// LastIndex returns the index of the last persisted entry, or the
	// snapshot's index if the log is currently empty.
	LastIndex(ctx context.Context) (driverpb.Index, error)

	// SetTermVote persists the current term and vote atomically.
	SetTermVote(ctx context.Context, tv driverpb.TermVote) error

	// TermVote returns the last persisted term/vote, or the zero value if
	// none has ever been persisted.
	TermVote(ctx context.Context) (driverpb.TermVote, error)

	// SetSnapshot persists snp as the latest snapshot descriptor and
	// truncates the log through snp.Index - trailing, in one atomic batch
	// (called from Driver.processSnapshotOutput).
	SetSnapshot(ctx context.Context, snp driverpb.SnapshotDescriptor, trailing uint64) error

	// Snapshot returns the latest persisted snapshot descriptor, or
	// ok=false if none has ever been persisted.
	Snapshot(ctx context.Context) (snp driverpb.SnapshotDescriptor, ok bool, err error)

	Close() error
}
