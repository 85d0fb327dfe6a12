package storage

import "encoding/binary"

// Key layout, grounded on the teacher's convention (pkg/keys) of a short
// constant prefix byte followed by a big-endian sort key so that pebble's
// natural byte-order iteration matches log order:
//
//	'e' + big-endian uint64 index  -> encoded LogEntry
//	't'                            -> encoded TermVote
//	's'                            -> encoded SnapshotDescriptor

const (
	prefixEntry    = 'e'
	prefixTermVote = 't'
	prefixSnapshot = 's'
)

func entryKey(index uint64) []byte {
	k := make([]byte, 9)
	k[0] = prefixEntry
	binary.BigEndian.PutUint64(k[1:], index)
	return k
}

func decodeEntryKeyIndex(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[1:])
}

var termVoteKey = []byte{prefixTermVote}
var snapshotKey = []byte{prefixSnapshot}

func entryLowerBound(index uint64) []byte { return entryKey(index) }

// entryUpperBoundExclusive returns the key strictly above the highest
// possible entry key, for use as an iterator's UpperBound.
func entryUpperBoundExclusive() []byte {
	return []byte{prefixEntry + 1}
}
