package driver

import (
	"sort"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// readRequest is spec §3's ReadRequest: (read-id monotonically issued,
// commit-index floor, completion-signal). Resolved in read-id order
// (§5 "Read-barrier completions are delivered in ascending read-id order
// within one watermark").
type readRequest struct {
	readID uint64
	index  driverpb.Index
	done   chan outcome
}

// readRequestTable holds outstanding ReadRequests, keyed by read id so
// quorum watermarks can resolve them in order.
type readRequestTable struct {
	byReadID map[uint64]*readRequest
}

func newReadRequestTable() *readRequestTable {
	return &readRequestTable{byReadID: make(map[uint64]*readRequest)}
}

func (t *readRequestTable) add(r *readRequest) {
	t.byReadID[r.readID] = r
}

// resolveUpToWatermark resolves every outstanding request whose read-id is
// <= watermark, strictly ascending by read-id (spec §4.2 step 8), each with
// its own commit-index floor recorded when it was created — not whatever
// AppliedIndex happens to be at resolution time.
func (t *readRequestTable) resolveUpToWatermark(watermark uint64) {
	ids := make([]uint64, 0, len(t.byReadID))
	for id := range t.byReadID {
		if id <= watermark {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		r := t.byReadID[id]
		delete(t.byReadID, id)
		r.done <- outcome{value: r.index}
		close(r.done)
	}
}

// resolveAllNotLeader resolves every outstanding request with a
// not-a-leader error, used on losing leadership (spec §4.2 step 9) and on
// Stop (spec §4.1 abort()).
func (t *readRequestTable) resolveAllNotLeader(hint driverpb.ServerID, hasHint bool) {
	for id, r := range t.byReadID {
		delete(t.byReadID, id)
		r.done <- outcome{err: &NotLeaderError{Hint: hint, HasHint: hasHint}}
		close(r.done)
	}
}
