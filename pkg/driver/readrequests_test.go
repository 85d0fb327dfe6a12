package driver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

func TestReadRequestTableResolvesInAscendingReadIDOrder(t *testing.T) {
	tbl := newReadRequestTable()
	r1 := &readRequest{readID: 1, index: 10, done: make(chan outcome, 1)}
	r2 := &readRequest{readID: 2, index: 20, done: make(chan outcome, 1)}
	r3 := &readRequest{readID: 3, index: 30, done: make(chan outcome, 1)}
	tbl.add(r1)
	tbl.add(r2)
	tbl.add(r3)

	tbl.resolveUpToWatermark(2)

	o1 := <-r1.done
	require.NoError(t, o1.err)
	require.Equal(t, driverpb.Index(10), o1.value)

	o2 := <-r2.done
	require.NoError(t, o2.err)
	require.Equal(t, driverpb.Index(20), o2.value)

	select {
	case <-r3.done:
		t.Fatal("read-id 3 should not have resolved below its own watermark")
	default:
	}
	require.Len(t, tbl.byReadID, 1)
}

func TestReadRequestTableResolveAllNotLeader(t *testing.T) {
	tbl := newReadRequestTable()
	r := &readRequest{readID: 1, index: 5, done: make(chan outcome, 1)}
	tbl.add(r)

	hint := driverpb.NewServerID()
	tbl.resolveAllNotLeader(hint, true)

	o := <-r.done
	require.True(t, IsNotLeader(o.err))
	var nl *NotLeaderError
	require.ErrorAs(t, o.err, &nl)
	require.True(t, nl.HasHint)
	require.Equal(t, hint, nl.Hint)
	require.Empty(t, tbl.byReadID)
}
