package driver

import (
	"context"
	"sort"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/fsm"
)

// SetConfiguration is spec §4.1's set_configuration(new_set): it changes
// cluster membership from the FSM's current configuration to newSet via
// joint consensus. If newSet already equals the current configuration this
// is a no-op.
//
// The two-phase submission relies on Raft's commit index advancing
// strictly in log order: once the joint entry commits, every replica that
// has applied it agrees the joint configuration is in effect, so a second,
// unrelated dummy entry committing afterward proves the transition to the
// final configuration (driven by the FSM once it sees the joint entry
// applied) has also taken hold everywhere the dummy entry did.
func (d *Driver) SetConfiguration(ctx context.Context, newSet []driverpb.ServerID) error {
	current := d.cfg.FSM.CurrentConfiguration()
	if sameMembership(current.Voters, newSet) {
		return nil
	}

	joint := driverpb.Configuration{Voters: newSet, Outgoing: current.Voters}
	if _, err := d.submitEntry(ctx, fsm.EntryPayload{Type: driverpb.EntryConfiguration, Conf: &joint}, UntilCommitted); err != nil {
		return err
	}

	if _, err := d.submitEntry(ctx, fsm.EntryPayload{Type: driverpb.EntryDummy}, UntilCommitted); err != nil {
		return err
	}
	return nil
}

func sameMembership(a, b []driverpb.ServerID) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]driverpb.ServerID(nil), a...)
	sb := append([]driverpb.ServerID(nil), b...)
	sort.Slice(sa, func(i, j int) bool { return sa[i].String() < sa[j].String() })
	sort.Slice(sb, func(i, j int) bool { return sb[i].String() < sb[j].String() })
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
