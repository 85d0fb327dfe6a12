package driver

import (
	"context"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

// Tick advances the FSM's logical clock by one unit, typically driven by a
// fixed-interval ticker owned by the process embedding this driver.
func (d *Driver) Tick() { d.cfg.FSM.Tick() }

// ElapseElection forces the FSM's election timeout to fire immediately,
// used by tests and by administrative "step down and force an election"
// tooling.
func (d *Driver) ElapseElection() { d.cfg.FSM.ElapseElection() }

// WaitUntilCandidate blocks until the FSM becomes a candidate, ctx is
// done, or the FSM stops.
func (d *Driver) WaitUntilCandidate(ctx context.Context) error {
	return d.cfg.FSM.WaitUntilCandidate(ctx)
}

// WaitElectionDone blocks until the FSM's current election resolves
// (becomes leader or reverts to follower), ctx is done, or the FSM stops.
func (d *Driver) WaitElectionDone(ctx context.Context) error {
	return d.cfg.FSM.WaitElectionDone(ctx)
}

// WaitLogIndexTerm blocks until the FSM's log holds (index, term) at that
// position, ctx is done, or the FSM stops.
func (d *Driver) WaitLogIndexTerm(ctx context.Context, index driverpb.Index, term driverpb.Term) error {
	return d.cfg.FSM.WaitLogIndexTerm(ctx, index, term)
}
