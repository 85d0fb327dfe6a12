// Package driverpb holds the plain data types exchanged between the driver
// and its four collaborators (FSM, persistence, transport, application
// state machine). There is no wire encoding here: encoding is an external
// collaborator's concern (see pkg/fsm, pkg/storage, pkg/transport).
package driverpb

import "github.com/google/uuid"

// ServerID is the 128-bit identity of a replica.
type ServerID uuid.UUID

// NewServerID returns a random, non-zero ServerID.
func NewServerID() ServerID {
	return ServerID(uuid.New())
}

// ParseServerID parses the canonical textual form of a ServerID.
func ParseServerID(s string) (ServerID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ServerID{}, err
	}
	return ServerID(id), nil
}

func (id ServerID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value, i.e. no identity.
func (id ServerID) IsZero() bool {
	return id == ServerID{}
}

// Term is a monotonically nondecreasing election epoch.
type Term uint64

// Index is a 1-based log position, dense starting above the snapshot index.
type Index uint64

// EntryType discriminates the payload carried by a LogEntry.
type EntryType int

const (
	// EntryCommand carries an application command.
	EntryCommand EntryType = iota
	// EntryConfiguration carries a (possibly joint) membership change.
	EntryConfiguration
	// EntryDummy carries no payload; submitted solely to force a later
	// commit barrier (see Driver.SetConfiguration).
	EntryDummy
)

func (t EntryType) String() string {
	switch t {
	case EntryCommand:
		return "Command"
	case EntryConfiguration:
		return "Configuration"
	case EntryDummy:
		return "Dummy"
	default:
		return "Unknown"
	}
}

// LogEntry is one position in the replicated log.
type LogEntry struct {
	Term    Term
	Index   Index
	Type    EntryType
	Command []byte
	Conf    *Configuration // set iff Type == EntryConfiguration
}

// Configuration is a cluster membership set. A non-empty Outgoing marks a
// joint configuration (the transitional state during reconfiguration that
// contains both the old and new address sets).
type Configuration struct {
	Voters   []ServerID
	Outgoing []ServerID
}

// IsJoint reports whether c is a transitional joint configuration.
func (c Configuration) IsJoint() bool {
	return len(c.Outgoing) > 0
}

// AddressUnion returns the union of Voters and Outgoing (deduplicated),
// i.e. every address the transport needs to be able to reach.
func (c Configuration) AddressUnion() []ServerID {
	seen := make(map[ServerID]struct{}, len(c.Voters)+len(c.Outgoing))
	out := make([]ServerID, 0, len(c.Voters)+len(c.Outgoing))
	for _, ids := range [][]ServerID{c.Voters, c.Outgoing} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// SnapshotDescriptor identifies a point-in-time image of the application
// state machine.
type SnapshotDescriptor struct {
	ID            uuid.UUID
	Term          Term
	Index         Index
	Configuration Configuration
}
