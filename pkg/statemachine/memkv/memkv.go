// Package memkv is a trivial in-memory key/value statemachine.StateMachine,
// used by the driver's own end-to-end tests and as a worked example for
// cmd/raftdriverd. Commands, queries, and snapshot images are gob-encoded,
// matching the teacher's habit of keeping test fixtures on plain stdlib
// encoding when no wire-format concern is actually being exercised.
package memkv

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/statemachine"
	"github.com/cockroachdb/raftdriver/pkg/syncutil"
)

// OpKind discriminates a Command's operation.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// Command is the command payload memkv expects from Apply.
type Command struct {
	Op    OpKind
	Key   string
	Value []byte
}

// Query is the query payload memkv expects from Read.
type Query struct {
	Key string
}

// QueryResult is what Read returns.
type QueryResult struct {
	Value []byte
	Found bool
}

// KV is a StateMachine over an in-memory map.
type KV struct {
	mu struct {
		syncutil.RWMutex
		data map[string][]byte
	}
}

var _ statemachine.StateMachine = (*KV)(nil)

// New returns an empty KV.
func New() *KV {
	kv := &KV{}
	kv.mu.data = make(map[string][]byte)
	return kv
}

func (kv *KV) Apply(ctx context.Context, index driverpb.Index, command []byte) (interface{}, error) {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(command)).Decode(&cmd); err != nil {
		return nil, errors.Wrap(err, "decoding memkv command")
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()
	switch cmd.Op {
	case OpPut:
		kv.mu.data[cmd.Key] = cmd.Value
	case OpDelete:
		delete(kv.mu.data, cmd.Key)
	default:
		return nil, errors.Newf("memkv: unknown op %d", cmd.Op)
	}
	return nil, nil
}

func (kv *KV) Read(ctx context.Context, query []byte) (interface{}, error) {
	var q Query
	if err := gob.NewDecoder(bytes.NewReader(query)).Decode(&q); err != nil {
		return nil, errors.Wrap(err, "decoding memkv query")
	}

	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.mu.data[q.Key]
	return QueryResult{Value: v, Found: ok}, nil
}

func (kv *KV) TakeSnapshot(ctx context.Context) ([16]byte, []byte, error) {
	kv.mu.RLock()
	snapshot := make(map[string][]byte, len(kv.mu.data))
	for k, v := range kv.mu.data {
		snapshot[k] = v
	}
	kv.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return [16]byte{}, nil, errors.Wrap(err, "encoding memkv snapshot")
	}
	return uuid.New(), buf.Bytes(), nil
}

func (kv *KV) LoadSnapshot(ctx context.Context, image []byte) ([16]byte, error) {
	var snapshot map[string][]byte
	if err := gob.NewDecoder(bytes.NewReader(image)).Decode(&snapshot); err != nil {
		return [16]byte{}, errors.Wrap(err, "decoding memkv snapshot")
	}

	kv.mu.Lock()
	kv.mu.data = snapshot
	kv.mu.Unlock()
	return uuid.New(), nil
}

func (kv *KV) DiscardSnapshot(ctx context.Context, id [16]byte) {}

// EncodeCommand is a test/example helper building a gob-encoded Command.
func EncodeCommand(cmd Command) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(cmd)
	return buf.Bytes()
}

// EncodeQuery is a test/example helper building a gob-encoded Query.
func EncodeQuery(q Query) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(q)
	return buf.Bytes()
}
