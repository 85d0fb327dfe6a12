package memkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKVPutAndRead(t *testing.T) {
	ctx := context.Background()
	kv := New()

	_, err := kv.Apply(ctx, 1, EncodeCommand(Command{Op: OpPut, Key: "a", Value: []byte("1")}))
	require.NoError(t, err)

	res, err := kv.Read(ctx, EncodeQuery(Query{Key: "a"}))
	require.NoError(t, err)
	qr := res.(QueryResult)
	require.True(t, qr.Found)
	require.Equal(t, []byte("1"), qr.Value)
}

func TestKVDelete(t *testing.T) {
	ctx := context.Background()
	kv := New()

	_, err := kv.Apply(ctx, 1, EncodeCommand(Command{Op: OpPut, Key: "a", Value: []byte("1")}))
	require.NoError(t, err)
	_, err = kv.Apply(ctx, 2, EncodeCommand(Command{Op: OpDelete, Key: "a"}))
	require.NoError(t, err)

	res, err := kv.Read(ctx, EncodeQuery(Query{Key: "a"}))
	require.NoError(t, err)
	require.False(t, res.(QueryResult).Found)
}

func TestKVSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := New()
	_, err := kv.Apply(ctx, 1, EncodeCommand(Command{Op: OpPut, Key: "a", Value: []byte("1")}))
	require.NoError(t, err)
	_, err = kv.Apply(ctx, 2, EncodeCommand(Command{Op: OpPut, Key: "b", Value: []byte("2")}))
	require.NoError(t, err)

	id, image, err := kv.TakeSnapshot(ctx)
	require.NoError(t, err)
	require.NotEqual(t, [16]byte{}, id)

	restored := New()
	_, err = restored.LoadSnapshot(ctx, image)
	require.NoError(t, err)

	res, err := restored.Read(ctx, EncodeQuery(Query{Key: "b"}))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), res.(QueryResult).Value)
}
