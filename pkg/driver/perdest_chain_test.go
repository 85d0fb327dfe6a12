package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
)

func TestPerDestChainsSerializesPerDestination(t *testing.T) {
	c := newPerDestChains()
	dest := driverpb.NewServerID()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		c.submit(context.Background(), dest, func(context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	for i, v := range order {
		require.Equal(t, i, v, "sends to the same destination must run in submission order")
	}
}

func TestPerDestChainsDoesNotSerializeAcrossDestinations(t *testing.T) {
	c := newPerDestChains()
	a := driverpb.NewServerID()
	b := driverpb.NewServerID()

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	block := func(context.Context) {
		defer wg.Done()
		started <- struct{}{}
		<-release
	}
	c.submit(context.Background(), a, block)
	c.submit(context.Background(), b, block)

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("expected both destinations to start concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestPerDestChainsRemoveDestCancelsInFlight(t *testing.T) {
	c := newPerDestChains()
	dest := driverpb.NewServerID()

	var cancelled int32
	started := make(chan struct{})
	done := make(chan struct{})
	c.submit(context.Background(), dest, func(ctx context.Context) {
		defer close(done)
		close(started)
		<-ctx.Done()
		atomic.StoreInt32(&cancelled, 1)
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("expected the send to start")
	}
	c.removeDest(dest)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected removeDest to cancel the in-flight send")
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&cancelled))
}

func TestPerDestChainsStopAllAwaitsEveryChain(t *testing.T) {
	c := newPerDestChains()
	dest := driverpb.NewServerID()

	started := make(chan struct{})
	blocked := make(chan struct{})
	c.submit(context.Background(), dest, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(blocked)
	})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("expected the send to start")
	}

	stopped := make(chan struct{})
	go func() {
		c.stopAll()
		close(stopped)
	}()

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("expected stopAll to cancel the outstanding chain")
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected stopAll to return once the chain goroutine exits")
	}
}
