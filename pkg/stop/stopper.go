// Package stop provides a minimal Stopper, adapted from the teacher's
// pkg/util/stop (not present in this retrieval pack, but pervasively used
// across pkg/kv/kvserver/rangefeed as stopper.RunAsyncTask /
// stopper.ShouldQuiesce / stopper.Stop). The driver uses exactly this
// idiom for its two background activities instead of bare goroutines, so
// that shutdown has one disciplined entry point.
package stop

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrUnavailable is returned by RunAsyncTask once the Stopper is
// quiescing or stopped.
var ErrUnavailable = errors.New("stop: stopper is quiescing")

// Stopper tracks a set of tasks and a single shutdown signal.
type Stopper struct {
	quiesce chan struct{}
	once    sync.Once

	mu struct {
		sync.Mutex
		wg       sync.WaitGroup
		quiesced bool
	}
}

// NewStopper returns a ready Stopper.
func NewStopper() *Stopper {
	return &Stopper{quiesce: make(chan struct{})}
}

// ShouldQuiesce returns a channel that is closed once Stop has been
// called; tasks select on it to know when to exit.
func (s *Stopper) ShouldQuiesce() <-chan struct{} {
	return s.quiesce
}

// RunAsyncTask runs fn in a new goroutine tracked by the Stopper, unless
// the Stopper is already quiescing.
func (s *Stopper) RunAsyncTask(ctx context.Context, name string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	if s.mu.quiesced {
		s.mu.Unlock()
		return ErrUnavailable
	}
	s.mu.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.mu.wg.Done()
		fn(ctx)
	}()
	return nil
}

// Stop closes the quiesce channel and blocks until every task started via
// RunAsyncTask has returned.
func (s *Stopper) Stop(ctx context.Context) {
	s.once.Do(func() {
		s.mu.Lock()
		s.mu.quiesced = true
		s.mu.Unlock()
		close(s.quiesce)
	})
	s.mu.wg.Wait()
}
