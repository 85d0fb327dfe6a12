// Package driver implements the long-lived replica object that glues a
// deterministic protocol state machine (pkg/fsm) to durable persistence
// (pkg/storage), a transport (pkg/transport), and a user-supplied
// application state machine (pkg/statemachine), on behalf of external
// callers that submit commands and perform linearizable reads.
//
// Modeled on the teacher's pkg/kv/kvserver Replica: a single designated
// goroutine per concurrent activity owns in-memory mutation, callers
// communicate through channels, and every external collaborator is
// injected at construction rather than looked up through a global.
package driver

import (
	"context"
	"sync"

	"github.com/cockroachdb/raftdriver/pkg/driverpb"
	"github.com/cockroachdb/raftdriver/pkg/logutil"
	"github.com/cockroachdb/raftdriver/pkg/syncutil"
)

// applierItem is one unit of work pushed onto the applier channel: either
// a batch of committed entries, or a remote snapshot descriptor to load
// (spec §4.3).
type applierItem struct {
	committed            []driverpb.LogEntry
	snapshot             *driverpb.SnapshotDescriptor
	dropAllCommitUnknown bool
}

// incomingSnapshotApplication tracks a single sender's in-progress applied
// snapshot (spec §3's IncomingSnapshotApplication, §4.4 "Incoming").
type incomingSnapshotApplication struct {
	id   [16]byte
	done chan outcome
}

// Driver is one long-lived object per replica.
type Driver struct {
	cfg Config
	log context.Context // carries this replica's logtags, passed to logutil calls

	metrics *Metrics
	sem     *logSizeSemaphore

	// appliedMu guards appliedIndex and lastSnapshotIndex, the only pieces
	// of core state read from outside the owning goroutines (spec §5).
	appliedMu struct {
		syncutil.Mutex
		appliedIndex      driverpb.Index
		lastSnapshotIndex driverpb.Index
	}

	// Owned exclusively by the applier goroutine. waiterRegister is how
	// Submit (running on a caller's goroutine) hands a fresh Waiter to the
	// applier goroutine without either side needing a mutex.
	commitWaiters  *waiterTable
	applyWaiters   *waiterTable
	awaitedIndexes *awaitedIndexes
	waiterRegister chan waiterRegistration
	awaitRegister  chan awaitRequest

	// Owned exclusively by the I/O goroutine. startReadBarrierRegister is
	// how ReadBarrier asks it to call FSM.StartReadBarrier and register the
	// resulting ReadRequest — both on the I/O goroutine, in the same select
	// iteration, so a quorum-watermark batch the call itself produces can
	// never be processed before the ReadRequest it belongs to is in the
	// table (spec §4.2 step 8).
	readRequests             *readRequestTable
	startReadBarrierRegister chan *startReadBarrierCall
	snapshotTransfers        *snapshotTransfers
	perDestChains            *perDestChains
	rpcConfiguration         map[driverpb.ServerID]struct{}
	lastStableIndex          driverpb.Index
	pendingRemovals          []driverpb.ServerID

	// stepdownPending tracks the single in-flight Stepdown call, if any;
	// touched only by the I/O goroutine. stepdownRegister is how Stepdown
	// hands a new request to it.
	stepdownPending  *stepdownRequest
	stepdownRegister chan stepdownStart

	// leaderWaiters are resolved by the I/O goroutine once a leader
	// becomes known, used by ReadBarrier to avoid busy polling.
	leaderMu struct {
		syncutil.Mutex
		waiters []chan struct{}
	}

	// incomingSnapshots tracks at most one outstanding
	// IncomingSnapshotApplication per sender (spec §4.4 "Incoming").
	incomingMu struct {
		syncutil.Mutex
		bySender map[driverpb.ServerID]*incomingSnapshotApplication
	}
	pendingImages *pendingImages

	applierCh           chan applierItem
	snapshotCompletions chan snapshotCompletion

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type stepdownRequest struct {
	done chan outcome
}

// awaitRequest hands a fresh "wake me when AppliedIndex >= target" channel
// to the applier goroutine, the sole owner of awaitedIndexes. The channel
// is created by the caller so ReadBarrier (or any future caller) can
// select on it immediately after submitting the registration.
type awaitRequest struct {
	target driverpb.Index
	ch     chan struct{}
}

// startReadBarrierCall is how ReadBarrier (or HandleReadBarrier) asks the
// I/O goroutine to call FSM.StartReadBarrier on its behalf.
type startReadBarrierCall struct {
	done chan startReadBarrierResult
}

type startReadBarrierResult struct {
	ready bool
	req   *readRequest
	err   error
}

// New validates cfg and returns an unstarted Driver.
func New(cfg Config) (*Driver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		cfg:               cfg,
		log:               logutil.WithTags(context.Background(), "r", cfg.ID.String()),
		metrics:           newMetrics(),
		sem:               newLogSizeSemaphore(cfg.MaxLogSize),
		commitWaiters:     newWaiterTable(),
		applyWaiters:      newWaiterTable(),
		awaitedIndexes:    newAwaitedIndexes(),
		readRequests:      newReadRequestTable(),
		snapshotTransfers: newSnapshotTransfers(),
		perDestChains:     newPerDestChains(),
		rpcConfiguration:  make(map[driverpb.ServerID]struct{}),
		applierCh:                make(chan applierItem, cfg.ApplierQueueCapacity),
		waiterRegister:           make(chan waiterRegistration),
		awaitRegister:            make(chan awaitRequest),
		startReadBarrierRegister: make(chan *startReadBarrierCall),
		stepdownRegister:         make(chan stepdownStart),
		snapshotCompletions:      make(chan snapshotCompletion, 8),
		stopCh:                   make(chan struct{}),
	}
	d.metrics.registerWith(cfg.Registry)
	d.incomingMu.bySender = make(map[driverpb.ServerID]*incomingSnapshotApplication)
	d.pendingImages = newPendingImages()
	return d, nil
}

// Start loads persisted state, seeds the transport's address map, and
// launches the I/O and applier activities (spec §4.1 "On start").
func (d *Driver) Start(ctx context.Context) error {
	tv, err := d.cfg.Storage.TermVote(ctx)
	if err != nil {
		return err
	}

	snp, hasSnp, err := d.cfg.Storage.Snapshot(ctx)
	if err != nil {
		return err
	}
	last, err := d.cfg.Storage.LastIndex(ctx)
	if err != nil {
		return err
	}
	d.lastStableIndex = last

	// The log tail is everything persisted after the snapshot's index (or
	// from the very beginning if there is no snapshot yet) through the
	// last persisted index (spec §4.1 "On start": load the log tail from
	// persistence and instantiate the FSM with it).
	tailFrom := driverpb.Index(0)
	if hasSnp {
		tailFrom = snp.Index
	}
	logTail, err := d.cfg.Storage.Entries(ctx, tailFrom+1, last+1)
	if err != nil {
		return err
	}
	if err := d.cfg.FSM.LoadState(tv, hasSnp, snp, logTail); err != nil {
		return err
	}

	conf := d.cfg.FSM.CurrentConfiguration()
	if hasSnp {
		// The application state machine is expected to durably persist
		// its own state across restarts (out of scope for this module,
		// see pkg/statemachine); the descriptor here is bookkeeping the
		// driver uses to know where AppliedIndex resumes from.
		conf = snp.Configuration
		d.appliedMu.Lock()
		d.appliedMu.appliedIndex = snp.Index
		d.appliedMu.lastSnapshotIndex = snp.Index
		d.appliedMu.Unlock()
	}
	d.seedRPCConfiguration(ctx, conf)

	d.wg.Add(2)
	if err := d.cfg.Stopper.RunAsyncTask(ctx, "raftdriver.io", func(taskCtx context.Context) { d.ioLoop(taskCtx) }); err != nil {
		d.wg.Add(-2)
		return err
	}
	if err := d.cfg.Stopper.RunAsyncTask(ctx, "raftdriver.applier", func(taskCtx context.Context) { d.applierLoop(taskCtx) }); err != nil {
		d.wg.Add(-1)
		close(d.stopCh)
		return err
	}

	logutil.Infof(d.log, "driver started, last_stable=%d, applied=%d", d.lastStableIndex, d.appliedIndexLocked())
	return nil
}

func (d *Driver) appliedIndexLocked() driverpb.Index {
	d.appliedMu.Lock()
	defer d.appliedMu.Unlock()
	return d.appliedMu.appliedIndex
}

// AppliedIndex returns the highest index delivered to the application
// state machine so far (spec §3).
func (d *Driver) AppliedIndex() driverpb.Index {
	return d.appliedIndexLocked()
}

func (d *Driver) seedRPCConfiguration(ctx context.Context, conf driverpb.Configuration) {
	for _, id := range conf.AddressUnion() {
		if _, present := d.rpcConfiguration[id]; present {
			continue
		}
		d.rpcConfiguration[id] = struct{}{}
		if err := d.cfg.Transport.AddServer(ctx, id); err != nil {
			logutil.Warningf(d.log, "start: transport AddServer(%s) failed: %v", id, err)
		}
	}
}

// Stop is spec §4.1's abort(): the single shutdown path.
func (d *Driver) Stop(ctx context.Context) {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.cfg.FSM.Stop()
		close(d.applierCh)
		d.wg.Wait()

		// Transport and StateMachine carry no Close/Abort contract in this
		// module (see DESIGN.md): the in-process local.Transport and
		// memkv.KV hold no external resources, so peers simply stop
		// hearing from this replica once its goroutines exit above.
		// Storage is the one collaborator the driver owns outright.
		if err := d.cfg.Storage.Close(); err != nil {
			logutil.Errorf(d.log, "driver: closing storage failed: %v", err)
		}

		d.commitWaiters.dropAll(ErrStopped)
		d.applyWaiters.dropAll(ErrStopped)
		d.readRequests.resolveAllNotLeader(driverpb.ServerID{}, false)
		d.awaitedIndexes.signalAll()
		if d.stepdownPending != nil {
			resolveStepdown(d.stepdownPending, outcome{err: ErrStopped})
			d.stepdownPending = nil
		}
		d.incomingMu.Lock()
		for sender, app := range d.incomingMu.bySender {
			app.done <- outcome{err: ErrStopped}
			close(app.done)
			delete(d.incomingMu.bySender, sender)
		}
		d.incomingMu.Unlock()

		d.snapshotTransfers.abortAll()
		d.snapshotTransfers.awaitAborted()
		d.perDestChains.stopAll()

		logutil.Infof(d.log, "driver stopped")
	})
}

func resolveStepdown(r *stepdownRequest, o outcome) {
	r.done <- o
	close(r.done)
}
