// Package directory maintains the live, eventually-consistent index of
// online workers and their advertised capabilities. It is a cache built from
// heartbeats and advertisements; stake and tier always come from the registry.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
)

// TierSource resolves a worker's live tier. Backed by the stake registry.
type TierSource interface {
	Tier(worker types.WorkerID) int
}

// EmitFunc receives directory events after the mutation commits.
type EmitFunc func(types.Event)

// Directory is the owned worker table. All mutation routes through methods
// so the freshness and absence invariants hold.
type Directory struct {
	params types.Params
	tiers  TierSource
	emit   EmitFunc
	logger *logger.Logger
	now    func() time.Time

	mu      sync.RWMutex
	workers map[types.WorkerID]*types.Worker

	sweepInterval time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Option customizes directory construction.
type Option func(*Directory)

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// WithEmitter attaches an event sink.
func WithEmitter(emit EmitFunc) Option {
	return func(d *Directory) { d.emit = emit }
}

// WithSweepInterval overrides the aging sweep cadence.
func WithSweepInterval(iv time.Duration) Option {
	return func(d *Directory) { d.sweepInterval = iv }
}

// New creates a worker directory backed by the given tier source.
func New(params types.Params, tiers TierSource, log *logger.Logger, opts ...Option) *Directory {
	d := &Directory{
		params:        params,
		tiers:         tiers,
		logger:        log,
		now:           time.Now,
		workers:       make(map[types.WorkerID]*types.Worker),
		sweepInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the background aging sweep. Restartable after Stop.
func (d *Directory) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.SweepAbsent()
			}
		}
	}()
	d.logger.Info("directory aging sweep started", "interval", d.sweepInterval)
}

// Stop cancels the aging sweep and waits for it to exit.
func (d *Directory) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Advertise registers or refreshes a worker's capability set. An
// advertisement also counts as a heartbeat.
func (d *Directory) Advertise(worker types.WorkerID, pubKey []byte, caps types.CapabilitySet) error {
	if worker == "" {
		return types.ErrInvalidRequest.Wrap("worker id must not be empty")
	}
	if len(caps) == 0 {
		return types.ErrInvalidRequest.Wrap("capability set must not be empty")
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.workers[worker]
	if !ok {
		w = &types.Worker{
			ID:           worker,
			Reputation:   types.ReputationInitial,
			RegisteredAt: now,
		}
		d.workers[worker] = w
		d.logger.Info("worker registered", "worker", worker, "capabilities", caps.String())
	}
	w.PublicKey = append([]byte(nil), pubKey...)
	w.Capabilities = caps.Clone()
	w.LastHeartbeat = now
	return nil
}

// Heartbeat refreshes a worker's liveness window. Heartbeats from unknown
// workers are dropped; an advertisement must arrive first.
func (d *Directory) Heartbeat(worker types.WorkerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[worker]
	if !ok {
		return types.ErrWorkerNotFound.Wrapf("worker %s", worker)
	}
	w.LastHeartbeat = d.now()
	return nil
}

// PublicKey returns the worker's registered key for signature checks.
func (d *Directory) PublicKey(worker types.WorkerID) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workers[worker]
	if !ok {
		return nil, types.ErrWorkerNotFound.Wrapf("worker %s", worker)
	}
	return append([]byte(nil), w.PublicKey...), nil
}

// Worker returns a copy of the directory entry.
func (d *Directory) Worker(worker types.WorkerID) (*types.Worker, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workers[worker]
	if !ok {
		return nil, types.ErrWorkerNotFound.Wrapf("worker %s", worker)
	}
	return w.Clone(), nil
}

// Workers returns copies of all directory entries, fresh or stale.
func (d *Directory) Workers() []*types.Worker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*types.Worker, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w.Clone())
	}
	return out
}

// RecordAssignment stamps the worker's last-assignment time so ranking
// spreads load toward idle workers.
func (d *Directory) RecordAssignment(worker types.WorkerID, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.workers[worker]; ok {
		w.LastAssigned = at
	}
}

// AdjustReputation moves the worker's score by delta, clamped to bounds.
// Only settlement outcomes call this.
func (d *Directory) AdjustReputation(worker types.WorkerID, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.workers[worker]; ok {
		w.Reputation = types.ClampReputation(w.Reputation + delta)
	}
}

// SweepAbsent removes workers silent past the absence window. Workers merely
// past the freshness window stay; they are only excluded from matching.
func (d *Directory) SweepAbsent() {
	now := d.now()
	var aged []types.WorkerID

	d.mu.Lock()
	for id, w := range d.workers {
		if now.Sub(w.LastHeartbeat) > d.params.AbsenceWindow {
			delete(d.workers, id)
			aged = append(aged, id)
		}
	}
	d.mu.Unlock()

	for _, id := range aged {
		d.logger.Info("worker aged out", "worker", id)
		if d.emit != nil {
			d.emit(types.EventWorkerAged{At: now, WorkerID: id})
		}
	}
}
