// Package coordinator assembles the marketplace core: stake registry, worker
// directory, job ledger, dispatcher, and settlement engine, bound together by
// the event bus and the worker transport.
package coordinator

import (
	"context"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridmesh/gridmesh/core/directory"
	"github.com/gridmesh/gridmesh/core/dispatch"
	"github.com/gridmesh/gridmesh/core/escrow"
	"github.com/gridmesh/gridmesh/core/events"
	"github.com/gridmesh/gridmesh/core/ledger"
	"github.com/gridmesh/gridmesh/core/settle"
	"github.com/gridmesh/gridmesh/core/stake"
	"github.com/gridmesh/gridmesh/core/types"
	"github.com/gridmesh/gridmesh/pkg/logger"
	"github.com/gridmesh/gridmesh/transport"
)

// Archiver persists terminal records as they settle. Implemented by the
// PostgreSQL archive; nil disables archival.
type Archiver interface {
	SaveSettlement(ctx context.Context, rec types.SettlementRecord) error
	SaveJob(ctx context.Context, job *types.Job) error
	SaveSlash(ctx context.Context, rec types.SlashRecord) error
}

// Config carries the pieces a Coordinator cannot build itself.
type Config struct {
	Params     types.Params
	Address    string        // this coordinator's transport address
	Escrow     escrow.Ledger // nil defaults to the in-memory ledger
	Verifier   settle.Verifier
	Archive    Archiver
	Transport  transport.Sender
	Registerer prometheus.Registerer
	Logger     *logger.Logger
}

// Coordinator is the assembled node. Everything below it is owned state;
// external surfaces (API, transport) talk to the Coordinator, never to the
// parts directly.
type Coordinator struct {
	params  types.Params
	escrow  escrow.Ledger
	stakes  *stake.Registry
	dir     *directory.Directory
	ledger  *ledger.Ledger
	disp    *dispatch.Dispatcher
	engine  *settle.Engine
	bus     *events.Bus
	router  *transport.Router
	sender  transport.Sender
	archive Archiver
	logger  *logger.Logger
	address string

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Coordinator from its configuration.
func New(cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = logger.New("coordinator")
	}
	esc := cfg.Escrow
	if esc == nil {
		esc = escrow.NewMemLedger()
	}
	verifier := cfg.Verifier
	if verifier == nil {
		verifier = settle.AttestedResultVerifier{}
	}

	c := &Coordinator{
		params:  cfg.Params,
		escrow:  esc,
		bus:     events.NewBus(log.With("part", "bus")),
		sender:  cfg.Transport,
		archive: cfg.Archive,
		logger:  log,
		address: cfg.Address,
		now:     time.Now,
	}

	emit := c.bus.Publish

	c.stakes = stake.NewRegistry(cfg.Params, log.With("part", "stake"),
		stake.WithEmitter(emit))
	c.dir = directory.New(cfg.Params, c.stakes, log.With("part", "directory"),
		directory.WithEmitter(emit))
	c.ledger = ledger.New(cfg.Params, esc, c.stakes, log.With("part", "ledger"),
		ledger.WithEmitter(emit))
	c.stakes.SetActivityChecker(c.ledger)

	dispOpts := []dispatch.Option{dispatch.WithOfferSender(c)}
	if cfg.Registerer != nil {
		dispOpts = append(dispOpts, dispatch.WithMetrics(dispatch.NewMetrics(cfg.Registerer)))
	}
	c.disp = dispatch.New(cfg.Params, c.ledger, c.dir, log.With("part", "dispatch"), dispOpts...)

	settleOpts := []settle.Option{}
	if cfg.Registerer != nil {
		settleOpts = append(settleOpts, settle.WithMetrics(settle.NewMetrics(cfg.Registerer)))
	}
	c.engine = settle.New(cfg.Params, c.ledger, esc, c.stakes, c.dir, verifier,
		log.With("part", "settle"), settleOpts...)

	c.router = transport.NewRouter(time.Minute, log.With("part", "router"))
	c.registerHandlers()

	return c
}

// Start launches the directory sweep, dispatcher loops, settlement engine,
// archive subscriber, and retention loop.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.dir.Start(ctx)
	c.disp.Start(ctx)
	c.engine.Start(ctx)

	c.wg.Add(2)
	go c.runArchiver(ctx)
	go c.runRetention(ctx)

	if attachable, ok := c.sender.(interface {
		Attach(addr string, r *transport.Router)
	}); ok {
		attachable.Attach(c.address, c.router)
	}

	c.logger.Info("coordinator started", "address", c.address)
}

// Stop shuts everything down in dependency order.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.disp.Stop()
	c.engine.Stop()
	c.dir.Stop()
	c.wg.Wait()
	c.logger.Info("coordinator stopped")
}

// Router exposes the inbound message router for transport attachment.
func (c *Coordinator) Router() *transport.Router { return c.router }

// Bus exposes the event bus for external subscribers.
func (c *Coordinator) Bus() *events.Bus { return c.bus }

// --- job operations ---

// SubmitJob creates a job, locks its escrow, and queues it for matching.
func (c *Coordinator) SubmitJob(ctx context.Context, requester string, req types.Requirements, payloadRef string, escrowAmt math.Int, expiresAt time.Time) (*types.Job, error) {
	job, err := c.ledger.Create(requester, req, payloadRef, escrowAmt, expiresAt)
	if err != nil {
		return nil, err
	}
	if err := c.ledger.Fund(ctx, job.ID, escrowAmt); err != nil {
		return nil, err
	}
	c.disp.Enqueue(job.ID)
	c.announce(ctx, job)
	return c.ledger.Job(job.ID)
}

// CancelJob aborts a job that has not been assigned yet.
func (c *Coordinator) CancelJob(ctx context.Context, jobID types.JobID) error {
	return c.ledger.Cancel(ctx, jobID)
}

// Job returns a job snapshot.
func (c *Coordinator) Job(jobID types.JobID) (*types.Job, error) { return c.ledger.Job(jobID) }

// Jobs returns every live job, oldest first.
func (c *Coordinator) Jobs() []*types.Job { return c.ledger.Jobs() }

// Assignments returns the assignment history for a job.
func (c *Coordinator) Assignments(jobID types.JobID) ([]*types.Assignment, error) {
	return c.ledger.Assignments(jobID)
}

// Settlement returns the terminal record for a settled job.
func (c *Coordinator) Settlement(jobID types.JobID) (*types.SettlementRecord, error) {
	return c.ledger.SettlementRecord(jobID)
}

// --- worker operations ---

// Workers lists the directory.
func (c *Coordinator) Workers() []*types.Worker { return c.dir.Workers() }

// Worker returns one directory entry.
func (c *Coordinator) Worker(id types.WorkerID) (*types.Worker, error) { return c.dir.Worker(id) }

// --- stake operations ---

// Stake locks additional collateral for a worker.
func (c *Coordinator) Stake(worker types.WorkerID, amount math.Int) (types.StakeAccount, error) {
	return c.stakes.Stake(worker, amount)
}

// RequestUnstake starts the unbonding clock on part of a worker's stake.
func (c *Coordinator) RequestUnstake(worker types.WorkerID, amount math.Int) (types.StakeAccount, error) {
	return c.stakes.RequestUnstake(worker, amount)
}

// FinalizeUnstake releases unbonded collateral once the cooldown elapses.
func (c *Coordinator) FinalizeUnstake(worker types.WorkerID) (math.Int, error) {
	return c.stakes.FinalizeUnstake(worker)
}

// SlashWorker applies an operator-initiated slash against a worker's locked
// collateral and returns the amount actually cut.
func (c *Coordinator) SlashWorker(worker types.WorkerID, amount math.Int) (math.Int, error) {
	return c.stakes.Slash(worker, amount, "", types.SlashReasonOperator)
}

// StakeAccount returns a worker's collateral record.
func (c *Coordinator) StakeAccount(worker types.WorkerID) (types.StakeAccount, error) {
	return c.stakes.Account(worker)
}

// SlashHistory returns the in-memory slash trail for a worker.
func (c *Coordinator) SlashHistory(worker types.WorkerID) []types.SlashRecord {
	return c.stakes.SlashHistory(worker)
}

// --- background loops ---

// runArchiver drains the event bus into the archive store.
func (c *Coordinator) runArchiver(ctx context.Context) {
	defer c.wg.Done()

	ch, cancel := c.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			c.persistEvent(ctx, ev)
		}
	}
}

func (c *Coordinator) persistEvent(ctx context.Context, ev types.Event) {
	if c.archive == nil {
		return
	}
	switch e := ev.(type) {
	case types.EventSettled:
		if err := c.archive.SaveSettlement(ctx, e.Record); err != nil {
			c.logger.Error("failed to archive settlement", "job_id", e.Record.JobID, "error", err)
			return
		}
		if job, err := c.ledger.Job(e.Record.JobID); err == nil {
			if err := c.archive.SaveJob(ctx, job); err != nil {
				c.logger.Error("failed to archive job", "job_id", job.ID, "error", err)
			}
		}
	case types.EventSlashed:
		if err := c.archive.SaveSlash(ctx, e.Record); err != nil {
			c.logger.Error("failed to archive slash", "worker_id", e.Record.WorkerID, "error", err)
		}
	case types.EventJobExpired:
		if job, err := c.ledger.Job(e.JobID); err == nil {
			if err := c.archive.SaveJob(ctx, job); err != nil {
				c.logger.Error("failed to archive job", "job_id", job.ID, "error", err)
			}
		}
	}
}

// runRetention prunes settled jobs past the retention window, then drops the
// settlement engine's matching replay markers.
func (c *Coordinator) runRetention(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.params.RetentionWindow / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned := c.ledger.PruneSettled(c.now())
			c.engine.PruneProcessed()
			if len(pruned) > 0 {
				c.logger.Info("pruned settled jobs", "count", len(pruned))
			}
		}
	}
}
