// Package jobs runs the relay's periodic reconciliation work: sweeping
// abandoned sessions, finalizing expired tournaments, claiming accrued
// operator fees, and watching the operator's funding balance. Each pass is
// independent and best effort; a failed pass is logged and retried on the
// next tick.
package jobs

import (
	"context"
	"math/big"
	"sync"
	"time"

	"cosmossdk.io/log"
	"github.com/cometbft/cometbft/libs/service"
	"github.com/ethereum/go-ethereum/common"

	"github.com/agentc22/mega-rally/internal/ledger"
	"github.com/agentc22/mega-rally/internal/sequencer"
)

const ModuleName = "jobs"

const (
	// DefaultSweepInterval paces the stale-session sweep. Sessions are only
	// stale MaxDuration after they start, so a coarse tick is plenty.
	DefaultSweepInterval = 30 * time.Second

	// DefaultFinalizeInterval paces the expired-tournament scan.
	DefaultFinalizeInterval = 30 * time.Second

	// DefaultClaimInterval paces fee claims and the balance check. Fees
	// accrue slowly; claiming often just burns gas.
	DefaultClaimInterval = 5 * time.Minute

	// DefaultSweepGrace is added on top of the session duration cap before a
	// session counts as abandoned, covering slow crash frames in flight.
	DefaultSweepGrace = 10 * time.Second

	readTimeout = 15 * time.Second
)

// Sessions is the registry surface the sweeper drives.
type Sessions interface {
	SweepStale(grace time.Duration) int
}

// Ledger is the slice of the ledger client the reconciler reads from.
// Writes do not go through this interface; they are queued on the sequencer
// like every other ledger write.
type Ledger interface {
	TournamentCount(ctx context.Context) (uint64, error)
	Tournament(ctx context.Context, id uint64) (ledger.Tournament, error)
	PendingFees(ctx context.Context, operator common.Address) (*big.Int, error)
	OperatorBalance(ctx context.Context) (*big.Int, error)
	FinalizeTournament(ctx context.Context, id uint64) (common.Hash, error)
	ClaimFees(ctx context.Context) (common.Hash, error)
	Operator() common.Address
}

// Enqueuer hands reconciliation writes to the transaction sequencer.
type Enqueuer interface {
	Enqueue(label string, run sequencer.Unit) (<-chan sequencer.Outcome, error)
}

type Config struct {
	SweepInterval    time.Duration
	FinalizeInterval time.Duration
	ClaimInterval    time.Duration
	SweepGrace       time.Duration

	// MinBalance is the operator balance below which the reconciler starts
	// warning. Nil disables the check.
	MinBalance *big.Int
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.FinalizeInterval <= 0 {
		c.FinalizeInterval = DefaultFinalizeInterval
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = DefaultClaimInterval
	}
	if c.SweepGrace <= 0 {
		c.SweepGrace = DefaultSweepGrace
	}
}

type Reconciler struct {
	service.BaseService

	logger   log.Logger
	cfg      Config
	sessions Sessions
	ledger   Ledger
	seq      Enqueuer

	mtx sync.Mutex
	// finalizing holds tournament ids with a finalize write in flight, so
	// one slow confirmation cannot queue the same finalize twice.
	finalizing map[uint64]struct{}
	claiming   bool
}

func NewReconciler(logger log.Logger, cfg Config, sessions Sessions, l Ledger, seq Enqueuer) *Reconciler {
	cfg.applyDefaults()
	r := &Reconciler{
		logger:     logger.With("module", ModuleName),
		cfg:        cfg,
		sessions:   sessions,
		ledger:     l,
		seq:        seq,
		finalizing: make(map[uint64]struct{}),
	}
	r.BaseService = *service.NewBaseService(nil, "Reconciler", r)
	return r
}

func (r *Reconciler) OnStart() error {
	go r.loop()
	return nil
}

func (r *Reconciler) OnStop() {}

func (r *Reconciler) loop() {
	sweep := time.NewTicker(r.cfg.SweepInterval)
	finalize := time.NewTicker(r.cfg.FinalizeInterval)
	claim := time.NewTicker(r.cfg.ClaimInterval)
	defer sweep.Stop()
	defer finalize.Stop()
	defer claim.Stop()

	r.checkBalance()

	for {
		select {
		case <-sweep.C:
			r.sweep()
		case <-finalize.C:
			r.finalizeExpired()
		case <-claim.C:
			r.claimFees()
			r.checkBalance()
		case <-r.Quit():
			return
		}
	}
}

func (r *Reconciler) sweep() {
	if n := r.sessions.SweepStale(r.cfg.SweepGrace); n > 0 {
		r.logger.Info("swept stale sessions", "count", n)
	}
}

// finalizeExpired scans the tournament table for tournaments past their end
// time that are not yet finalized and queues a finalize write for each.
// Tournament ids are 1-based and dense on the contract.
func (r *Reconciler) finalizeExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	count, err := r.ledger.TournamentCount(ctx)
	if err != nil {
		r.logger.Error("tournament count", "err", err)
		return
	}

	now := time.Now()
	for id := uint64(1); id <= count; id++ {
		tour, err := r.ledger.Tournament(ctx, id)
		if err != nil {
			r.logger.Error("read tournament", "id", id, "err", err)
			continue
		}
		if !tour.Exists() || tour.Ended || !tour.Expired(now) {
			continue
		}
		r.queueFinalize(id)
	}
}

func (r *Reconciler) queueFinalize(id uint64) {
	r.mtx.Lock()
	if _, inflight := r.finalizing[id]; inflight {
		r.mtx.Unlock()
		return
	}
	r.finalizing[id] = struct{}{}
	r.mtx.Unlock()

	res, err := r.seq.Enqueue("finalize-tournament", func(ctx context.Context) (common.Hash, error) {
		return r.ledger.FinalizeTournament(ctx, id)
	})
	if err != nil {
		r.logger.Error("queue finalize", "id", id, "err", err)
		r.clearFinalize(id)
		return
	}
	r.logger.Info("finalizing expired tournament", "id", id)

	go func() {
		out := <-res
		r.clearFinalize(id)
		if out.Err != nil {
			r.logger.Error("finalize failed", "id", id, "err", out.Err)
			return
		}
		r.logger.Info("tournament finalized", "id", id, "tx", out.TxHash.Hex())
	}()
}

func (r *Reconciler) clearFinalize(id uint64) {
	r.mtx.Lock()
	delete(r.finalizing, id)
	r.mtx.Unlock()
}

// claimFees withdraws accrued operator fees when there is anything to claim.
func (r *Reconciler) claimFees() {
	r.mtx.Lock()
	if r.claiming {
		r.mtx.Unlock()
		return
	}
	r.mtx.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	pending, err := r.ledger.PendingFees(ctx, r.ledger.Operator())
	if err != nil {
		r.logger.Error("read pending fees", "err", err)
		return
	}
	if pending.Sign() <= 0 {
		return
	}

	res, err := r.seq.Enqueue("claim-fees", func(ctx context.Context) (common.Hash, error) {
		return r.ledger.ClaimFees(ctx)
	})
	if err != nil {
		r.logger.Error("queue claim", "err", err)
		return
	}
	r.mtx.Lock()
	r.claiming = true
	r.mtx.Unlock()
	r.logger.Info("claiming fees", "pending", pending)

	go func() {
		out := <-res
		r.mtx.Lock()
		r.claiming = false
		r.mtx.Unlock()
		if out.Err != nil {
			r.logger.Error("claim failed", "err", out.Err)
			return
		}
		r.logger.Info("fees claimed", "tx", out.TxHash.Hex())
	}()
}

// checkBalance warns when the operator account is running out of gas money.
// Every relay write spends from this account; an empty account silently
// stops the whole pipeline.
func (r *Reconciler) checkBalance() {
	if r.cfg.MinBalance == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	balance, err := r.ledger.OperatorBalance(ctx)
	if err != nil {
		r.logger.Error("read operator balance", "err", err)
		return
	}
	if balance.Cmp(r.cfg.MinBalance) < 0 {
		r.logger.Warn("operator balance low",
			"balance", balance, "min", r.cfg.MinBalance,
			"operator", r.ledger.Operator().Hex())
	}
}
