// Package sequencer linearizes all outbound ledger writes from this process.
// The ledger requires monotonically ordered writes from a single signing
// identity; parallel submission would race on nonces, so every write is
// funneled through one worker that runs units strictly in submission order.
package sequencer

import (
	"context"
	"fmt"
	"time"

	"cosmossdk.io/log"
	"github.com/cometbft/cometbft/libs/service"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultTimeout bounds a single unit of work. A unit that exceeds it
	// is reported failed; the worker moves on to the next unit.
	DefaultTimeout = 45 * time.Second

	defaultQueueDepth = 256
)

// Unit is one ledger write to perform. It must honor ctx cancellation.
type Unit func(ctx context.Context) (common.Hash, error)

// Outcome reports how a unit settled. TxHash may be set even on error when
// the transaction was sent but confirmation failed.
type Outcome struct {
	TxHash common.Hash
	Err    error
}

type item struct {
	label string
	run   Unit
	res   chan Outcome
}

// Sequencer runs submitted units one at a time, in submission order. A unit
// that errors, panics, or times out is reported and logged but never blocks
// or corrupts the units queued behind it. There is no durable queue: pending
// work is lost on process restart (at-most-once, best effort).
type Sequencer struct {
	service.BaseService

	logger  log.Logger
	timeout time.Duration
	queue   chan item
}

func New(logger log.Logger, timeout time.Duration) *Sequencer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Sequencer{
		logger:  logger.With("module", "sequencer"),
		timeout: timeout,
		queue:   make(chan item, defaultQueueDepth),
	}
	s.BaseService = *service.NewBaseService(nil, "Sequencer", s)
	return s
}

// Enqueue appends a unit to the chain. The returned channel receives exactly
// one Outcome once the unit settles. Callers that do not care about the
// outcome may drop the channel; it is buffered and never blocks the worker.
func (s *Sequencer) Enqueue(label string, run Unit) (<-chan Outcome, error) {
	if !s.IsRunning() {
		return nil, fmt.Errorf("sequencer not running")
	}
	it := item{label: label, run: run, res: make(chan Outcome, 1)}
	select {
	case s.queue <- it:
		return it.res, nil
	default:
		return nil, fmt.Errorf("sequencer queue full (%d pending)", cap(s.queue))
	}
}

func (s *Sequencer) OnStart() error {
	go s.loop()
	return nil
}

func (s *Sequencer) OnStop() {}

func (s *Sequencer) loop() {
	for {
		select {
		case it := <-s.queue:
			it.res <- s.process(it)
		case <-s.Quit():
			s.drain()
			return
		}
	}
}

// drain runs whatever was queued before the stop so accepted writes still
// reach the ledger during shutdown.
func (s *Sequencer) drain() {
	for {
		select {
		case it := <-s.queue:
			it.res <- s.process(it)
		default:
			return
		}
	}
}

// process runs a single unit under the per-unit timeout. The unit executes
// in its own goroutine so a unit that ignores ctx cannot wedge the worker;
// on timeout it is abandoned and reported failed.
func (s *Sequencer) process(it item) Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Outcome{Err: fmt.Errorf("%s: panic: %v", it.label, r)}
			}
		}()
		hash, err := it.run(ctx)
		done <- Outcome{TxHash: hash, Err: err}
	}()

	select {
	case out := <-done:
		if out.Err != nil {
			s.logger.Error("ledger write failed", "label", it.label, "err", out.Err)
		} else {
			s.logger.Debug("ledger write settled", "label", it.label, "tx", out.TxHash.Hex())
		}
		return out
	case <-ctx.Done():
		s.logger.Error("ledger write timed out", "label", it.label, "timeout", s.timeout)
		return Outcome{Err: fmt.Errorf("%s: %w", it.label, ctx.Err())}
	}
}
