// Package session owns the live gameplay sessions: one per authenticated
// player, created after a preflight check against the ledger and destroyed
// when the attempt ends or times out. All mutation goes through the Registry;
// no other component holds references into the table.
package session

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"cosmossdk.io/log"
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/agentc22/mega-rally/internal/ledger"
	"github.com/agentc22/mega-rally/internal/score"
	"github.com/agentc22/mega-rally/internal/sequencer"
)

const ModuleName = "session"

const (
	// MinObstacleGap is the minimum interval between accepted obstacles.
	// Anything faster than this is physically impossible in the game and
	// is dropped as cheating or replay noise.
	MinObstacleGap = 300 * time.Millisecond

	// MaxDuration mirrors the score engine's elapsed-time cap; sessions
	// older than this stop accepting obstacles and are swept.
	MaxDuration = score.MaxSessionDuration
)

// Ledger is the slice of the ledger client the registry needs.
type Ledger interface {
	Tournament(ctx context.Context, id uint64) (ledger.Tournament, error)
	Entry(ctx context.Context, id uint64, player common.Address) (ledger.Entry, error)
	AttemptsPerTicket(ctx context.Context) (*big.Int, error)
	StartAttempt(ctx context.Context, id uint64, player common.Address) (common.Hash, error)
	RecordObstacle(ctx context.Context, id uint64, player common.Address, obstacleID uint64) (common.Hash, error)
	SubmitScore(ctx context.Context, id uint64, player common.Address, score int64) (common.Hash, error)
}

// Enqueuer hands ledger writes to the transaction sequencer.
type Enqueuer interface {
	Enqueue(label string, run sequencer.Unit) (<-chan sequencer.Outcome, error)
}

// PlayerSession tracks one in-progress attempt.
type PlayerSession struct {
	Player       common.Address
	TournamentID uint64
	StartedAt    time.Time
	LastObstacle time.Time
	Obstacles    []uint64

	seen map[uint64]struct{}

	// active flips on once the preflight check passes. A reserved but
	// inactive entry still blocks duplicate Begin calls.
	active bool
}

type Registry struct {
	logger log.Logger
	ledger Ledger
	seq    Enqueuer
	now    func() time.Time

	mtx      sync.Mutex
	sessions map[common.Address]*PlayerSession
}

func NewRegistry(logger log.Logger, l Ledger, seq Enqueuer) *Registry {
	return &Registry{
		logger:   logger.With("module", ModuleName),
		ledger:   l,
		seq:      seq,
		now:      time.Now,
		sessions: make(map[common.Address]*PlayerSession),
	}
}

// Begin validates a start-attempt request against the ledger and creates the
// session. The duplicate-session guard reserves the player's slot before the
// ledger reads suspend this goroutine, so a concurrent Begin for the same
// player always hits ErrSessionAlreadyActive rather than racing the
// preflight.
//
// The returned channel settles once the begin-attempt write is on the wire;
// the caller may drop it (failures are logged by the sequencer).
func (r *Registry) Begin(ctx context.Context, player common.Address, tournamentID uint64) (<-chan sequencer.Outcome, error) {
	r.mtx.Lock()
	if _, ok := r.sessions[player]; ok {
		r.mtx.Unlock()
		return nil, ErrSessionAlreadyActive
	}
	r.sessions[player] = &PlayerSession{Player: player, TournamentID: tournamentID}
	r.mtx.Unlock()

	if err := r.preflight(ctx, player, tournamentID); err != nil {
		r.release(player)
		return nil, err
	}

	r.mtx.Lock()
	s := r.sessions[player]
	s.StartedAt = r.now()
	s.seen = make(map[uint64]struct{})
	s.active = true
	r.mtx.Unlock()

	res, err := r.seq.Enqueue("start-attempt", func(ctx context.Context) (common.Hash, error) {
		return r.ledger.StartAttempt(ctx, tournamentID, player)
	})
	if err != nil {
		r.release(player)
		return nil, ErrSubmit.Wrap(err.Error())
	}

	r.logger.Info("attempt started", "player", addr(player), "tournament", tournamentID)
	return res, nil
}

func (r *Registry) preflight(ctx context.Context, player common.Address, tournamentID uint64) error {
	tour, err := r.ledger.Tournament(ctx, tournamentID)
	if err != nil {
		return ErrPreflight.Wrap(err.Error())
	}
	if !tour.Exists() {
		return ErrTournamentNotFound.Wrapf("tournament %d", tournamentID)
	}
	if tour.Ended {
		return ErrTournamentEnded.Wrapf("tournament %d", tournamentID)
	}
	if tour.Expired(r.now()) {
		return ErrTournamentExpired.Wrapf("tournament %d", tournamentID)
	}

	entry, err := r.ledger.Entry(ctx, tournamentID, player)
	if err != nil {
		return ErrPreflight.Wrap(err.Error())
	}
	perTicket, err := r.ledger.AttemptsPerTicket(ctx)
	if err != nil {
		return ErrPreflight.Wrap(err.Error())
	}

	used := sdkmath.NewIntFromBigInt(entry.AttemptsUsed)
	allowed := sdkmath.NewIntFromBigInt(entry.Tickets).Mul(sdkmath.NewIntFromBigInt(perTicket))
	if used.GTE(allowed) {
		return ErrNoAttemptsLeft.Wrapf("used %s of %s", used, allowed)
	}
	return nil
}

func (r *Registry) release(player common.Address) {
	r.mtx.Lock()
	delete(r.sessions, player)
	r.mtx.Unlock()
}

// RecordObstacle appends an obstacle to the player's session log. Invalid,
// duplicate, or too-fast obstacles are dropped without error: anti-cheat
// policy, not a protocol failure. Returns whether the obstacle was accepted.
func (r *Registry) RecordObstacle(player common.Address, obstacleID uint64) bool {
	r.mtx.Lock()
	s, ok := r.sessions[player]
	if !ok || !s.active {
		r.mtx.Unlock()
		return false
	}
	now := r.now()
	if obstacleID == 0 ||
		now.Sub(s.StartedAt) > MaxDuration {
		r.mtx.Unlock()
		return false
	}
	if _, dup := s.seen[obstacleID]; dup {
		r.mtx.Unlock()
		return false
	}
	if !s.LastObstacle.IsZero() && now.Sub(s.LastObstacle) < MinObstacleGap {
		r.mtx.Unlock()
		return false
	}
	s.seen[obstacleID] = struct{}{}
	s.Obstacles = append(s.Obstacles, obstacleID)
	s.LastObstacle = now
	tournamentID := s.TournamentID
	r.mtx.Unlock()

	// Fire and forget; the sequencer logs failures.
	_, err := r.seq.Enqueue("record-obstacle", func(ctx context.Context) (common.Hash, error) {
		return r.ledger.RecordObstacle(ctx, tournamentID, player, obstacleID)
	})
	if err != nil {
		r.logger.Error("queue record-obstacle", "player", addr(player), "err", err)
	}
	return true
}

// End closes the player's session, computes the authoritative score, and
// queues the final score submission. Returns false when the player has no
// active session. The returned channel settles once the score write is
// confirmed (or fails); the player must learn about failures.
func (r *Registry) End(player common.Address) (int64, <-chan sequencer.Outcome, bool) {
	r.mtx.Lock()
	s, ok := r.sessions[player]
	if !ok || !s.active {
		r.mtx.Unlock()
		return 0, nil, false
	}
	delete(r.sessions, player)
	elapsed := r.now().Sub(s.StartedAt)
	obstacles := len(s.Obstacles)
	tournamentID := s.TournamentID
	r.mtx.Unlock()

	if elapsed > MaxDuration {
		elapsed = MaxDuration
	}
	final := score.Score(obstacles, elapsed)

	res, err := r.seq.Enqueue("submit-score", func(ctx context.Context) (common.Hash, error) {
		return r.ledger.SubmitScore(ctx, tournamentID, player, final)
	})
	if err != nil {
		// Surface the failure through the same channel shape.
		failed := make(chan sequencer.Outcome, 1)
		failed <- sequencer.Outcome{Err: ErrSubmit.Wrap(err.Error())}
		res = failed
	}

	r.logger.Info("attempt ended",
		"player", addr(player), "tournament", tournamentID,
		"obstacles", obstacles, "elapsed", elapsed, "score", final)
	return final, res, true
}

// SweepStale force-ends every session older than MaxDuration plus grace, as
// if the client had sent the terminating event. Guarantees a score is always
// eventually submitted even when a client vanishes mid-attempt.
func (r *Registry) SweepStale(grace time.Duration) int {
	cutoff := r.now().Add(-(MaxDuration + grace))

	r.mtx.Lock()
	var stale []common.Address
	for player, s := range r.sessions {
		if s.active && s.StartedAt.Before(cutoff) {
			stale = append(stale, player)
		}
	}
	r.mtx.Unlock()

	for _, player := range stale {
		if final, _, ok := r.End(player); ok {
			r.logger.Warn("force-ended stale session", "player", addr(player), "score", final)
		}
	}
	return len(stale)
}

// Len reports the number of tracked sessions, reservations included.
func (r *Registry) Len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.sessions)
}

// addr canonicalizes an address for logs and wire payloads: lowercase hex.
func addr(a common.Address) string {
	return strings.ToLower(a.Hex())
}
