package session

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/agentc22/mega-rally/internal/ledger"
	"github.com/agentc22/mega-rally/internal/score"
	"github.com/agentc22/mega-rally/internal/sequencer"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type entryKey struct {
	id     uint64
	player common.Address
}

type ledgerCall struct {
	method   string
	id       uint64
	player   common.Address
	obstacle uint64
	score    int64
}

// fakeLedger records write calls and serves canned reads.
type fakeLedger struct {
	mu          sync.Mutex
	tournaments map[uint64]ledger.Tournament
	entries     map[entryKey]ledger.Entry
	perTicket   *big.Int
	calls       []ledgerCall

	// blockReads, when non-nil, is received from before any read returns.
	blockReads chan struct{}
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		tournaments: make(map[uint64]ledger.Tournament),
		entries:     make(map[entryKey]ledger.Entry),
		perTicket:   big.NewInt(3),
	}
}

func (f *fakeLedger) waitIfBlocked() {
	if f.blockReads != nil {
		<-f.blockReads
	}
}

func (f *fakeLedger) Tournament(_ context.Context, id uint64) (ledger.Tournament, error) {
	f.waitIfBlocked()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tournaments[id], nil
}

func (f *fakeLedger) Entry(_ context.Context, id uint64, player common.Address) (ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[entryKey{id, player}]
	if !ok {
		return ledger.Entry{Tickets: big.NewInt(0), AttemptsUsed: big.NewInt(0)}, nil
	}
	return e, nil
}

func (f *fakeLedger) AttemptsPerTicket(context.Context) (*big.Int, error) {
	return f.perTicket, nil
}

func (f *fakeLedger) StartAttempt(_ context.Context, id uint64, player common.Address) (common.Hash, error) {
	f.record(ledgerCall{method: "startAttempt", id: id, player: player})
	return common.HexToHash("0x11"), nil
}

func (f *fakeLedger) RecordObstacle(_ context.Context, id uint64, player common.Address, obstacleID uint64) (common.Hash, error) {
	f.record(ledgerCall{method: "recordObstacle", id: id, player: player, obstacle: obstacleID})
	return common.HexToHash("0x22"), nil
}

func (f *fakeLedger) SubmitScore(_ context.Context, id uint64, player common.Address, sc int64) (common.Hash, error) {
	f.record(ledgerCall{method: "submitScore", id: id, player: player, score: sc})
	return common.HexToHash("0x33"), nil
}

func (f *fakeLedger) record(c ledgerCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeLedger) writeCalls() []ledgerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledgerCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// syncEnqueuer runs each unit inline, so tests observe ledger writes
// immediately.
type syncEnqueuer struct{}

func (syncEnqueuer) Enqueue(_ string, run sequencer.Unit) (<-chan sequencer.Outcome, error) {
	res := make(chan sequencer.Outcome, 1)
	hash, err := run(context.Background())
	res <- sequencer.Outcome{TxHash: hash, Err: err}
	return res, nil
}

type fixture struct {
	reg    *Registry
	ledger *fakeLedger
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fl := newFakeLedger()
	fl.tournaments[1] = ledger.Tournament{EndTime: big.NewInt(time.Now().Add(time.Hour).Unix()), PrizePool: big.NewInt(0)}
	fl.entries[entryKey{1, alice}] = ledger.Entry{Tickets: big.NewInt(1), AttemptsUsed: big.NewInt(0)}

	f := &fixture{ledger: fl, now: time.Unix(1_700_000_000, 0)}
	f.reg = NewRegistry(log.NewNopLogger(), fl, syncEnqueuer{})
	f.reg.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestBeginCreatesSessionAndQueuesWrite(t *testing.T) {
	f := newFixture(t)

	res, err := f.reg.Begin(context.Background(), alice, 1)
	require.NoError(t, err)
	require.NoError(t, (<-res).Err)
	require.Equal(t, 1, f.reg.Len())

	calls := f.ledger.writeCalls()
	require.Len(t, calls, 1)
	require.Equal(t, "startAttempt", calls[0].method)
	require.Equal(t, alice, calls[0].player)
}

func TestBeginTwiceRejectsSecond(t *testing.T) {
	f := newFixture(t)

	_, err := f.reg.Begin(context.Background(), alice, 1)
	require.NoError(t, err)

	_, err = f.reg.Begin(context.Background(), alice, 1)
	require.ErrorIs(t, err, ErrSessionAlreadyActive)
}

func TestBeginGuardHoldsDuringPreflight(t *testing.T) {
	f := newFixture(t)
	f.ledger.blockReads = make(chan struct{})

	started := make(chan error, 1)
	go func() {
		_, err := f.reg.Begin(context.Background(), alice, 1)
		started <- err
	}()

	// Wait for the first Begin to reserve the slot and suspend in preflight.
	require.Eventually(t, func() bool { return f.reg.Len() == 1 }, time.Second, time.Millisecond)

	_, err := f.reg.Begin(context.Background(), alice, 1)
	require.ErrorIs(t, err, ErrSessionAlreadyActive)

	close(f.ledger.blockReads)
	require.NoError(t, <-started)
}

func TestBeginPreflightRejections(t *testing.T) {
	cases := []struct {
		name    string
		prepare func(f *fixture)
		wantErr error
	}{
		{
			name:    "unknown tournament",
			prepare: func(f *fixture) { delete(f.ledger.tournaments, 1) },
			wantErr: ErrTournamentNotFound,
		},
		{
			name: "ended tournament",
			prepare: func(f *fixture) {
				tour := f.ledger.tournaments[1]
				tour.Ended = true
				f.ledger.tournaments[1] = tour
			},
			wantErr: ErrTournamentEnded,
		},
		{
			name: "expired tournament",
			prepare: func(f *fixture) {
				f.ledger.tournaments[1] = ledger.Tournament{EndTime: big.NewInt(f.now.Add(-time.Minute).Unix())}
			},
			wantErr: ErrTournamentExpired,
		},
		{
			name: "attempts exhausted",
			prepare: func(f *fixture) {
				f.ledger.entries[entryKey{1, alice}] = ledger.Entry{Tickets: big.NewInt(1), AttemptsUsed: big.NewInt(3)}
			},
			wantErr: ErrNoAttemptsLeft,
		},
		{
			name:    "no entry",
			prepare: func(f *fixture) { delete(f.ledger.entries, entryKey{1, alice}) },
			wantErr: ErrNoAttemptsLeft,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.prepare(f)

			_, err := f.reg.Begin(context.Background(), alice, 1)
			require.ErrorIs(t, err, tc.wantErr)
			require.Zero(t, f.reg.Len(), "rejected begin must not leave a session behind")
			require.Empty(t, f.ledger.writeCalls())
		})
	}
}

func TestRecordObstacleDedupAndPacing(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Begin(context.Background(), alice, 1)
	require.NoError(t, err)

	f.advance(time.Second)
	require.True(t, f.reg.RecordObstacle(alice, 1))

	// Duplicate: dropped.
	f.advance(time.Second)
	require.False(t, f.reg.RecordObstacle(alice, 1))

	// Too fast after the last accepted obstacle: dropped.
	require.True(t, f.reg.RecordObstacle(alice, 2))
	f.advance(MinObstacleGap / 2)
	require.False(t, f.reg.RecordObstacle(alice, 3))

	// Same obstacle after the gap: accepted.
	f.advance(MinObstacleGap)
	require.True(t, f.reg.RecordObstacle(alice, 3))

	// Zero id: dropped.
	f.advance(time.Second)
	require.False(t, f.reg.RecordObstacle(alice, 0))

	// No session for bob.
	require.False(t, f.reg.RecordObstacle(bob, 1))
}

func TestRecordObstacleIgnoredPastMaxDuration(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Begin(context.Background(), alice, 1)
	require.NoError(t, err)

	f.advance(MaxDuration + time.Second)
	require.False(t, f.reg.RecordObstacle(alice, 1))
}

func TestEndComputesScoreAndSubmits(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Begin(context.Background(), alice, 1)
	require.NoError(t, err)

	f.advance(time.Second)
	require.True(t, f.reg.RecordObstacle(alice, 1))
	f.advance(time.Second)
	require.True(t, f.reg.RecordObstacle(alice, 2))
	f.advance(28 * time.Second)

	final, res, ok := f.reg.End(alice)
	require.True(t, ok)
	require.Equal(t, score.Score(2, 30*time.Second), final)
	require.NoError(t, (<-res).Err)
	require.Zero(t, f.reg.Len())

	calls := f.ledger.writeCalls()
	last := calls[len(calls)-1]
	require.Equal(t, "submitScore", last.method)
	require.Equal(t, final, last.score)

	// Session is gone; a second end is a no-op.
	_, _, ok = f.reg.End(alice)
	require.False(t, ok)
}

func TestEndCapsElapsed(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Begin(context.Background(), alice, 1)
	require.NoError(t, err)

	f.advance(MaxDuration + time.Hour)
	final, _, ok := f.reg.End(alice)
	require.True(t, ok)
	require.Equal(t, score.Score(0, MaxDuration), final)
}

func TestSweepStaleForceEnds(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Begin(context.Background(), alice, 1)
	require.NoError(t, err)

	// Fresh session: not swept.
	require.Zero(t, f.reg.SweepStale(30*time.Second))

	f.advance(MaxDuration + time.Minute)
	require.Equal(t, 1, f.reg.SweepStale(30*time.Second))
	require.Zero(t, f.reg.Len())

	calls := f.ledger.writeCalls()
	last := calls[len(calls)-1]
	require.Equal(t, "submitScore", last.method)
	require.Equal(t, score.Score(0, MaxDuration), last.score)
}
