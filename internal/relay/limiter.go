package relay

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	rateWindow  = time.Second
	rateCeiling = 10
)

type rateWindowState struct {
	start time.Time
	count int
}

// rateLimiter is the coarse per-player action throttle: a fixed window with
// a hard ceiling. Finer per-event checks (dedup, pacing) live in the
// session registry.
type rateLimiter struct {
	mtx     sync.Mutex
	windows map[common.Address]*rateWindowState
	now     func() time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		windows: make(map[common.Address]*rateWindowState),
		now:     time.Now,
	}
}

// Allow reports whether the player may take another action. Rejected
// actions are dropped, not queued: the count does not grow past the ceiling.
func (l *rateLimiter) Allow(player common.Address) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	now := l.now()
	w, ok := l.windows[player]
	if !ok || now.Sub(w.start) >= rateWindow {
		l.windows[player] = &rateWindowState{start: now, count: 1}
		return true
	}
	if w.count >= rateCeiling {
		return false
	}
	w.count++
	return true
}

// Forget drops the player's window, called when their connection closes.
func (l *rateLimiter) Forget(player common.Address) {
	l.mtx.Lock()
	delete(l.windows, player)
	l.mtx.Unlock()
}
