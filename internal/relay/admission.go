package relay

import (
	"net"
	"net/http"
	"strings"
	"sync"
)

// admission enforces the connection caps before a websocket upgrade is even
// attempted: a global ceiling and a per-origin ceiling. The origin is the
// first hop of X-Forwarded-For when a trusted proxy fronts the relay,
// otherwise the raw peer address. The header is spoofable without that
// proxy, so trusting it is a deployment decision made in config.
type admission struct {
	mtx       sync.Mutex
	total     int
	perOrigin map[string]int

	maxTotal     int
	maxPerOrigin int
	trustProxy   bool
}

func newAdmission(maxTotal, maxPerOrigin int, trustProxy bool) *admission {
	return &admission{
		perOrigin:    make(map[string]int),
		maxTotal:     maxTotal,
		maxPerOrigin: maxPerOrigin,
		trustProxy:   trustProxy,
	}
}

func (a *admission) originOf(r *http.Request) string {
	if a.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if i := strings.IndexByte(fwd, ','); i >= 0 {
				fwd = fwd[:i]
			}
			return strings.TrimSpace(fwd)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admit reserves a connection slot. ok=false means the caller must reject
// the connection; reason distinguishes the two ceilings for the close frame.
func (a *admission) admit(origin string) (ok bool, reason string) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	if a.total >= a.maxTotal {
		return false, "server full"
	}
	if a.perOrigin[origin] >= a.maxPerOrigin {
		return false, "too many connections from origin"
	}
	a.total++
	a.perOrigin[origin]++
	return true, ""
}

// depart releases a slot reserved by admit.
func (a *admission) depart(origin string) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	a.total--
	if n := a.perOrigin[origin]; n <= 1 {
		delete(a.perOrigin, origin)
	} else {
		a.perOrigin[origin] = n - 1
	}
}
