// Package relay is the player-facing edge of the operator relay: websocket
// admission, wallet authentication, rate limiting, and message routing into
// the session registry. Nothing here is fatal to the process; every
// per-connection failure is isolated to that connection.
package relay

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"

	"cosmossdk.io/log"
	"github.com/cometbft/cometbft/libs/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/agentc22/mega-rally/internal/sequencer"
)

const ModuleName = "relay"

// Sessions is the session registry surface the router drives.
type Sessions interface {
	Begin(ctx context.Context, player common.Address, tournamentID uint64) (<-chan sequencer.Outcome, error)
	RecordObstacle(player common.Address, obstacleID uint64) bool
	End(player common.Address) (int64, <-chan sequencer.Outcome, bool)
}

type Config struct {
	Listen            string
	MaxConns          int
	MaxConnsPerOrigin int
	TrustProxyHeader  bool
}

type Server struct {
	service.BaseService

	logger   log.Logger
	cfg      Config
	sessions Sessions

	admission *admission
	limiter   *rateLimiter
	upgrader  websocket.Upgrader
	httpSrv   *http.Server
	ln        net.Listener

	mtx     sync.Mutex
	clients map[*client]struct{}
}

func NewServer(logger log.Logger, cfg Config, sessions Sessions) *Server {
	s := &Server{
		logger:    logger.With("module", ModuleName),
		cfg:       cfg,
		sessions:  sessions,
		admission: newAdmission(cfg.MaxConns, cfg.MaxConnsPerOrigin, cfg.TrustProxyHeader),
		limiter:   newRateLimiter(),
		upgrader: websocket.Upgrader{
			// Wallet auth is the trust boundary, not the browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	s.BaseService = *service.NewBaseService(nil, "RelayServer", s)
	return s
}

func (s *Server) OnStart() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http serve", "err", err)
		}
	}()

	s.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) OnStop() {
	s.mtx.Lock()
	open := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		open = append(open, c)
	}
	s.mtx.Unlock()

	for _, c := range open {
		c.close()
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
}

// Addr is the bound listen address, available once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Listen
	}
	return s.ln.Addr().String()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	origin := s.admission.originOf(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "origin", origin, "err", err)
		return
	}

	if ok, reason := s.admission.admit(origin); !ok {
		s.logger.Info("connection rejected", "origin", origin, "reason", reason)
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason))
		_ = ws.Close()
		return
	}

	auth, err := newAuthSession()
	if err != nil {
		s.logger.Error("issue challenge", "err", err)
		s.admission.depart(origin)
		_ = ws.Close()
		return
	}

	c := newClient(s, ws, origin, auth)
	s.mtx.Lock()
	s.clients[c] = struct{}{}
	s.mtx.Unlock()

	go c.writePump()
	c.enqueue(authChallengeMsg{Type: TypeAuthChallenge, Nonce: auth.Nonce()})
	c.readPump()
}

// dropClient tears down everything tied to a closed connection: the
// admission slot, the rate window, and any live session. A session caught
// mid-attempt is force-ended so the score still reaches the ledger.
func (s *Server) dropClient(c *client) {
	s.mtx.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mtx.Unlock()
	if !present {
		return
	}

	s.admission.depart(c.origin)
	c.close()

	if player, ok := c.auth.Player(); ok {
		s.limiter.Forget(player)
		if final, res, ended := s.sessions.End(player); ended {
			s.logger.Info("disconnected mid-attempt, session force-ended",
				"player", strings.ToLower(player.Hex()), "score", final)
			go func() {
				if out := <-res; out.Err != nil {
					s.logger.Error("score submission after disconnect failed",
						"player", strings.ToLower(player.Hex()), "err", out.Err)
				}
			}()
		}
	}
}
