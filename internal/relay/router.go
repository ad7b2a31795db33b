package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// beginTimeout bounds the preflight ledger reads for a start-attempt.
const beginTimeout = 15 * time.Second

// route dispatches one inbound frame. The AUTH message is the only type
// processed before the connection is authenticated; everything else is
// gated on the auth session, then the rate limiter, then routed to the
// session registry.
func (s *Server) route(c *client, data []byte) {
	var msg inboundMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.enqueueError(ErrMalformedMessage.Error())
		return
	}

	if msg.Type == TypeAuth {
		s.handleAuth(c, msg)
		return
	}

	player, ok := c.auth.Player()
	if !ok {
		c.enqueueError(ErrNotAuthenticated.Error())
		return
	}
	if !s.limiter.Allow(player) {
		c.enqueueError(ErrRateLimited.Error())
		return
	}

	switch msg.Type {
	case TypeStartAttempt:
		s.handleStartAttempt(c, msg.TournamentID)
	case TypeObstaclePassed:
		// Non-positive ids are cheater/race noise: drop without response.
		if msg.ObstacleID > 0 {
			s.sessions.RecordObstacle(player, uint64(msg.ObstacleID))
		}
	case TypeCrash:
		s.handleCrash(c)
	default:
		c.enqueueError(ErrUnknownMessageType.Wrap(msg.Type).Error())
	}
}

func (s *Server) handleAuth(c *client, msg inboundMsg) {
	player, err := c.auth.Verify(msg.Address, msg.Signature)
	if err != nil {
		s.logger.Debug("auth failed", "origin", c.origin, "err", err)
		c.enqueue(authFailedMsg{Type: TypeAuthFailed, Message: err.Error()})
		return
	}
	s.logger.Info("player authenticated", "player", strings.ToLower(player.Hex()), "origin", c.origin)
	c.enqueue(authOKMsg{Type: TypeAuthOK, Address: strings.ToLower(player.Hex())})
}

// handleStartAttempt runs the preflight and begin write off the read pump
// so a slow ledger never stalls other traffic on this connection. The
// duplicate-begin guard inside the registry is what keeps the concurrent
// case safe.
func (s *Server) handleStartAttempt(c *client, tournamentID uint64) {
	player, _ := c.auth.Player()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), beginTimeout)
		defer cancel()

		res, err := s.sessions.Begin(ctx, player, tournamentID)
		if err != nil {
			c.enqueueError(err.Error())
			return
		}
		out := <-res
		if out.Err != nil {
			// Fire-and-forget write: the player keeps playing, ops get a log.
			s.logger.Error("begin-attempt write failed", "player", strings.ToLower(player.Hex()), "err", out.Err)
			return
		}
		c.enqueue(attemptStartedMsg{Type: TypeAttemptStarted, TxHash: out.TxHash.Hex()})
	}()
}

func (s *Server) handleCrash(c *client) {
	player, _ := c.auth.Player()
	final, res, ok := s.sessions.End(player)
	if !ok {
		return
	}
	go func() {
		out := <-res
		if out.Err != nil {
			// The player needs to know their run may not be recorded.
			s.logger.Error("score submission failed", "player", strings.ToLower(player.Hex()), "err", out.Err)
			c.enqueueError("score submission failed, your run may not be recorded")
			return
		}
		c.enqueue(scoreRecordedMsg{Type: TypeScoreRecorded, Score: final, TxHash: out.TxHash.Hex()})
	}()
}
