package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// maxMessageBytes bounds memory and parse cost per inbound frame.
	maxMessageBytes = 4 * 1024

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	sendQueueDepth = 64
)

// client is one websocket connection and its auth state.
type client struct {
	srv    *Server
	ws     *websocket.Conn
	origin string
	auth   *authSession

	mtx    sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(srv *Server, ws *websocket.Conn, origin string, auth *authSession) *client {
	return &client{
		srv:    srv,
		ws:     ws,
		origin: origin,
		auth:   auth,
		send:   make(chan []byte, sendQueueDepth),
	}
}

// enqueue marshals and queues an outbound message. Late completions (a
// score write settling after disconnect) hit the closed flag and drop. A
// consumer too slow to drain its queue loses the connection instead of
// stalling the relay.
func (c *client) enqueue(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.srv.logger.Error("marshal outbound message", "err", err)
		return
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		c.srv.logger.Warn("send queue full, dropping connection", "origin", c.origin)
		c.closed = true
		close(c.send)
	}
}

func (c *client) enqueueError(message string) {
	c.enqueue(errorMsg{Type: TypeError, Message: message})
}

func (c *client) close() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump owns the inbound side. On any read error it tears the connection
// down: auth state, rate-limit state, and any live session go with it.
func (c *client) readPump() {
	defer func() {
		c.srv.dropClient(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.srv.route(c, data)
	}
}

// writePump owns the outbound side: queued messages plus keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
