package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/p2plant-ioc/internal/auth"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// wsSendBuffer is the per-client outbound queue length.
const wsSendBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware has already vetted the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsRequest is a client frame with the payload left undecoded until the
// type is known.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex // guards subs, closed and sends on send
	subs   map[string]struct{}
	closed bool
}

// handleWebSocket upgrades the connection. With auth enabled the token
// comes from the Authorization header or the "token" query parameter,
// since browsers cannot set headers on an upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.authEnabled() {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		claims, ok := s.authenticate(w, r, token)
		if !ok {
			return
		}
		if !auth.HasPermission(claims.Role, auth.PermPVRead) {
			writeForbidden(w, "token does not grant PV reads")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		subs: make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

// enqueue queues data without blocking. It reports false when the client
// is closed or its buffer is full.
func (c *wsClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops the write loop. Safe to call more than once.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) wants(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, all := c.subs[WSAllPVs]
	_, one := c.subs[name]
	return all || one
}

func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(deadline)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	_ = extend("") //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = extend("") //nolint:errcheck // as above
		c.dispatch(data)
	}
}

func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.subscribe(req)
	case WSTypeUnsubscribe:
		c.unsubscribe(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

// subscribe accepts known PV names and "*", replies with what was accepted
// and then sends the current sample of each accepted PV.
func (c *wsClient) subscribe(req wsRequest) {
	var p WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		c.reply(req.ID, WSTypeError, errorBody("invalid subscribe payload"))
		return
	}

	svc := c.hub.serviceRef()
	var accepted, unknown []string
	var initial []*pv.Variable
	for _, name := range p.PVs {
		switch {
		case svc == nil:
			accepted = append(accepted, name)
		case name == WSAllPVs:
			accepted = append(accepted, name)
			initial = append(initial, svc.List()...)
		default:
			v, err := svc.Get(name)
			if err != nil {
				unknown = append(unknown, name)
				continue
			}
			accepted = append(accepted, name)
			initial = append(initial, v)
		}
	}

	c.mu.Lock()
	for _, name := range accepted {
		c.subs[name] = struct{}{}
	}
	c.mu.Unlock()

	body := map[string]any{"subscribed": accepted}
	if len(unknown) > 0 {
		body["unknown"] = unknown
	}
	c.reply(req.ID, WSTypeResponse, body)

	for _, v := range initial {
		if data, err := json.Marshal(pvEvent(pv.Update{Name: v.Name(), Sample: v.Get()})); err == nil {
			c.enqueue(data)
		}
	}
}

func (c *wsClient) unsubscribe(req wsRequest) {
	var p WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		c.reply(req.ID, WSTypeError, errorBody("invalid unsubscribe payload"))
		return
	}

	c.mu.Lock()
	for _, name := range p.PVs {
		delete(c.subs, name)
	}
	c.mu.Unlock()

	c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": p.PVs})
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}
