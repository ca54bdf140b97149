package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/logging"
	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSEventPV is the event type of PV value updates.
	WSEventPV = "pv.update"

	// WSAllPVs subscribes to every PV.
	WSAllPVs = "*"
)

// WSMessage is the envelope of every frame the server sends. Clients send
// the same shape.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists PV names (or "*") to subscribe or unsubscribe.
type WSSubscribePayload struct {
	PVs []string `json:"pvs"`
}

// WSPVEvent is the payload of a pv.update event.
type WSPVEvent struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Choice    string    `json:"choice,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks WebSocket clients and fans PV updates out to the ones
// subscribed to them. A client whose send buffer is full misses the event;
// Dropped counts those misses.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	service *pv.Service

	dropped atomic.Uint64
}

// NewHub creates an empty hub. It serves nothing until Run attaches it to
// a PV service.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run subscribes the hub to svc and blocks until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, svc *pv.Service) {
	h.mu.Lock()
	h.service = svc
	h.mu.Unlock()

	unsubscribe := svc.Subscribe(h.broadcast)
	defer unsubscribe()

	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

func (h *Hub) serviceRef() *pv.Service {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.service
}

// broadcast runs on the publishing goroutine and must not block.
func (h *Hub) broadcast(u pv.Update) {
	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(u.Name) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(pvEvent(u))
	if err != nil {
		h.logger.Error("failed to marshal PV event", "pv", u.Name, "error", err)
		return
	}
	for _, c := range targets {
		if !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
}

func pvEvent(u pv.Update) WSMessage {
	ev := WSPVEvent{
		Name:      u.Name,
		Value:     pv.JSONValue(u.Sample.Value),
		Timestamp: u.Sample.Timestamp,
	}
	if e, ok := u.Sample.Value.(pv.Enum); ok {
		ev.Choice = e.Choice()
	}
	return WSMessage{
		Type:      WSTypeEvent,
		EventType: WSEventPV,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   ev,
	}
}
