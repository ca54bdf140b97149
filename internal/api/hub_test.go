package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/config"
	"github.com/nerrad567/p2plant-ioc/internal/infrastructure/logging"
	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

func hubClient(h *Hub, buffer int, subs ...string) *wsClient {
	c := &wsClient{hub: h, send: make(chan []byte, buffer), subs: map[string]struct{}{}}
	for _, s := range subs {
		c.subs[s] = struct{}{}
	}
	h.add(c)
	return c
}

func tempUpdate(t *testing.T, svc *pv.Service) pv.Update {
	t.Helper()
	v, err := svc.Get("p2p:temp")
	require.NoError(t, err)
	return pv.Update{Name: v.Name(), Sample: v.Get()}
}

func TestHub_BroadcastFiltersAndCountsDrops(t *testing.T) {
	svc := testService(t)
	h := NewHub(config.WebSocketConfig{}, logging.Discard())

	slow := hubClient(h, 1, "p2p:temp")
	other := hubClient(h, 4, "p2p:setpoint")
	all := hubClient(h, 4, WSAllPVs)

	u := tempUpdate(t, svc)
	h.broadcast(u)
	h.broadcast(u)

	assert.Len(t, slow.send, 1)
	assert.Empty(t, other.send)
	assert.Len(t, all.send, 2)
	assert.Equal(t, uint64(1), h.Dropped())

	var msg struct {
		Type    string    `json:"type"`
		Payload WSPVEvent `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(<-all.send, &msg))
	assert.Equal(t, WSTypeEvent, msg.Type)
	assert.Equal(t, "p2p:temp", msg.Payload.Name)
}

func TestHub_RunClosesClients(t *testing.T) {
	svc := testService(t)
	h := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := hubClient(h, 1, WSAllPVs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, svc)
		close(done)
	}()
	require.Eventually(t, func() bool { return h.serviceRef() != nil }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Zero(t, h.ClientCount())
	assert.False(t, c.enqueue([]byte("late")), "closed client accepted data")

	// A disconnecting read loop removes the client again.
	h.remove(c)
}
