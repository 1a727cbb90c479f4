package webSocket

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"mcap_candle_stream/internal/backpressure"
	"mcap_candle_stream/internal/bus"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub bridges bus channels to websocket clients through the backpressure
// controller. It never writes to a socket directly on the publish path; the
// controller's per-connection delivery loop does.
type Hub struct {
	Upgrader websocket.Upgrader

	bus  bus.Bus
	ctrl *backpressure.Controller

	Mu     sync.Mutex
	Conns  map[*Conn]struct{}
	DeadCh chan *Conn
}

// Conn wraps one websocket client and satisfies backpressure.Conn.
type Conn struct {
	ws       *websocket.Conn
	id       string
	channels []string

	writeMu sync.Mutex
}

// Send writes one message; gorilla conns forbid concurrent writers.
func (c *Conn) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func NewHub(b bus.Bus, ctrl *backpressure.Controller) *Hub {
	return &Hub{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		bus:    b,
		ctrl:   ctrl,
		Conns:  make(map[*Conn]struct{}),
		DeadCh: make(chan *Conn, 1024),
	}
}

// Join registers the websocket with the controller, subscribes it to the
// given bus channels and starts a reader that detects the close.
func (h *Hub) Join(ws *websocket.Conn, channels ...string) *Conn {
	c := &Conn{ws: ws, id: uuid.NewString(), channels: channels}
	h.ctrl.Register(c)
	for _, channel := range channels {
		h.bus.Subscribe(channel, c.id, func(payload []byte) {
			prio, kind := classify(payload)
			h.ctrl.Enqueue(c, payload, prio, kind)
		})
	}

	h.Mu.Lock()
	h.Conns[c] = struct{}{}
	h.Mu.Unlock()

	go h.watchClose(c)
	return c
}

// classify maps a bus payload to a delivery priority: supply changes and
// closed candles outrank open-bar ticks, which are superseded constantly.
func classify(payload []byte) (backpressure.Priority, string) {
	var probe struct {
		IsClosed  bool     `json:"is_closed"`
		NewSupply *float64 `json:"new_supply"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return backpressure.Low, "unknown"
	}
	switch {
	case probe.NewSupply != nil:
		return backpressure.High, "supply"
	case probe.IsClosed:
		return backpressure.High, "candle_closed"
	default:
		return backpressure.Normal, "candle"
	}
}

// watchClose reads until the peer goes away, then hands the conn to the
// reaper.
func (h *Hub) watchClose(c *Conn) {
	defer func() { h.DeadCh <- c }()
	c.ws.SetReadLimit(512)
	if err := c.ws.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Println("[error] Failed to set read deadline:", err)
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// ReapDead tears down connections reported closed: bus subscriptions go,
// the delivery loop is cancelled, queued state is discarded.
func (h *Hub) ReapDead() {
	for c := range h.DeadCh {
		h.Leave(c)
	}
}

// Leave releases everything owned on behalf of one connection.
func (h *Hub) Leave(c *Conn) {
	for _, channel := range c.channels {
		h.bus.Unsubscribe(channel, c.id)
	}
	h.ctrl.Unregister(c)

	h.Mu.Lock()
	delete(h.Conns, c)
	h.Mu.Unlock()

	_ = c.ws.Close()
}

// Stats exposes the controller snapshot for one connection.
func (h *Hub) Stats(c *Conn) (backpressure.Stats, bool) {
	return h.ctrl.Stats(c)
}
