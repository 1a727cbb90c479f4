package backpressure

import (
	"context"
	"log"
	"sync"
	"time"
)

// Conn is one downstream delivery target, typically a websocket wrapper.
type Conn interface {
	Send(payload []byte) error
}

// Config bounds one connection's queue; zero values fall back to defaults.
type Config struct {
	MaxQueueSize    int
	MaxQueueBytes   int
	DropThreshold   float64
	MinSendInterval time.Duration
	HealthFloor     float64
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 100
	}
	if c.MaxQueueBytes <= 0 {
		c.MaxQueueBytes = 10 << 20
	}
	if c.DropThreshold <= 0 {
		c.DropThreshold = 0.8
	}
	if c.MinSendInterval <= 0 {
		c.MinSendInterval = 10 * time.Millisecond
	}
	if c.HealthFloor <= 0 {
		c.HealthFloor = 0.1
	}
	return c
}

// Stats is a point-in-time snapshot of one connection's queue.
type Stats struct {
	QueueLength      int     `json:"queue_length"`
	QueueBytes       int     `json:"queue_bytes"`
	Health           float64 `json:"health"`
	SendRate         float64 `json:"send_rate"`
	ConsecutiveDrops int     `json:"consecutive_drops"`
}

type client struct {
	mu               sync.Mutex
	queue            []QueuedMessage // descending priority, FIFO within one
	bytes            int
	health           float64
	consecutiveDrops int
	sent             uint64
	registeredAt     time.Time

	notify chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller bounds per-connection memory and isolates slow consumers. Each
// registered connection gets its own priority queue and delivery loop; a
// connection that keeps failing sends works its health score down to the
// floor and its loop stops, leaving teardown to the owner.
type Controller struct {
	cfg Config

	mu      sync.RWMutex
	clients map[Conn]*client
}

func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:     cfg.withDefaults(),
		clients: make(map[Conn]*client),
	}
}

// Register allocates the queue and starts the delivery loop. Registering an
// already-known connection is a no-op.
func (ctrl *Controller) Register(conn Conn) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if _, ok := ctrl.clients[conn]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cl := &client{
		health:       1.0,
		registeredAt: time.Now(),
		notify:       make(chan struct{}, 1),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	ctrl.clients[conn] = cl
	go ctrl.deliveryLoop(ctx, conn, cl)
}

// Unregister cancels the delivery loop and discards all queued state.
// Nothing is drained; an already-popped message is abandoned.
func (ctrl *Controller) Unregister(conn Conn) {
	ctrl.mu.Lock()
	cl, ok := ctrl.clients[conn]
	if ok {
		delete(ctrl.clients, conn)
	}
	ctrl.mu.Unlock()
	if ok {
		cl.cancel()
	}
}

// Enqueue offers one message for delivery. Returns false for an unknown
// connection or when the backpressure policy drops the message.
func (ctrl *Controller) Enqueue(conn Conn, payload []byte, prio Priority, kind string) bool {
	ctrl.mu.RLock()
	cl := ctrl.clients[conn]
	ctrl.mu.RUnlock()
	if cl == nil {
		return false
	}

	cl.mu.Lock()
	ok := cl.insert(ctrl.cfg, payload, prio, kind)
	cl.mu.Unlock()

	if ok {
		select {
		case cl.notify <- struct{}{}:
		default:
		}
	}
	return ok
}

// insert applies the drop/evict policy. Caller holds cl.mu.
func (c *client) insert(cfg Config, payload []byte, prio Priority, kind string) bool {
	if float64(len(c.queue)) >= cfg.DropThreshold*float64(cfg.MaxQueueSize) {
		if prio < High {
			c.consecutiveDrops++
			return false
		}
		c.evictBelow(prio, cfg.MaxQueueSize-1)
	}
	if len(c.queue) >= cfg.MaxQueueSize {
		// Nothing lower-priority left to evict.
		c.consecutiveDrops++
		return false
	}

	if c.bytes+len(payload) > cfg.MaxQueueBytes {
		if prio < Critical {
			c.consecutiveDrops++
			return false
		}
		c.evictBytesBelow(prio, cfg.MaxQueueBytes-len(payload))
		if c.bytes+len(payload) > cfg.MaxQueueBytes {
			c.consecutiveDrops++
			return false
		}
	}

	c.queue = insertByPriority(c.queue, QueuedMessage{
		Payload:    payload,
		Priority:   prio,
		EnqueuedAt: time.Now(),
		Kind:       kind,
	})
	c.bytes += len(payload)
	c.consecutiveDrops = 0
	return true
}

// evictBelow drops entries with priority below prio from the tail (lowest
// priority, newest first) until the queue length is at most target.
func (c *client) evictBelow(prio Priority, target int) {
	for len(c.queue) > target {
		last := len(c.queue) - 1
		if c.queue[last].Priority >= prio {
			return
		}
		c.bytes -= len(c.queue[last].Payload)
		c.queue = c.queue[:last]
	}
}

// evictBytesBelow drops lower-priority tail entries until at most budget
// bytes remain queued.
func (c *client) evictBytesBelow(prio Priority, budget int) {
	for len(c.queue) > 0 && c.bytes > budget {
		last := len(c.queue) - 1
		if c.queue[last].Priority >= prio {
			return
		}
		c.bytes -= len(c.queue[last].Payload)
		c.queue = c.queue[:last]
	}
}

func (c *client) pop() (QueuedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return QueuedMessage{}, false
	}
	m := c.queue[0]
	c.queue = c.queue[1:]
	c.bytes -= len(m.Payload)
	return m, true
}

func (ctrl *Controller) deliveryLoop(ctx context.Context, conn Conn, cl *client) {
	defer close(cl.done)

	pacing := time.NewTimer(ctrl.cfg.MinSendInterval)
	defer pacing.Stop()

	for {
		msg, ok := cl.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-cl.notify:
				continue
			}
		}

		// Minimum inter-send interval keeps one loop from saturating
		// the transport.
		pacing.Reset(ctrl.cfg.MinSendInterval)
		select {
		case <-ctx.Done():
			return
		case <-pacing.C:
		}

		if err := conn.Send(msg.Payload); err != nil {
			if cl.noteFailure(ctrl.cfg.HealthFloor) {
				log.Println("[backpressure] Connection health below floor, stopping delivery:", err)
				return
			}
			continue
		}
		cl.noteSuccess()
	}
}

// noteFailure decays health and reports whether the loop should give up.
func (c *client) noteFailure(floor float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health -= 0.2
	if c.health < 0 {
		c.health = 0
	}
	return c.health < floor
}

func (c *client) noteSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health += 0.1
	if c.health > 1.0 {
		c.health = 1.0
	}
	c.sent++
}

// Stats snapshots one connection's queue state.
func (ctrl *Controller) Stats(conn Conn) (Stats, bool) {
	ctrl.mu.RLock()
	cl := ctrl.clients[conn]
	ctrl.mu.RUnlock()
	if cl == nil {
		return Stats{}, false
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	elapsed := time.Since(cl.registeredAt).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(cl.sent) / elapsed
	}
	return Stats{
		QueueLength:      len(cl.queue),
		QueueBytes:       cl.bytes,
		Health:           cl.health,
		SendRate:         rate,
		ConsecutiveDrops: cl.consecutiveDrops,
	}, true
}

// Close cancels every delivery loop and waits for them to exit.
func (ctrl *Controller) Close() {
	ctrl.mu.Lock()
	clients := make([]*client, 0, len(ctrl.clients))
	for conn, cl := range ctrl.clients {
		clients = append(clients, cl)
		delete(ctrl.clients, conn)
	}
	ctrl.mu.Unlock()

	for _, cl := range clients {
		cl.cancel()
	}
	for _, cl := range clients {
		<-cl.done
	}
}
