package backpressure

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxQueueSize:    10,
		MaxQueueBytes:   1000,
		DropThreshold:   0.8,
		MinSendInterval: time.Millisecond,
		HealthFloor:     0.1,
	}.withDefaults()
}

func newTestClient() *client {
	return &client{
		health:       1.0,
		registeredAt: time.Now(),
		notify:       make(chan struct{}, 1),
	}
}

// recordingConn captures sends; optional err makes every send fail.
type recordingConn struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (c *recordingConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, payload)
	return nil
}

func (c *recordingConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestEnqueueUnknownConnection(t *testing.T) {
	ctrl := NewController(testConfig())
	ok := ctrl.Enqueue(&recordingConn{}, []byte("x"), Normal, "test")
	assert.False(t, ok)
}

func TestNormalDroppedAboveThreshold(t *testing.T) {
	cfg := testConfig()
	cl := newTestClient()

	// Threshold is 0.8 of 10: the ninth NORMAL enqueue must be refused.
	for i := 0; i < 8; i++ {
		require.True(t, cl.insert(cfg, []byte("m"), Normal, "test"))
	}
	for i := 0; i < 5; i++ {
		assert.False(t, cl.insert(cfg, []byte("m"), Normal, "test"))
	}
	assert.Len(t, cl.queue, 8, "queue must not grow past the threshold for sub-HIGH priorities")
	assert.Equal(t, 5, cl.consecutiveDrops)
}

func TestSuccessfulEnqueueResetsDropCounter(t *testing.T) {
	cfg := testConfig()
	cl := newTestClient()

	for i := 0; i < 8; i++ {
		require.True(t, cl.insert(cfg, []byte("m"), Normal, "test"))
	}
	require.False(t, cl.insert(cfg, []byte("m"), Normal, "test"))
	require.Equal(t, 1, cl.consecutiveDrops)

	require.True(t, cl.insert(cfg, []byte("m"), High, "test"))
	assert.Zero(t, cl.consecutiveDrops)
}

func TestCriticalEvictsAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.DropThreshold = 1.0 // let the queue actually fill
	cl := newTestClient()

	for i := 0; i < 5; i++ {
		require.True(t, cl.insert(cfg, []byte("low"), Low, "test"))
	}
	for i := 0; i < 5; i++ {
		require.True(t, cl.insert(cfg, []byte("norm"), Normal, "test"))
	}
	require.Len(t, cl.queue, cfg.MaxQueueSize)

	ok := cl.insert(cfg, []byte("crit"), Critical, "test")
	require.True(t, ok, "CRITICAL must evict its way in")
	assert.LessOrEqual(t, len(cl.queue), cfg.MaxQueueSize)
	assert.Equal(t, Critical, cl.queue[0].Priority)
}

func TestHighEvictsOnlyLowerPriority(t *testing.T) {
	cfg := testConfig()
	cfg.DropThreshold = 1.0
	cl := newTestClient()

	for i := 0; i < cfg.MaxQueueSize; i++ {
		require.True(t, cl.insert(cfg, []byte("h"), High, "test"))
	}

	// A full queue of equal priority has nothing evictable.
	assert.False(t, cl.insert(cfg, []byte("h"), High, "test"))
	assert.Len(t, cl.queue, cfg.MaxQueueSize)
}

func TestByteBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueBytes = 100
	cl := newTestClient()

	big := make([]byte, 90)
	require.True(t, cl.insert(cfg, big, Normal, "test"))

	// NORMAL over the byte budget is dropped.
	assert.False(t, cl.insert(cfg, make([]byte, 20), Normal, "test"))
	assert.Equal(t, 90, cl.bytes)

	// CRITICAL evicts lower-priority bytes to fit.
	require.True(t, cl.insert(cfg, make([]byte, 50), Critical, "test"))
	assert.LessOrEqual(t, cl.bytes, cfg.MaxQueueBytes)
	assert.Equal(t, Critical, cl.queue[0].Priority)
}

func TestByteBudgetAbsoluteEvenForCritical(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueBytes = 100
	cl := newTestClient()

	require.True(t, cl.insert(cfg, make([]byte, 90), Critical, "test"))
	// Nothing lower-priority to evict and the payload cannot fit.
	assert.False(t, cl.insert(cfg, make([]byte, 50), Critical, "test"))
	assert.Equal(t, 90, cl.bytes)
}

func TestPriorityOrderStrictWithFIFOWithin(t *testing.T) {
	cfg := testConfig()
	cl := newTestClient()

	require.True(t, cl.insert(cfg, []byte("n1"), Normal, "test"))
	require.True(t, cl.insert(cfg, []byte("l1"), Low, "test"))
	require.True(t, cl.insert(cfg, []byte("h1"), High, "test"))
	require.True(t, cl.insert(cfg, []byte("n2"), Normal, "test"))
	require.True(t, cl.insert(cfg, []byte("c1"), Critical, "test"))

	var order []string
	for {
		m, ok := cl.pop()
		if !ok {
			break
		}
		order = append(order, string(m.Payload))
	}
	assert.Equal(t, []string{"c1", "h1", "n1", "n2", "l1"}, order)
	assert.Zero(t, cl.bytes)
}

func TestDeliveryLoopDrainsQueue(t *testing.T) {
	ctrl := NewController(testConfig())
	conn := &recordingConn{}
	ctrl.Register(conn)
	defer ctrl.Close()

	require.True(t, ctrl.Enqueue(conn, []byte("a"), Normal, "test"))
	require.True(t, ctrl.Enqueue(conn, []byte("b"), Normal, "test"))
	require.True(t, ctrl.Enqueue(conn, []byte("c"), Critical, "test"))

	require.Eventually(t, func() bool { return conn.sentCount() == 3 },
		time.Second, 5*time.Millisecond)

	stats, ok := ctrl.Stats(conn)
	require.True(t, ok)
	assert.Zero(t, stats.QueueLength)
	assert.Zero(t, stats.QueueBytes)
	assert.Equal(t, 1.0, stats.Health)
	assert.Greater(t, stats.SendRate, 0.0)
}

func TestHealthFloorStopsDelivery(t *testing.T) {
	ctrl := NewController(testConfig())
	conn := &recordingConn{err: errors.New("write: broken pipe")}
	ctrl.Register(conn)
	defer ctrl.Close()

	for i := 0; i < 6; i++ {
		require.True(t, ctrl.Enqueue(conn, []byte("x"), Normal, "test"))
	}

	// Five failures walk health 1.0 -> 0.0, below the 0.1 floor.
	require.Eventually(t, func() bool {
		stats, ok := ctrl.Stats(conn)
		return ok && stats.Health == 0
	}, time.Second, 5*time.Millisecond)
}

func TestUnregisterDiscardsState(t *testing.T) {
	ctrl := NewController(testConfig())
	conn := &recordingConn{}
	ctrl.Register(conn)

	require.True(t, ctrl.Enqueue(conn, []byte("x"), Normal, "test"))
	ctrl.Unregister(conn)

	assert.False(t, ctrl.Enqueue(conn, []byte("y"), Normal, "test"))
	_, ok := ctrl.Stats(conn)
	assert.False(t, ok)
}

func TestRegisterIdempotent(t *testing.T) {
	ctrl := NewController(testConfig())
	conn := &recordingConn{}
	ctrl.Register(conn)
	ctrl.Register(conn)
	defer ctrl.Close()

	require.True(t, ctrl.Enqueue(conn, []byte("x"), Normal, "test"))
	require.Eventually(t, func() bool { return conn.sentCount() == 1 },
		time.Second, 5*time.Millisecond)
	// A duplicate loop would have raced the single queued message.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, conn.sentCount())
}

func TestSlowConsumerDoesNotBlockOthers(t *testing.T) {
	cfg := testConfig()
	ctrl := NewController(cfg)

	stuck := &recordingConn{err: errors.New("stalled")}
	healthy := &recordingConn{}
	ctrl.Register(stuck)
	ctrl.Register(healthy)
	defer ctrl.Close()

	for i := 0; i < 5; i++ {
		ctrl.Enqueue(stuck, []byte("x"), Normal, "test")
		require.True(t, ctrl.Enqueue(healthy, []byte("x"), Normal, "test"))
	}

	require.Eventually(t, func() bool { return healthy.sentCount() == 5 },
		time.Second, 5*time.Millisecond)
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "low", Low.String())
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "critical", Critical.String())
}
