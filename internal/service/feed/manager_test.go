package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"LiveTicks/internal/domain/models"
	drepo "LiveTicks/internal/domain/repository"
	"LiveTicks/internal/service/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeTimer struct {
	s       *fakeScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) active(d time.Duration) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.timers) - 1; i >= 0; i-- {
		t := s.timers[i]
		if t.d == d && !t.stopped && !t.fired {
			return t
		}
	}
	return nil
}

// fire runs the pending timer with delay d. It reports false if none exists.
func (s *fakeScheduler) fire(d time.Duration) bool {
	t := s.active(d)
	if t == nil {
		return false
	}
	s.mu.Lock()
	t.fired = true
	s.mu.Unlock()
	t.f()
	return true
}

type fakeConn struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	readErr  error
	written  []string
	writes   int
	writeErr error
	// gate, when set, holds every write until it is closed or the conn is.
	gate    chan struct{}
	waiting bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 64), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.frames:
		return b, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr == nil {
			return nil, io.ErrClosedPipe
		}
		return nil, c.readErr
	}
}

func (c *fakeConn) WriteText(data []byte) error {
	c.mu.Lock()
	gate := c.gate
	c.waiting = gate != nil
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-c.done:
			return io.ErrClosedPipe
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiting = false
	c.writes++
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// drop simulates the peer going away with err.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	_ = c.Close()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) state() (writes int, waiting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes, c.waiting
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

type fakeDialer struct {
	mu    sync.Mutex
	err   error
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (drepo.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	m      *Manager
	store  *state.Store
	dialer *fakeDialer
	sched  *fakeScheduler
	clock  *fakeClock
}

func testConfig() models.StreamConfig {
	return models.StreamConfig{
		Endpoint:             "wss://feed.test/ws",
		MaxReconnectAttempts: 5,
		InitialBackoff:       time.Second,
		MaxBackoff:           8 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		FlushInterval:        100 * time.Millisecond,
		DialTimeout:          time.Second,
		OutboundQueueSize:    4,
	}
}

func newHarness(t *testing.T, maxPoints uint, opts ...Option) *harness {
	t.Helper()
	settings := models.DefaultSettings()
	settings.MaxDataPoints = maxPoints
	h := &harness{
		store:  state.New(settings),
		dialer: &fakeDialer{},
		sched:  &fakeScheduler{},
		clock:  &fakeClock{t: time.UnixMilli(1_700_000_000_000)},
	}
	opts = append([]Option{WithScheduler(h.sched), WithClock(h.clock.now)}, opts...)
	h.m = NewManager(testConfig(), h.dialer, h.store, opts...)
	t.Cleanup(h.m.Disconnect)
	return h
}

func (h *harness) waitStatus(t *testing.T, want models.ConnectionStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return h.store.Status() == want }, waitFor, tick, "status never became %s", want)
}

func (h *harness) waitTimer(t *testing.T, d time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sched.active(d) != nil }, waitFor, tick, "no timer armed for %s", d)
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	h.m.Connect()
	h.waitStatus(t, models.StatusConnected)
	return h.dialer.last()
}

func (h *harness) queued() int {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return len(h.m.outbound)
}

func waitSent(t *testing.T, conn *fakeConn, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, conn.sent())
	}, waitFor, tick, "written frames never became %v", want)
}

func (h *harness) buffered(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.m.mu.Lock()
		defer h.m.mu.Unlock()
		return h.m.buf.Len() == n
	}, waitFor, tick)
}

func TestConnectOpensSessionAndClearsError(t *testing.T) {
	h := newHarness(t, 100)
	h.store.SetError("stale")

	h.connect(t)

	assert.Nil(t, h.store.Error())
	assert.True(t, h.m.IsConnected())
	assert.Equal(t, 1, h.dialer.dialCount())
	assert.NotNil(t, h.sched.active(30*time.Second), "heartbeat timer")
	assert.NotNil(t, h.sched.active(100*time.Millisecond), "flush timer")
}

func TestReconnectDelaysDoubleAndCap(t *testing.T) {
	h := newHarness(t, 100)
	h.dialer.setErr(errors.New("connection refused"))

	h.m.Connect()

	for i, d := range []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second} {
		h.waitTimer(t, d)
		assert.Equal(t, models.StatusReconnecting, h.store.Status(), "retry %d", i+1)
		assert.Equal(t, uint(i+1), h.m.Attempts())
		require.True(t, h.sched.fire(d))
	}

	require.Eventually(t, func() bool {
		e := h.store.Error()
		return e != nil && *e == models.MsgMaxRetries
	}, waitFor, tick)
	assert.Equal(t, models.StatusDisconnected, h.store.Status())
	assert.Equal(t, 6, h.dialer.dialCount())

	for _, d := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		assert.Nil(t, h.sched.active(d), "no retry may be pending after exhaustion")
	}
}

func TestExplicitConnectAfterExhaustionStartsOver(t *testing.T) {
	h := newHarness(t, 100)
	h.dialer.setErr(errors.New("refused"))
	h.m.Connect()
	for _, d := range []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second} {
		h.waitTimer(t, d)
		h.sched.fire(d)
	}
	h.waitStatus(t, models.StatusDisconnected)

	h.dialer.setErr(nil)
	h.connect(t)
	assert.Nil(t, h.store.Error())
	assert.Equal(t, uint(0), h.m.Attempts())
}

func TestOpenFailureReportsConnectionError(t *testing.T) {
	h := newHarness(t, 100)
	h.dialer.setErr(errors.New("refused"))

	h.m.Connect()
	h.waitTimer(t, time.Second)

	require.NotNil(t, h.store.Error())
	assert.Equal(t, models.MsgConnectionError, *h.store.Error())
}

func TestInvalidEndpointReportsOpenFailure(t *testing.T) {
	h := newHarness(t, 100)
	h.dialer.setErr(fmt.Errorf("%w: %q", models.ErrInvalidEndpoint, "http://nope"))

	h.m.Connect()
	h.waitTimer(t, time.Second)

	require.NotNil(t, h.store.Error())
	assert.Equal(t, models.MsgOpenFailed, *h.store.Error())
}

func TestDisconnectDuringBackoffCancelsRetry(t *testing.T) {
	h := newHarness(t, 100)
	h.dialer.setErr(errors.New("refused"))
	h.m.Connect()
	h.waitTimer(t, time.Second)
	pending := h.sched.active(time.Second)

	h.m.Disconnect()

	assert.Equal(t, models.StatusDisconnected, h.store.Status())
	assert.Nil(t, h.sched.active(time.Second))

	// a timer callback that raced with Disconnect must not dial again
	pending.f()
	assert.Equal(t, 1, h.dialer.dialCount())
	assert.Equal(t, models.StatusDisconnected, h.store.Status())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t, 100)
	before := h.store.Snapshot().Version
	h.m.Disconnect()
	assert.Equal(t, before, h.store.Snapshot().Version, "disconnect on a fresh manager changes nothing")

	conn := h.connect(t)
	h.m.Disconnect()
	h.m.Disconnect()

	assert.True(t, conn.isClosed())
	assert.False(t, h.m.IsConnected())
	assert.Equal(t, models.StatusDisconnected, h.store.Status())
	assert.Nil(t, h.sched.active(30*time.Second))
	assert.Nil(t, h.sched.active(100*time.Millisecond))
	assert.Nil(t, h.sched.active(time.Second), "intentional close never retries")
}

func TestSupersededSessionCannotMutateState(t *testing.T) {
	h := newHarness(t, 100)
	first := h.connect(t)

	h.m.Connect()
	require.Eventually(t, func() bool { return h.dialer.last() != first }, waitFor, tick)
	h.waitStatus(t, models.StatusConnected)
	assert.True(t, first.isClosed())

	// late callbacks from session 1
	h.m.dispatch(frameEvent{session(1), []byte(`{"p":"1"}`)})
	h.m.dispatch(errorEvent{session(1), errors.New("late")})
	h.m.dispatch(closedEvent{session(1), io.EOF})

	assert.Equal(t, models.StatusConnected, h.store.Status())
	assert.Nil(t, h.store.Error())
	h.buffered(t, 0)
}

func TestStaleOpenIsClosed(t *testing.T) {
	h := newHarness(t, 100)
	h.connect(t)

	late := newFakeConn()
	h.m.dispatch(openedEvent{session(0), late})

	assert.True(t, late.isClosed())
	assert.NotSame(t, late, h.dialer.last())
}

func TestSendQueuesUntilOpenAndReplaysInOrder(t *testing.T) {
	h := newHarness(t, 100)

	assert.False(t, h.m.Send([]byte("a")))
	assert.False(t, h.m.Send([]byte("b")))

	conn := h.connect(t)
	waitSent(t, conn, "a", "b")

	assert.True(t, h.m.Send([]byte("c")))
	waitSent(t, conn, "a", "b", "c")
	assert.Zero(t, h.queued())
}

func TestSendQueueDropsOldestWhenFull(t *testing.T) {
	h := newHarness(t, 100)
	for _, s := range []string{"1", "2", "3", "4", "5", "6"} {
		h.m.Send([]byte(s))
	}

	conn := h.connect(t)
	waitSent(t, conn, "3", "4", "5", "6")
}

func TestSendFailureRequeuesAtHead(t *testing.T) {
	h := newHarness(t, 100)
	conn := h.connect(t)
	conn.setWriteErr(errors.New("broken pipe"))

	assert.True(t, h.m.Send([]byte("x")))
	require.Eventually(t, func() bool {
		writes, _ := conn.state()
		return writes == 1 && h.queued() == 1
	}, waitFor, tick, "failed message was not requeued")
	assert.Equal(t, models.StatusConnected, h.store.Status())

	conn.setWriteErr(nil)
	assert.True(t, h.m.Send([]byte("y")))
	waitSent(t, conn, "x", "y")
}

func TestBlockedWriteDoesNotStallEvents(t *testing.T) {
	h := newHarness(t, 100)
	conn := h.connect(t)
	conn.mu.Lock()
	conn.gate = make(chan struct{})
	conn.mu.Unlock()

	assert.True(t, h.m.Send([]byte("slow")))
	require.Eventually(t, func() bool {
		_, waiting := conn.state()
		return waiting
	}, waitFor, tick)

	conn.frames <- []byte(`{"p":"1","T":1}`)
	h.buffered(t, 1)
	require.True(t, h.sched.fire(100*time.Millisecond))
	assert.Len(t, h.store.Series(), 1)
	assert.True(t, h.m.Send([]byte("next")), "send does not wait for the writer")

	done := make(chan struct{})
	go func() {
		h.m.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("disconnect blocked behind a pending write")
	}
	assert.True(t, conn.isClosed())
	assert.Empty(t, conn.sent())
}

func TestFramesAreBatchedUntilFlushTimer(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]models.DataPoint
	)
	hook := WithCommitHook(func(b []models.DataPoint) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})
	h := newHarness(t, 100, hook)
	conn := h.connect(t)

	conn.frames <- []byte(`{"p":"1.5","T":1000}`)
	conn.frames <- []byte(`{"p":"2.5","T":2000}`)
	h.buffered(t, 2)
	assert.Empty(t, h.store.Series())

	require.True(t, h.sched.fire(100*time.Millisecond))

	assert.Equal(t, []models.DataPoint{{Timestamp: 1000, Value: 1.5}, {Timestamp: 2000, Value: 2.5}}, h.store.Series())
	assert.NotNil(t, h.sched.active(100*time.Millisecond), "flush timer re-armed")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
}

func TestFullBufferFlushesImmediately(t *testing.T) {
	h := newHarness(t, 3)
	conn := h.connect(t)

	for i := 1; i <= 3; i++ {
		conn.frames <- []byte(fmt.Sprintf(`{"p":%d,"T":%d}`, i, i))
	}

	require.Eventually(t, func() bool { return len(h.store.Series()) == 3 }, waitFor, tick)
}

func TestMalformedFramesAreDroppedSilently(t *testing.T) {
	h := newHarness(t, 100)
	conn := h.connect(t)

	conn.frames <- []byte(`garbage`)
	conn.frames <- []byte(`{"p":"NaN"}`)
	conn.frames <- []byte(`{"p":"7","T":7}`)
	h.buffered(t, 1)
	h.sched.fire(100 * time.Millisecond)

	assert.Equal(t, []models.DataPoint{{Timestamp: 7, Value: 7}}, h.store.Series())
	assert.Nil(t, h.store.Error())
	assert.Equal(t, models.StatusConnected, h.store.Status())
}

func TestPausedStreamDropsPoints(t *testing.T) {
	h := newHarness(t, 100)
	conn := h.connect(t)
	h.store.TogglePause()

	conn.frames <- []byte(`{"p":"1","T":1}`)
	conn.frames <- []byte(`{"p":"2","T":2}`)
	h.sched.fire(100 * time.Millisecond)

	// frames are still consumed; wait until the reader drained them
	require.Eventually(t, func() bool { return len(conn.frames) == 0 }, waitFor, tick)
	h.buffered(t, 0)
	h.sched.fire(100 * time.Millisecond)
	assert.Empty(t, h.store.Series())
}

func TestHeartbeatPingsOnlyAfterSilence(t *testing.T) {
	h := newHarness(t, 100)
	conn := h.connect(t)

	h.clock.advance(10 * time.Second)
	require.True(t, h.sched.fire(30*time.Second))
	assert.Empty(t, conn.sent(), "recent traffic, no ping")

	h.clock.advance(31 * time.Second)
	require.True(t, h.sched.fire(30*time.Second))
	waitSent(t, conn, "ping")
	assert.NotNil(t, h.sched.active(30*time.Second), "heartbeat re-armed")
}

func TestHeartbeatFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, 100)
	conn := h.connect(t)
	conn.setWriteErr(errors.New("write timeout"))

	h.clock.advance(time.Minute)
	require.True(t, h.sched.fire(30*time.Second))
	require.Eventually(t, func() bool {
		writes, _ := conn.state()
		return writes == 1
	}, waitFor, tick)

	assert.Zero(t, h.queued(), "a failed ping is not requeued")
	assert.Equal(t, models.StatusConnected, h.store.Status())
	assert.Nil(t, h.store.Error())
}

func TestUnexpectedCloseFlushesAndReconnects(t *testing.T) {
	h := newHarness(t, 100)
	conn := h.connect(t)

	conn.frames <- []byte(`{"p":"1","T":1}`)
	conn.frames <- []byte(`{"p":"2","T":2}`)
	h.buffered(t, 2)
	conn.drop(io.ErrUnexpectedEOF)

	h.waitTimer(t, time.Second)
	assert.Len(t, h.store.Series(), 2, "buffer is flushed on close")
	assert.Equal(t, models.StatusReconnecting, h.store.Status())
	require.NotNil(t, h.store.Error())
	assert.Equal(t, models.MsgConnectionError, *h.store.Error())
	assert.Nil(t, h.sched.active(30*time.Second))

	require.True(t, h.sched.fire(time.Second))
	h.waitStatus(t, models.StatusConnected)
	assert.NotSame(t, conn, h.dialer.last())
	assert.Nil(t, h.store.Error())
	assert.Equal(t, uint(0), h.m.Attempts())
}

func TestFlushTimerFromClosedSessionDoesNotRearm(t *testing.T) {
	h := newHarness(t, 100)
	conn := h.connect(t)
	flush := h.sched.active(100 * time.Millisecond)
	require.NotNil(t, flush)

	conn.drop(io.EOF)
	h.waitTimer(t, time.Second)

	// the callback raced with the close and still runs
	flush.f()
	assert.Nil(t, h.sched.active(100*time.Millisecond), "no flush timer outlives the transport")
	assert.Equal(t, models.StatusReconnecting, h.store.Status())

	require.True(t, h.sched.fire(time.Second))
	h.waitStatus(t, models.StatusConnected)
	assert.NotNil(t, h.sched.active(100*time.Millisecond), "the new session arms its own")
}

func TestRepeatedDropsAfterOpenRestartBackoff(t *testing.T) {
	h := newHarness(t, 100)
	conn := h.connect(t)

	conn.drop(io.EOF)
	h.waitTimer(t, time.Second)
	h.sched.fire(time.Second)
	h.waitStatus(t, models.StatusConnected)

	h.dialer.last().drop(io.EOF)
	h.waitTimer(t, time.Second)
	assert.Nil(t, h.sched.active(2*time.Second), "a successful open resets the delay")
}

func TestNewManagerFillsDefaults(t *testing.T) {
	m := NewManager(models.StreamConfig{}, &fakeDialer{}, state.New(models.DefaultSettings()))
	def := models.DefaultStreamConfig()
	assert.Equal(t, def.Endpoint, m.cfg.Endpoint)
	assert.Equal(t, def.InitialBackoff, m.cfg.InitialBackoff)
	assert.Equal(t, def.HeartbeatInterval, m.cfg.HeartbeatInterval)
	assert.Equal(t, def.OutboundQueueSize, m.cfg.OutboundQueueSize)
	assert.False(t, m.IsConnected())
}
