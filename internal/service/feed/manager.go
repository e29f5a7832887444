package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"LiveTicks/internal/domain/models"
	drepo "LiveTicks/internal/domain/repository"
	"LiveTicks/internal/service/buffer"
	"LiveTicks/pkg/logger"
	"LiveTicks/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Store is the slice of the state store the manager writes to.
type Store interface {
	SetConnectionStatus(status models.ConnectionStatus)
	AddDataPoints(batch []models.DataPoint) int
	IsPaused() bool
	Settings() models.AppSettings
	SetError(msg string)
	ClearError()
}

// CommitHook observes every batch committed to the store. It runs while the
// manager is locked and must not block.
type CommitHook func(batch []models.DataPoint)

// Manager owns the transport session for one feed endpoint: dialing,
// heartbeat, batch flushing and reconnect with exponential backoff. All state
// changes go through dispatch, one event at a time.
type Manager struct {
	cfg     models.StreamConfig
	dialer  drepo.Dialer
	store   Store
	metrics drepo.Metrics
	log     *logger.Logger
	sched   Scheduler
	now     func() time.Time
	onBatch CommitHook

	mu          sync.Mutex
	gen         uint64
	sessionID   string
	conn        drepo.Conn
	intentional bool
	attempts    uint
	backoff     *backoff.ExponentialBackOff
	lastMessage time.Time
	outbound    [][]byte
	kick        chan struct{}
	pingDue     bool
	retired     []drepo.Conn
	buf         *buffer.Batch
	dialCancel  context.CancelFunc
	heartbeat   Timer
	flush       Timer
	retry       Timer
}

type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r drepo.Metrics) Option {
	return func(m *Manager) {
		if r != nil {
			m.metrics = r
		}
	}
}

// WithScheduler replaces the wall-clock timer source.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		if s != nil {
			m.sched = s
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCommitHook registers a hook for committed batches.
func WithCommitHook(h CommitHook) Option {
	return func(m *Manager) { m.onBatch = h }
}

// NewManager creates a disconnected manager. Zero config fields fall back to
// models.DefaultStreamConfig.
func NewManager(cfg models.StreamConfig, dialer drepo.Dialer, store Store, opts ...Option) *Manager {
	cfg = withDefaults(cfg)
	m := &Manager{
		cfg:         cfg,
		dialer:      dialer,
		store:       store,
		metrics:     metrics.Noop{},
		log:         logger.Nop(),
		sched:       wallScheduler{},
		now:         time.Now,
		intentional: true,
		backoff:     newBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		buf:         buffer.NewBatch(int(store.Settings().MaxDataPoints)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.String("component", "feed"), logger.String("endpoint", cfg.Endpoint))
	return m
}

func withDefaults(cfg models.StreamConfig) models.StreamConfig {
	def := models.DefaultStreamConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = def.OutboundQueueSize
	}
	return cfg
}

// Connect starts a fresh session, superseding any current one, and resets
// the reconnect budget. It returns immediately; progress is reported through
// the store.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.unlock()
	m.intentional = false
	m.attempts = 0
	m.backoff.Reset()
	m.startSessionLocked()
}

// Disconnect closes the session on purpose and suppresses reconnects. It is a
// no-op when nothing is live.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.unlock()
	if m.intentional && m.conn == nil && m.retry == nil && m.dialCancel == nil {
		return
	}
	m.intentional = true
	m.gen++
	m.teardownLocked()
	m.store.SetConnectionStatus(models.StatusDisconnected)
	m.log.Info("disconnected", logger.String("session", m.sessionID))
}

// Send queues msg on the outbound queue. While a transport is open the
// session writer sends it in order behind anything queued earlier; otherwise
// it is replayed on the next successful open. Send never blocks on the
// network and reports whether a transport was open.
func (m *Manager) Send(msg []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueLocked(msg)
	if m.kick == nil {
		return false
	}
	m.kickLocked()
	return true
}

// IsConnected reports whether a transport is currently open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Attempts returns the number of reconnects scheduled since the last open.
func (m *Manager) Attempts() uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// unlock releases m.mu and then closes every transport retired while it was
// held. Closing sends a close frame, which must not stall other events.
func (m *Manager) unlock() {
	retired := m.retired
	m.retired = nil
	m.mu.Unlock()
	for _, c := range retired {
		_ = c.Close()
	}
}

// dispatch is the single intake for transport and timer events.
func (m *Manager) dispatch(ev event) {
	m.mu.Lock()
	defer m.unlock()

	if ev.generation() != m.gen {
		if e, ok := ev.(openedEvent); ok {
			// a dial that finished after being superseded
			m.retired = append(m.retired, e.conn)
		}
		return
	}

	switch e := ev.(type) {
	case openedEvent:
		m.onOpenLocked(e.conn)
	case frameEvent:
		m.onFrameLocked(e.data)
	case errorEvent:
		m.onErrorLocked(e.err)
	case closedEvent:
		m.onCloseLocked(e.err)
	case writeFailedEvent:
		m.onWriteFailedLocked(e)
	case heartbeatEvent:
		m.onHeartbeatLocked()
	case flushEvent:
		m.flush = nil
		// an unexpected close keeps the generation; only a live session re-arms
		if m.conn == nil {
			return
		}
		m.flushLocked()
		m.armFlushLocked()
	case retryEvent:
		m.retry = nil
		m.startSessionLocked()
	}
}

func (m *Manager) startSessionLocked() {
	m.teardownLocked()
	m.gen++
	gen := session(m.gen)
	m.sessionID = uuid.NewString()
	m.store.SetConnectionStatus(models.StatusReconnecting)
	m.metrics.RecordStatus(models.StatusReconnecting)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.dialCancel = cancel
	log := m.log.With(logger.String("session", m.sessionID))
	log.Info("connecting", logger.Int("attempt", int(m.attempts)))

	go func() {
		defer cancel()
		conn, err := m.dialer.Dial(ctx, m.cfg.Endpoint)
		if err != nil {
			m.dispatch(errorEvent{gen, fmt.Errorf("%w: %w", models.ErrTransportOpen, err)})
			m.dispatch(closedEvent{gen, err})
			return
		}
		m.dispatch(openedEvent{gen, conn})
	}()
}

func (m *Manager) onOpenLocked(conn drepo.Conn) {
	m.dialCancel = nil
	m.conn = conn
	m.attempts = 0
	m.backoff.Reset()
	m.lastMessage = m.now()

	m.store.SetConnectionStatus(models.StatusConnected)
	m.store.ClearError()
	m.metrics.RecordStatus(models.StatusConnected)
	m.metrics.RecordReconnect(0)
	m.log.Info("connected", logger.String("session", m.sessionID))

	m.kick = make(chan struct{}, 1)
	go m.writeLoop(session(m.gen), conn, m.kick)
	if len(m.outbound) > 0 {
		m.log.Debug("replaying queued messages", logger.Int("pending", len(m.outbound)))
		m.kickLocked()
	}

	m.armHeartbeatLocked()
	m.armFlushLocked()
	go m.readLoop(session(m.gen), conn)
}

// writeLoop is the only writer of conn. It drains the outbound queue each
// time it is kicked and exits when the session releases the transport.
func (m *Manager) writeLoop(gen session, conn drepo.Conn, kick <-chan struct{}) {
	for range kick {
		for {
			msg, ping, ok := m.nextWrite(gen)
			if !ok {
				break
			}
			if err := conn.WriteText(msg); err != nil {
				m.dispatch(writeFailedEvent{gen, msg, ping, err})
				break
			}
		}
	}
}

// nextWrite pops the next message for session gen. A pending heartbeat ping
// goes ahead of queued messages.
func (m *Manager) nextWrite(gen session) ([]byte, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen.generation() != m.gen || m.conn == nil {
		return nil, false, false
	}
	if m.pingDue {
		m.pingDue = false
		return []byte("ping"), true, true
	}
	if len(m.outbound) == 0 {
		return nil, false, false
	}
	msg := m.outbound[0]
	m.outbound = m.outbound[1:]
	if len(m.outbound) == 0 {
		m.outbound = nil
	}
	return msg, false, true
}

func (m *Manager) kickLocked() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// onWriteFailedLocked puts a failed message back at the head of the queue so
// it goes out first on the next kick or the next open. The read side decides
// whether the transport is gone.
func (m *Manager) onWriteFailedLocked(e writeFailedEvent) {
	if e.ping {
		m.metrics.RecordError("heartbeat")
		m.log.Warn("heartbeat ping failed", logger.Error(e.err))
		return
	}
	m.metrics.RecordError("send")
	if len(m.outbound) >= m.cfg.OutboundQueueSize {
		m.log.Warn("send failed, outbound queue full, dropping message", logger.Error(e.err))
		m.metrics.RecordError("outbound_overflow")
		return
	}
	m.log.Warn("send failed, requeued", logger.Int("pending", len(m.outbound)+1), logger.Error(e.err))
	m.outbound = append([][]byte{e.msg}, m.outbound...)
}

func (m *Manager) readLoop(gen session, conn drepo.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !isCleanClose(err) {
				m.dispatch(errorEvent{gen, fmt.Errorf("%w: %w", models.ErrTransport, err)})
			}
			m.dispatch(closedEvent{gen, err})
			return
		}
		m.dispatch(frameEvent{gen, data})
	}
}

func (m *Manager) onFrameLocked(data []byte) {
	m.lastMessage = m.now()
	m.metrics.RecordFrame()

	dp, err := Parse(data, m.now)
	if err != nil {
		m.metrics.RecordParseError()
		m.log.Debug("dropping frame", logger.Error(err))
		return
	}
	if m.store.IsPaused() {
		return
	}
	m.buf.SetLimit(int(m.store.Settings().MaxDataPoints))
	if m.buf.Push(dp) {
		m.flushLocked()
	}
}

func (m *Manager) onErrorLocked(err error) {
	msg := models.MsgConnectionError
	kind := "transport"
	switch {
	case errors.Is(err, models.ErrInvalidEndpoint):
		msg, kind = models.MsgOpenFailed, "open"
	case errors.Is(err, models.ErrTransportOpen):
		kind = "open"
	}
	m.store.SetError(msg)
	m.metrics.RecordError(kind)
	m.log.Warn("transport error", logger.String("session", m.sessionID), logger.Error(err))
}

func (m *Manager) onCloseLocked(err error) {
	m.stopTimersLocked()
	m.flushLocked()
	m.dialCancel = nil
	m.releaseConnLocked()
	m.log.Info("transport closed", logger.String("session", m.sessionID), logger.Any("reason", errString(err)))

	// Disconnect bumps the generation before closing, so only unexpected
	// closes get here.
	m.scheduleReconnectLocked()
}

func (m *Manager) scheduleReconnectLocked() {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.store.SetError(models.MsgMaxRetries)
		m.store.SetConnectionStatus(models.StatusDisconnected)
		m.metrics.RecordStatus(models.StatusDisconnected)
		m.metrics.RecordError("max_retries")
		m.log.Error("giving up", logger.Int("attempts", int(m.attempts)), logger.Error(models.ErrMaxRetriesExceeded))
		return
	}

	m.attempts++
	delay := m.backoff.NextBackOff()
	m.store.SetConnectionStatus(models.StatusReconnecting)
	m.metrics.RecordStatus(models.StatusReconnecting)
	m.metrics.RecordReconnect(int(m.attempts))
	m.log.Info("reconnect scheduled",
		logger.Int("attempt", int(m.attempts)),
		logger.Int("max_attempts", int(m.cfg.MaxReconnectAttempts)),
		logger.Duration("delay_ms", delay),
	)

	gen := session(m.gen)
	m.retry = m.sched.AfterFunc(delay, func() { m.dispatch(retryEvent{gen}) })
}

func (m *Manager) onHeartbeatLocked() {
	if m.conn == nil {
		return
	}
	if silence := m.now().Sub(m.lastMessage); silence > m.cfg.HeartbeatInterval {
		m.log.Debug("no traffic, sending ping", logger.Duration("silence_ms", silence))
		m.pingDue = true
		m.kickLocked()
	}
	m.armHeartbeatLocked()
}

func (m *Manager) armHeartbeatLocked() {
	gen := session(m.gen)
	m.heartbeat = m.sched.AfterFunc(m.cfg.HeartbeatInterval, func() { m.dispatch(heartbeatEvent{gen}) })
}

func (m *Manager) armFlushLocked() {
	gen := session(m.gen)
	m.flush = m.sched.AfterFunc(m.cfg.FlushInterval, func() { m.dispatch(flushEvent{gen}) })
}

// flushLocked commits everything buffered to the store in one update.
func (m *Manager) flushLocked() {
	batch := m.buf.Flush()
	if len(batch) == 0 {
		return
	}
	start := m.now()
	n := m.store.AddDataPoints(batch)
	if n == 0 {
		return
	}
	m.metrics.RecordFlush(n)
	m.metrics.RecordLastPrice(batch[len(batch)-1].Value)
	m.metrics.RecordLatency("flush", m.now().Sub(start).Seconds())
	if m.onBatch != nil {
		m.onBatch(batch)
	}
}

func (m *Manager) enqueueLocked(msg []byte) {
	if len(m.outbound) >= m.cfg.OutboundQueueSize {
		m.log.Warn("outbound queue full, dropping oldest message", logger.Int("size", len(m.outbound)))
		m.metrics.RecordError("outbound_overflow")
		m.outbound = m.outbound[1:]
	}
	m.outbound = append(m.outbound, append([]byte(nil), msg...))
}

func (m *Manager) stopTimersLocked() {
	for _, t := range []*Timer{&m.heartbeat, &m.flush, &m.retry} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

// teardownLocked cancels every timer and in-flight dial, flushes the buffer
// and releases the transport of the current session.
func (m *Manager) teardownLocked() {
	m.stopTimersLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.flushLocked()
	m.releaseConnLocked()
}

// releaseConnLocked stops the session writer and hands the transport to
// unlock for closing.
func (m *Manager) releaseConnLocked() {
	if m.kick != nil {
		close(m.kick)
		m.kick = nil
	}
	m.pingDue = false
	if m.conn != nil {
		m.retired = append(m.retired, m.conn)
		m.conn = nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
