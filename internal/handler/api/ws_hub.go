package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"LiveTicks/internal/domain/models"
	xhttp "LiveTicks/pkg/http"
	xlogger "LiveTicks/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512

	defaultMaxClients = 256
)

// Message is the envelope pushed to display clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SnapshotSource is the subscription side of the stream service. The first
// value on the channel is the current snapshot.
type SnapshotSource interface {
	Subscribe() (<-chan models.Snapshot, func())
}

// Hub pushes state snapshots to websocket clients. Each client gets its own
// coalescing subscription, so a slow client only ever misses intermediate
// snapshots.
type Hub struct {
	logger     *xlogger.Logger
	src        SnapshotSource
	upgrader   websocket.Upgrader
	maxClients int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	done   chan struct{}
	closer sync.Once
}

// NewHub creates a hub. maxClients <= 0 selects the default limit.
func NewHub(logger *xlogger.Logger, src SnapshotSource, maxClients int) *Hub {
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	return &Hub{
		logger: logger,
		src:    src,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		maxClients: maxClients,
		clients:    make(map[*client]struct{}),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve upgrades the request and streams snapshots until the peer leaves or
// the hub is closed.
func (h *Hub) Serve(c echo.Context) error {
	h.mu.Lock()
	full := len(h.clients) >= h.maxClients
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("shutting down"))
	}
	if full {
		h.logger.Warn("websocket client rejected, limit reached", xlogger.Int("limit", h.maxClients))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("connection limit reached"))
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}

	cl := &client{hub: h, conn: conn, id: uuid.NewString(), done: make(chan struct{})}
	if !h.add(cl) {
		_ = conn.Close()
		return nil
	}
	h.logger.Info("websocket client registered", xlogger.String("id", cl.id))

	go cl.readPump()
	cl.writePump()
	return nil
}

func (h *Hub) add(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= h.maxClients {
		return false
	}
	h.clients[cl] = struct{}{}
	return true
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	_, ok := h.clients[cl]
	delete(h.clients, cl)
	h.mu.Unlock()
	if ok {
		h.logger.Info("websocket client unregistered", xlogger.String("id", cl.id))
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	for _, cl := range clients {
		cl.stop()
	}
}

func (cl *client) stop() {
	cl.closer.Do(func() { close(cl.done) })
}

// readPump discards client input and keeps the read deadline alive.
func (cl *client) readPump() {
	defer cl.stop()

	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.hub.logger.Debug("websocket client read error", xlogger.String("id", cl.id), xlogger.Error(err))
			}
			return
		}
	}
}

func (cl *client) writePump() {
	updates, unsubscribe := cl.hub.src.Subscribe()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		cl.hub.remove(cl)
		_ = cl.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = cl.conn.Close()
	}()

	for {
		select {
		case <-cl.done:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := cl.writeSnapshot(snap); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (cl *client) writeSnapshot(snap models.Snapshot) error {
	payload, err := json.Marshal(Message{Type: "snapshot", Data: snap})
	if err != nil {
		cl.hub.logger.Error("marshal snapshot", xlogger.Error(err))
		return err
	}
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		cl.hub.logger.Debug("websocket write failed", xlogger.String("id", cl.id), xlogger.Error(err))
		return err
	}
	return nil
}
