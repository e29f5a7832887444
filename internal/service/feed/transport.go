package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"LiveTicks/internal/domain/models"
	drepo "LiveTicks/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// WSDialer implements repository.Dialer over gorilla/websocket.
type WSDialer struct {
	dialer       *websocket.Dialer
	header       http.Header
	writeTimeout time.Duration
	readLimit    int64
}

// NewWSDialer creates a dialer. handshakeTimeout bounds the opening handshake,
// writeTimeout bounds every outbound frame.
func NewWSDialer(handshakeTimeout, writeTimeout time.Duration) *WSDialer {
	d := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	return &WSDialer{
		dialer:       &d,
		header:       http.Header{},
		writeTimeout: writeTimeout,
		readLimit:    1 << 20,
	}
}

// Dial establishes the WebSocket connection.
func (d *WSDialer) Dial(ctx context.Context, endpoint string) (drepo.Conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidEndpoint, endpoint)
	}

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	conn.SetReadLimit(d.readLimit)
	return &wsConn{conn: conn, writeTimeout: d.writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// ReadMessage blocks until the next text or binary frame.
func (c *wsConn) ReadMessage() ([]byte, error) {
	_, b, err := c.conn.ReadMessage()
	return b, err
}

// WriteText sends one text frame. Callers serialize writes.
func (c *wsConn) WriteText(data []byte) error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a best-effort close frame and releases the socket. Safe to
// call concurrently with ReadMessage and more than once.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// isCleanClose reports whether err is an orderly close by the peer rather
// than a transport failure.
func isCleanClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == websocket.CloseNoStatusReceived
}
