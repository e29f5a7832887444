package models

import "errors"

var (
	// ErrInvalidEndpoint means the configured URL can never be dialed.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrTransportOpen is returned when the feed endpoint cannot be dialed.
	ErrTransportOpen = errors.New("transport open failed")
	// ErrTransport marks a mid-session read/write failure.
	ErrTransport = errors.New("transport error")
	// ErrInvalidValue means a frame carried no usable price.
	ErrInvalidValue = errors.New("invalid value")
	// ErrMaxRetriesExceeded ends a session after the reconnect budget is spent.
	ErrMaxRetriesExceeded = errors.New("max retries reached")
)

// User-visible error strings kept in the store.
const (
	MsgConnectionError = "WebSocket connection error occurred"
	MsgOpenFailed      = "Failed to create WebSocket"
	MsgMaxRetries      = "Connection failed after max retries"
)
