package models

// ConnectionStatus is the health of the feed connection as seen by readers.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Gauge maps the status onto a numeric value for metrics.
func (s ConnectionStatus) Gauge() float64 {
	switch s {
	case StatusConnected:
		return 2
	case StatusReconnecting:
		return 1
	default:
		return 0
	}
}
