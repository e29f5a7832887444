package models

// Snapshot is a consistent read of the whole stream state.
type Snapshot struct {
	Status   ConnectionStatus `json:"connectionStatus"`
	Series   []DataPoint      `json:"dataPoints"`
	IsPaused bool             `json:"isPaused"`
	Settings AppSettings      `json:"settings"`
	Error    *string          `json:"error"`
	Version  uint64           `json:"version"`
}
