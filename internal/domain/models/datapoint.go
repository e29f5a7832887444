package models

// DataPoint is a single price observation. Timestamp is epoch milliseconds as
// reported upstream (or the local wall clock when the frame carries none).
type DataPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// SeriesStats summarizes a series for display.
type SeriesStats struct {
	Count   int     `json:"count"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	Latest  float64 `json:"latest"`
}
