package models

import "time"

type ChartType string

const (
	ChartLine ChartType = "line"
	ChartBar  ChartType = "bar"
)

// AppSettings are display-side knobs. They influence buffering and eviction
// only, never the transport.
type AppSettings struct {
	UpdateFrequencyMs uint      `json:"updateFrequency" yaml:"update_frequency_ms" default:"1000"`
	ChartType         ChartType `json:"chartType" yaml:"chart_type" default:"line" validate:"oneof=line bar"`
	MaxDataPoints     uint      `json:"maxDataPoints" yaml:"max_data_points" default:"100" validate:"gte=1"`
}

// DefaultSettings mirrors the initial state of a fresh store.
func DefaultSettings() AppSettings {
	return AppSettings{
		UpdateFrequencyMs: 1000,
		ChartType:         ChartLine,
		MaxDataPoints:     100,
	}
}

// SettingsPatch is a partial update; nil fields are left untouched.
type SettingsPatch struct {
	UpdateFrequencyMs *uint      `json:"updateFrequency,omitempty" validate:"omitempty,gte=1"`
	ChartType         *ChartType `json:"chartType,omitempty" validate:"omitempty,oneof=line bar"`
	MaxDataPoints     *uint      `json:"maxDataPoints,omitempty" validate:"omitempty,gte=1,lte=100000"`
}

// Apply merges the patch onto s and returns the result.
func (p SettingsPatch) Apply(s AppSettings) AppSettings {
	if p.UpdateFrequencyMs != nil {
		s.UpdateFrequencyMs = *p.UpdateFrequencyMs
	}
	if p.ChartType != nil {
		s.ChartType = *p.ChartType
	}
	if p.MaxDataPoints != nil && *p.MaxDataPoints > 0 {
		s.MaxDataPoints = *p.MaxDataPoints
	}
	return s
}

// StreamConfig is fixed for the lifetime of a connection manager.
type StreamConfig struct {
	Endpoint             string
	MaxReconnectAttempts uint
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	HeartbeatInterval    time.Duration
	FlushInterval        time.Duration
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	OutboundQueueSize    int
}

// DefaultStreamConfig returns the settings used when nothing is configured.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Endpoint:             "wss://stream.binance.com:9443/ws/btcusdt@trade",
		MaxReconnectAttempts: 5,
		InitialBackoff:       time.Second,
		MaxBackoff:           30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		FlushInterval:        100 * time.Millisecond,
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
		OutboundQueueSize:    256,
	}
}
