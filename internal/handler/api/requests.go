package api

import "LiveTicks/internal/domain/models"

// SeriesRequest filters GET /series. Limit 0 returns everything; Since keeps
// points with a timestamp strictly greater than it.
type SeriesRequest struct {
	Limit int   `query:"limit" validate:"gte=0,lte=100000"`
	Since int64 `query:"since" validate:"gte=0"`
}

// SendRequest is the body of POST /send.
type SendRequest struct {
	Message string `json:"message" validate:"required,max=65536"`
}

// HistoryRequest queries the archive. From and To accept RFC3339 or unix
// seconds/milliseconds.
type HistoryRequest struct {
	From  string `query:"from"`
	To    string `query:"to"`
	Limit int    `query:"limit" default:"1000" validate:"gte=1,lte=10000"`
}

type StatusResponse struct {
	Status    models.ConnectionStatus `json:"status"`
	Connected bool                    `json:"connected"`
	IsPaused  bool                    `json:"isPaused"`
	Error     *string                 `json:"error"`
	Points    int                     `json:"points"`
}

type SendResponse struct {
	Sent   bool `json:"sent"`
	Queued bool `json:"queued"`
}

type PauseResponse struct {
	IsPaused bool `json:"isPaused"`
}

// filterSeries applies SeriesRequest to series, oldest first.
func filterSeries(series []models.DataPoint, req SeriesRequest) []models.DataPoint {
	if req.Since > 0 {
		i := 0
		for i < len(series) && series[i].Timestamp <= req.Since {
			i++
		}
		series = series[i:]
	}
	if req.Limit > 0 && len(series) > req.Limit {
		series = series[len(series)-req.Limit:]
	}
	return series
}
