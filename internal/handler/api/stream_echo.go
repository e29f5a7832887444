package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"LiveTicks/internal/domain/models"
	"LiveTicks/internal/usecase"
	xhttp "LiveTicks/pkg/http"
	xlogger "LiveTicks/pkg/logger"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// StreamAPI is what the HTTP adapter needs from the stream service.
type StreamAPI interface {
	Connect(ctx context.Context) error
	Disconnect()
	TogglePause() bool
	UpdateSettings(patch models.SettingsPatch) models.AppSettings
	Send(msg []byte) bool
	Snapshot() models.Snapshot
	Subscribe() (<-chan models.Snapshot, func())
	IsConnected() bool
	Stats() models.SeriesStats
	ClearSeries(ctx context.Context) error
	History(ctx context.Context, from, to time.Time, limit int) ([]models.DataPoint, error)
}

// StreamEchoHandler exposes the stream service to display clients over HTTP.
type StreamEchoHandler struct {
	logger *xlogger.Logger
	svc    StreamAPI
	sendRL *rate.Limiter
	hub    *Hub
}

// NewStreamEchoHandler creates the handler. sendPerSec and sendBurst bound
// POST /send across all clients.
func NewStreamEchoHandler(logger *xlogger.Logger, svc StreamAPI, hub *Hub, sendPerSec float64, sendBurst int) *StreamEchoHandler {
	if sendPerSec <= 0 {
		sendPerSec = 5
	}
	if sendBurst <= 0 {
		sendBurst = 10
	}
	return &StreamEchoHandler{
		logger: logger,
		svc:    svc,
		sendRL: rate.NewLimiter(rate.Limit(sendPerSec), sendBurst),
		hub:    hub,
	}
}

func (h *StreamEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/stream")
	g.GET("/status", h.Status)
	g.GET("/snapshot", h.Snapshot)
	g.GET("/series", h.Series)
	g.DELETE("/series", h.ClearSeries)
	g.GET("/stats", h.Stats)
	g.GET("/settings", h.Settings)
	g.PATCH("/settings", h.UpdateSettings)
	g.GET("/history", h.History)
	g.POST("/connect", h.Connect)
	g.POST("/disconnect", h.Disconnect)
	g.POST("/pause", h.TogglePause)
	g.POST("/send", h.Send)
	if h.hub != nil {
		g.GET("/ws", h.hub.Serve)
	}
}

func (h *StreamEchoHandler) Status(c echo.Context) error {
	snap := h.svc.Snapshot()
	return xhttp.SuccessResponse(c, StatusResponse{
		Status:    snap.Status,
		Connected: h.svc.IsConnected(),
		IsPaused:  snap.IsPaused,
		Error:     snap.Error,
		Points:    len(snap.Series),
	})
}

func (h *StreamEchoHandler) Snapshot(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.svc.Snapshot())
}

func (h *StreamEchoHandler) Series(c echo.Context) error {
	req := &SeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows := filterSeries(h.svc.Snapshot().Series, *req)
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *StreamEchoHandler) ClearSeries(c echo.Context) error {
	if err := h.svc.ClearSeries(c.Request().Context()); err != nil {
		h.logger.Warn("clear series: persisted copy not removed", xlogger.Error(err))
	}
	return xhttp.NoContentResponse(c)
}

func (h *StreamEchoHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.svc.Stats())
}

func (h *StreamEchoHandler) Settings(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.svc.Snapshot().Settings)
}

func (h *StreamEchoHandler) UpdateSettings(c echo.Context) error {
	patch := &models.SettingsPatch{}
	if verr := xhttp.ReadAndValidateRequest(c, patch); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.svc.UpdateSettings(*patch))
}

func (h *StreamEchoHandler) History(c echo.Context) error {
	req := &HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	to := xhttp.ParseTimeDefault(req.To, time.Now())
	from := xhttp.ParseTimeDefault(req.From, to.Add(-time.Hour))
	if !from.Before(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("from %s must be before to %s",
			from.Format(time.RFC3339), to.Format(time.RFC3339)))
	}

	rows, err := h.svc.History(c.Request().Context(), from, to, req.Limit)
	if err != nil {
		if errors.Is(err, usecase.ErrNoArchive) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundError("history is not archived").WithError(err))
		}
		h.logger.Error("history query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("archive unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *StreamEchoHandler) Connect(c echo.Context) error {
	if err := h.svc.Connect(c.Request().Context()); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("connect aborted").WithError(err))
	}
	return xhttp.AcceptedResponse(c, StatusResponse{Status: h.svc.Snapshot().Status})
}

func (h *StreamEchoHandler) Disconnect(c echo.Context) error {
	h.svc.Disconnect()
	return xhttp.SuccessResponse(c, StatusResponse{Status: h.svc.Snapshot().Status})
}

func (h *StreamEchoHandler) TogglePause(c echo.Context) error {
	return xhttp.SuccessResponse(c, PauseResponse{IsPaused: h.svc.TogglePause()})
}

func (h *StreamEchoHandler) Send(c echo.Context) error {
	if !h.sendRL.Allow() {
		h.logger.Warn("send rate limited", xlogger.String("remote", c.RealIP()))
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many messages"))
	}
	req := &SendRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sent := h.svc.Send([]byte(req.Message))
	status := http.StatusOK
	if !sent {
		status = http.StatusAccepted
	}
	return xhttp.DataResponse(c, status, SendResponse{Sent: sent, Queued: !sent})
}
