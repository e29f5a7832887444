package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"LiveTicks/internal/domain/models"
	"LiveTicks/internal/service/state"
	"LiveTicks/internal/usecase"
	xlogger "LiveTicks/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	*state.Store

	mu        sync.Mutex
	connected bool
	sent      [][]byte
	history   []models.DataPoint
	histErr   error
	connects  int
}

func newFakeStream() *fakeStream {
	return &fakeStream{Store: state.New(models.DefaultSettings())}
}

func (f *fakeStream) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.connects++
	f.connected = true
	f.mu.Unlock()
	f.SetConnectionStatus(models.StatusConnected)
	return nil
}

func (f *fakeStream) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.SetConnectionStatus(models.StatusDisconnected)
}

func (f *fakeStream) Send(msg []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.connected
}

func (f *fakeStream) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) Stats() models.SeriesStats { return usecase.ComputeStats(f.Series()) }

func (f *fakeStream) ClearSeries(context.Context) error {
	f.ClearDataPoints()
	return nil
}

func (f *fakeStream) History(_ context.Context, _, _ time.Time, limit int) ([]models.DataPoint, error) {
	if f.histErr != nil {
		return nil, f.histErr
	}
	if limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func setup(t *testing.T) (*echo.Echo, *fakeStream, *Hub) {
	t.Helper()
	svc := newFakeStream()
	hub := NewHub(xlogger.Nop(), svc, 2)
	h := NewStreamEchoHandler(xlogger.Nop(), svc, hub, 1000, 1000)
	e := echo.New()
	h.RegisterRoutes(e)
	return e, svc, hub
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestStatusAndLifecycle(t *testing.T) {
	e, svc, _ := setup(t)

	rec, env := do(t, e, http.MethodGet, "/api/v1/stream/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st StatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, models.StatusDisconnected, st.Status)
	assert.False(t, st.Connected)

	rec, _ = do(t, e, http.MethodPost, "/api/v1/stream/connect", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, svc.IsConnected())

	rec, env = do(t, e, http.MethodPost, "/api/v1/stream/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p PauseResponse
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.True(t, p.IsPaused)

	rec, _ = do(t, e, http.MethodPost, "/api/v1/stream/disconnect", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusDisconnected, svc.Status())
}

func TestSeriesFilters(t *testing.T) {
	e, svc, _ := setup(t)
	svc.AddDataPoints([]models.DataPoint{{Timestamp: 1, Value: 1}, {Timestamp: 2, Value: 2}, {Timestamp: 3, Value: 3}, {Timestamp: 4, Value: 4}})

	rec, env := do(t, e, http.MethodGet, "/api/v1/stream/series?since=1&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.DataPoint `json:"rows"`
		Total int64              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, []models.DataPoint{{Timestamp: 3, Value: 3}, {Timestamp: 4, Value: 4}}, list.Rows)
	assert.EqualValues(t, 2, list.Total)

	rec, _ = do(t, e, http.MethodGet, "/api/v1/stream/series?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodDelete, "/api/v1/stream/series", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, svc.Series())
}

func TestStats(t *testing.T) {
	e, svc, _ := setup(t)
	svc.AddDataPoints([]models.DataPoint{{Timestamp: 1, Value: 10}, {Timestamp: 2, Value: 30}})

	_, env := do(t, e, http.MethodGet, "/api/v1/stream/stats", "")
	var stats models.SeriesStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 20.0, stats.Average)
	assert.Equal(t, 30.0, stats.Latest)
}

func TestUpdateSettings(t *testing.T) {
	e, svc, _ := setup(t)

	rec, env := do(t, e, http.MethodPatch, "/api/v1/stream/settings", `{"maxDataPoints":3,"chartType":"bar"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got models.AppSettings
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, uint(3), got.MaxDataPoints)
	assert.Equal(t, models.ChartBar, got.ChartType)
	assert.Equal(t, uint(1000), got.UpdateFrequencyMs)
	assert.Equal(t, got, svc.Settings())

	rec, _ = do(t, e, http.MethodPatch, "/api/v1/stream/settings", `{"chartType":"pie"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, models.ChartBar, svc.Settings().ChartType)

	rec, _ = do(t, e, http.MethodGet, "/api/v1/stream/settings", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSend(t *testing.T) {
	e, svc, _ := setup(t)

	rec, env := do(t, e, http.MethodPost, "/api/v1/stream/send", `{"message":"sub"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp SendResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.Queued)

	require.NoError(t, svc.Connect(context.Background()))
	rec, _ = do(t, e, http.MethodPost, "/api/v1/stream/send", `{"message":"sub"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/api/v1/stream/send", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, svc.sent, 2)
}

func TestSendRateLimited(t *testing.T) {
	svc := newFakeStream()
	h := NewStreamEchoHandler(xlogger.Nop(), svc, nil, 0.001, 1)
	e := echo.New()
	h.RegisterRoutes(e)

	rec, _ := do(t, e, http.MethodPost, "/api/v1/stream/send", `{"message":"a"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec, _ = do(t, e, http.MethodPost, "/api/v1/stream/send", `{"message":"b"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHistory(t *testing.T) {
	e, svc, _ := setup(t)

	svc.histErr = usecase.ErrNoArchive
	rec, _ := do(t, e, http.MethodGet, "/api/v1/stream/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	svc.histErr = nil
	svc.history = []models.DataPoint{{Timestamp: 1, Value: 1}, {Timestamp: 2, Value: 2}}
	rec, env := do(t, e, http.MethodGet, "/api/v1/stream/history?from=1700000000&to=1700003600&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows []models.DataPoint `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Rows, 1)

	rec, _ = do(t, e, http.MethodGet, "/api/v1/stream/history?from=1700003600&to=1700000000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHubPushesSnapshots(t *testing.T) {
	e, svc, hub := setup(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, b, err := conn.ReadMessage()
		require.NoError(t, err)
		var m Message
		require.NoError(t, json.Unmarshal(b, &m))
		return m
	}

	first := read()
	assert.Equal(t, "snapshot", first.Type)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	svc.AddDataPoints([]models.DataPoint{{Timestamp: 5, Value: 42}})
	for {
		m := read()
		data, _ := json.Marshal(m.Data)
		var snap models.Snapshot
		require.NoError(t, json.Unmarshal(data, &snap))
		if len(snap.Series) == 1 {
			assert.Equal(t, 42.0, snap.Series[0].Value)
			break
		}
	}

	hub.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubConnectionLimit(t *testing.T) {
	e, _, hub := setup(t)
	srv := httptest.NewServer(e)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/ws"
	for i := 0; i < 2; i++ {
		c, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer c.Close()
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFilterSeries(t *testing.T) {
	series := []models.DataPoint{{Timestamp: 1}, {Timestamp: 2}, {Timestamp: 3}}
	assert.Len(t, filterSeries(series, SeriesRequest{}), 3)
	assert.Len(t, filterSeries(series, SeriesRequest{Since: 3}), 0)
	assert.Equal(t, []models.DataPoint{{Timestamp: 3}}, filterSeries(series, SeriesRequest{Limit: 1}))
}
