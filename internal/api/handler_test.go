package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpSentinel/internal/adaptive"
	"PerpSentinel/internal/config"
	"PerpSentinel/internal/model"
	"PerpSentinel/internal/monitor"
)

type nopSource struct{}

func (nopSource) Subscribe(string, func(model.Tick)) error { return nil }
func (nopSource) Unsubscribe(string) error                 { return nil }

func setup(t *testing.T) (*gin.Engine, *monitor.Manager, *adaptive.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	state, err := adaptive.NewStore()
	require.NoError(t, err)
	mgr := monitor.NewManager(config.Monitor{Leverage: 10}, nopSource{}, nil, state)

	r := gin.New()
	RegisterRoutes(r, NewHandler(mgr, state, []string{"15m", "1h"}))
	return r, mgr, state
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func openLong(t *testing.T, mgr *monitor.Manager, symbol string) {
	t.Helper()
	_, err := mgr.Open(context.Background(), monitor.OpenRequest{
		Symbol: symbol, Timeframe: "1h", Entry: 100, Targets: []float64{101, 102},
		StopLoss: 98, Direction: model.DirectionLong,
	})
	require.NoError(t, err)
}

func TestHealthz(t *testing.T) {
	r, mgr, _ := setup(t)
	openLong(t, mgr, "BTCUSDT")

	w := do(r, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status   string `json:"status"`
		Monitors int    `json:"monitors"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Monitors)
}

func TestMonitorRoutes(t *testing.T) {
	r, mgr, state := setup(t)
	openLong(t, mgr, "ETHUSDT")
	openLong(t, mgr, "BTCUSDT")

	w := do(r, http.MethodGet, "/monitors")
	require.Equal(t, http.StatusOK, w.Code)
	var list []monitor.Snapshot
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "BTCUSDT", list[0].Symbol)

	w = do(r, http.MethodGet, "/monitors/btcusdt")
	require.Equal(t, http.StatusOK, w.Code)
	var snap monitor.Snapshot
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 100.0, snap.Entry)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/monitors/SOLUSDT").Code)

	w = do(r, http.MethodPost, "/monitors/BTCUSDT/close")
	require.Equal(t, http.StatusOK, w.Code)
	var ev model.CompletedEvent
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &ev))
	assert.Equal(t, model.ReasonManual, ev.Reason)
	assert.False(t, mgr.Has("BTCUSDT"))
	assert.Equal(t, 1, state.SymbolStats("BTCUSDT").Trades)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/monitors/BTCUSDT/close").Code)
}

func TestDecisions(t *testing.T) {
	r, _, state := setup(t)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/decisions/BTCUSDT").Code)

	state.UpdateDecision(adaptive.Key("BTCUSDT", "1h"), func(adaptive.Decision, bool) adaptive.Decision {
		return adaptive.Decision{Score: 71.5, Valid: true}
	})

	w := do(r, http.MethodGet, "/decisions/BTCUSDT")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Symbol    string                       `json:"symbol"`
		Decisions map[string]adaptive.Decision `json:"decisions"`
	}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body.Decisions, "1h")
	assert.True(t, body.Decisions["1h"].Valid)
	assert.NotContains(t, body.Decisions, "15m")

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/decisions/BTCUSDT?timeframe=15m").Code)
}

func TestStats(t *testing.T) {
	r, _, state := setup(t)
	require.NoError(t, state.RecordOutcome(context.Background(), model.Outcome{Symbol: "BTCUSDT", IsWin: true, LeveragedPnL: 30}))

	w := do(r, http.MethodGet, "/stats/BTCUSDT")
	require.Equal(t, http.StatusOK, w.Code)
	var st adaptive.Stats
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 1.0, st.WinRate)
}
