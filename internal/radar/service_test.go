package radar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubIngestor serves /last with scripted prices per symbol.
type stubIngestor struct {
	mu     sync.Mutex
	prices map[string]string
	srv    *httptest.Server
}

func newStubIngestor(t *testing.T) *stubIngestor {
	t.Helper()
	stub := &stubIngestor{prices: make(map[string]string)}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		stub.mu.Lock()
		price, ok := stub.prices[symbol]
		stub.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			fmt.Fprintf(w, `{"ok":true,"last":{"symbol":%q,"price":null}}`, symbol)
			return
		}
		fmt.Fprintf(w, `{"ok":true,"last":{"symbol":%q,"price":%q,"ts":1}}`, symbol, price)
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func (s *stubIngestor) set(symbol, price string) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

func newTestService(t *testing.T, ingestorURL string, symbols ...string) *Service {
	t.Helper()
	if len(symbols) == 0 {
		symbols = []string{"BTCUSDT"}
	}
	return NewService(zaptest.NewLogger(t), symbols, ingestorURL, t.TempDir())
}

func TestScanReportsMoversPastThreshold(t *testing.T) {
	stub := newStubIngestor(t)
	stub.set("BTCUSDT", "100.0")
	stub.set("ETHUSDT", "50.0")
	stub.set("SOLUSDT", "10.0")
	svc := newTestService(t, stub.srv.URL, "BTCUSDT", "ETHUSDT", "SOLUSDT")

	// The first scan only seeds the price cache.
	assert.Empty(t, svc.Scan(0.005))

	// +2% on BTC, +5% on ETH, +0.1% on SOL.
	stub.set("BTCUSDT", "102.0")
	stub.set("ETHUSDT", "52.5")
	stub.set("SOLUSDT", "10.01")

	movers := svc.Scan(0.005)
	require.Len(t, movers, 2)
	assert.Equal(t, "ETHUSDT", movers[0].Symbol)
	assert.InDelta(t, 0.05, movers[0].Change, 1e-9)
	assert.Equal(t, "BTCUSDT", movers[1].Symbol)
	assert.InDelta(t, 0.02, movers[1].Change, 1e-9)
}

func TestScanSkipsUnseenAndUnreachable(t *testing.T) {
	stub := newStubIngestor(t)
	svc := newTestService(t, stub.srv.URL, "BTCUSDT")

	// No price yet: nothing to report, nothing cached.
	assert.Empty(t, svc.Scan(0.005))

	// A dead ingestor yields an empty scan, not an error.
	dead := newTestService(t, "http://127.0.0.1:1", "BTCUSDT")
	assert.Empty(t, dead.Scan(0.005))
}

func TestScanAcceptsTopLevelTick(t *testing.T) {
	var mu sync.Mutex
	price := "100.0"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		p := price
		mu.Unlock()
		fmt.Fprintf(w, `{"symbol":"BTCUSDT","price":%q,"ts":1}`, p)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL, "BTCUSDT")
	assert.Empty(t, svc.Scan(0.005))

	mu.Lock()
	price = "110.0"
	mu.Unlock()
	movers := svc.Scan(0.005)
	require.Len(t, movers, 1)
	assert.InDelta(t, 0.1, movers[0].Change, 1e-9)
}

func TestTrainPersistsMetrics(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:1")

	state, trained, err := svc.Train([]float64{0.1, -0.05, 0.2, -0.1, 0.15})
	require.NoError(t, err)
	require.True(t, trained)
	assert.InDelta(t, 0.3, state.PnLTotal, 1e-9)
	assert.InDelta(t, baseEquity+0.3, state.Equity, 1e-9)
	assert.Equal(t, 1, state.Episode)
	assert.Equal(t, 5, state.TradesCount)
	require.NotNil(t, state.Timestamp)

	// The document survives a reload.
	loaded, err := svc.Metrics()
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	// Training again bumps the episode counter.
	state, trained, err = svc.Train([]float64{0.1})
	require.NoError(t, err)
	require.True(t, trained)
	assert.Equal(t, 2, state.Episode)
}

func TestTrainEmptySeriesIsRefused(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:1")

	_, trained, err := svc.Train(nil)
	require.NoError(t, err)
	assert.False(t, trained)

	// State stays at its defaults.
	state, err := svc.Metrics()
	require.NoError(t, err)
	assert.Equal(t, baseEquity, state.Equity)
	assert.Zero(t, state.Episode)
}

func TestEpisodeLifecycle(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:1")

	state, err := svc.StartEpisodes()
	require.NoError(t, err)
	assert.True(t, state.Running)

	// Starting twice is harmless.
	state, err = svc.StartEpisodes()
	require.NoError(t, err)
	assert.True(t, state.Running)

	state, err = svc.StopEpisodes()
	require.NoError(t, err)
	assert.False(t, state.Running)

	// Stopping again after the loop is gone must not hang.
	_, err = svc.StopEpisodes()
	require.NoError(t, err)
}

func TestEpisodeTickAdvancesMockMetrics(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:1")

	svc.episodeTick()
	svc.episodeTick()

	state, err := svc.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 2, state.Episode)
	assert.Equal(t, 2, state.TradesCount)
	assert.InDelta(t, 2, state.PnLTotal, 1e-9)
	assert.InDelta(t, baseEquity+2, state.Equity, 1e-9)
	assert.InDelta(t, 1.2, state.Sharpe, 1e-9)
	require.NotNil(t, state.Timestamp)
}

func TestMetricsEndpointShape(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, "http://127.0.0.1:1")
	_, trained, err := svc.Train([]float64{0.1, -0.05, 0.2, -0.1, 0.15})
	require.NoError(t, err)
	require.True(t, trained)
	router := svc.Router()

	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	metrics := resp["metrics"].(map[string]interface{})
	assert.InDelta(t, 0.3, metrics["pnl_total"].(float64), 1e-9)
	assert.InDelta(t, 0.6, metrics["win_rate"].(float64), 1e-9)
	assert.NotEmpty(t, metrics["recommendation"])
	assert.NotEmpty(t, metrics["timestamp"])
}

func TestTrainEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, "http://127.0.0.1:1")
	router := svc.Router()

	body := bytes.NewBufferString(`{"returns":[0.1,-0.05,0.2]}`)
	req, _ := http.NewRequest(http.MethodPost, "/train", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])

	// An empty series is acknowledged but refused.
	req, _ = http.NewRequest(http.MethodPost, "/train", bytes.NewBufferString(`{"returns":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, "no_returns", resp["error"])
}

func TestScanEndpointThresholdValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, "http://127.0.0.1:1")
	router := svc.Router()

	req, _ := http.NewRequest(http.MethodGet, "/scan?threshold=abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req, _ = http.NewRequest(http.MethodGet, "/scan", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []interface{}{}, resp["results"])
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t, "http://127.0.0.1:1")
	router := svc.Router()

	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ai_radar", resp["name"])
	assert.Equal(t, "0.2.0", resp["version"])
}
