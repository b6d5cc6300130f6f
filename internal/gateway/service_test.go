package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// deadBase is a port nothing listens on; requests to it fail fast.
const deadBase = "http://127.0.0.1:1"

func newTestService(t *testing.T, bases Upstreams) *Service {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fill := func(s *string) {
		if *s == "" {
			*s = deadBase
		}
	}
	fill(&bases.Executor)
	fill(&bases.Backtester)
	fill(&bases.Ingestor)
	fill(&bases.AI)
	fill(&bases.Alerts)

	svc, err := NewService(zaptest.NewLogger(t), bases)
	require.NoError(t, err)
	return svc
}

func newStubUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

// stubPrice is a scripted ingestor price; ts advances on every change so
// the poller sees a fresh tick.
type stubPrice struct {
	mu    sync.Mutex
	price string
	ts    int64
}

func newStubPrice(price string) *stubPrice { return &stubPrice{price: price, ts: 1} }

func (p *stubPrice) set(price string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price = price
	p.ts++
}

func (p *stubPrice) get() (string, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price, p.ts
}

func newStubIngestor(t *testing.T, symbols []string, price *stubPrice) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true, "running": true, "symbols": symbols, "have": symbols,
		})
	})
	mux.HandleFunc("/last", func(w http.ResponseWriter, r *http.Request) {
		p, ts := price.get()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok": true,
			"last": map[string]interface{}{
				"symbol": r.URL.Query().Get("symbol"), "price": p, "ts": ts,
			},
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, router *gin.Engine, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	// httptest.NewRequest carries a context with a nil Done channel, which
	// sends httputil.ReverseProxy into its CloseNotifier branch and panics on
	// the recorder; a cancellable context keeps it on the context path, as
	// with a real server.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req := httptest.NewRequest(method, target, reader).WithContext(ctx)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(t, Upstreams{})
	w := doRequest(t, svc.Router(), http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "ai_llm_gateway", body["name"])
	assert.Equal(t, "2.6.1", body["version"])
}

func TestProxyForwardsGetWithQueryAndHeaders(t *testing.T) {
	var gotPath, gotQuery, gotHeader string
	stub := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("limit")
		gotHeader = r.Header.Get("X-Dashboard")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"trades":[]}`))
	})

	svc := newTestService(t, Upstreams{Executor: stub.URL})
	router := svc.Router()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req := httptest.NewRequest(http.MethodGet, "/proxy/executor/trades?limit=3", nil).WithContext(ctx)
	req.Header.Set("X-Dashboard", "ops")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/trades", gotPath)
	assert.Equal(t, "3", gotQuery)
	assert.Equal(t, "ops", gotHeader)
	assert.JSONEq(t, `{"ok":true,"trades":[]}`, w.Body.String())
}

func TestProxyForwardsPostBody(t *testing.T) {
	var gotBody []byte
	stub := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"order_id":"0x1"}`))
	})

	svc := newTestService(t, Upstreams{Executor: stub.URL})
	order := []byte(`{"symbol":"BTCUSDT","side":"buy","qty":"1"}`)
	w := doRequest(t, svc.Router(), http.MethodPost, "/proxy/executor/order_paper", order)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, string(order), string(gotBody))
	body := decodeBody(t, w)
	assert.Equal(t, "0x1", body["order_id"])
}

func TestProxyPreservesUpstreamStatus(t *testing.T) {
	stub := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"ok":false,"error":"maintenance"}`))
	})

	svc := newTestService(t, Upstreams{Alerts: stub.URL})
	w := doRequest(t, svc.Router(), http.MethodGet, "/proxy/alerts/alerts", nil)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "maintenance", body["error"])
}

func TestProxyUpstreamDownAnswers502(t *testing.T) {
	svc := newTestService(t, Upstreams{})
	w := doRequest(t, svc.Router(), http.MethodGet, "/proxy/executor/health", nil)

	require.Equal(t, http.StatusBadGateway, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["ok"])
	assert.Contains(t, body["error"], "executor")
	assert.Contains(t, body["error"], "unavailable")
}

func TestTradingStatusFanOut(t *testing.T) {
	healthyStub := func() *httptest.Server {
		return newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ok":true}`))
		})
	}
	executor := healthyStub()
	ingestor := healthyStub()

	svc := newTestService(t, Upstreams{Executor: executor.URL, Ingestor: ingestor.URL})
	w := doRequest(t, svc.Router(), http.MethodGet, "/api/trading/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		OK       bool            `json:"ok"`
		Services []serviceStatus `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.OK)
	require.Len(t, body.Services, 5)

	byName := map[string]bool{}
	var order []string
	for _, st := range body.Services {
		byName[st.Name] = st.OK
		order = append(order, st.Name)
	}
	assert.Equal(t, []string{"executor", "backtester", "ingestor", "ai", "alerts"}, order)
	assert.True(t, byName["executor"])
	assert.True(t, byName["ingestor"])
	assert.False(t, byName["backtester"])
	assert.False(t, byName["ai"])
	assert.False(t, byName["alerts"])
}

func TestTradingPositionsPassthrough(t *testing.T) {
	stub := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/positions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"positions":[{"symbol":"BTCUSDT","qty":"1"}]}`))
	})

	svc := newTestService(t, Upstreams{Executor: stub.URL})
	w := doRequest(t, svc.Router(), http.MethodGet, "/api/trading/positions", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"positions":[{"symbol":"BTCUSDT","qty":"1"}]}`, w.Body.String())
}

func TestTradingMetricsErrorsComeBackAs200(t *testing.T) {
	svc := newTestService(t, Upstreams{})
	w := doRequest(t, svc.Router(), http.MethodGet, "/api/trading/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	errMsg, ok := body["error"].(string)
	require.True(t, ok, "expected an error field, got %v", body)
	assert.NotEmpty(t, errMsg)
}

func TestTradingTradesSourceAndLimit(t *testing.T) {
	var executorLimit, backtesterLimit string
	executor := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		executorLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`{"ok":true,"trades":[],"source":"executor"}`))
	})
	backtester := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		backtesterLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`{"ok":true,"trades":[],"source":"backtester"}`))
	})

	svc := newTestService(t, Upstreams{Executor: executor.URL, Backtester: backtester.URL})
	router := svc.Router()

	w := doRequest(t, router, http.MethodGet, "/api/trading/trades", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "50", executorLimit)
	assert.Contains(t, w.Body.String(), `"executor"`)

	doRequest(t, router, http.MethodGet, "/api/trading/trades?limit=7", nil)
	assert.Equal(t, "7", executorLimit)

	// Junk limits fall back instead of reaching the upstream raw.
	doRequest(t, router, http.MethodGet, "/api/trading/trades?limit=abc", nil)
	assert.Equal(t, "50", executorLimit)

	w = doRequest(t, router, http.MethodGet, "/api/trading/trades?source=backtester&limit=9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "9", backtesterLimit)
	assert.Contains(t, w.Body.String(), `"backtester"`)
}

func TestChatEcho(t *testing.T) {
	svc := newTestService(t, Upstreams{})
	router := svc.Router()

	w := doRequest(t, router, http.MethodPost, "/api/ai/chat", []byte(`{"prompt":"how are positions?"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Echo: how are positions?", decodeBody(t, w)["response"])

	w = doRequest(t, router, http.MethodPost, "/api/ai/chat", []byte(`{}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Please enter a question.", decodeBody(t, w)["response"])

	w = doRequest(t, router, http.MethodPost, "/api/ai/chat", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	svc := newTestService(t, Upstreams{})
	w := doRequest(t, svc.Router(), http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tradesim_")
}
