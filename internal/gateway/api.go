package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/opsdesk/tradesim/pkg/web"
)

// Router builds the gateway HTTP surface. CORS stays wide open; the
// dashboard may be served from anywhere.
func (s *Service) Router() *gin.Engine {
	r := web.NewRouter(s.logger, web.WithCORS())

	r.GET("/health", s.handleHealth)

	for _, up := range s.upstreams {
		path := "/proxy/" + up.name + "/*path"
		h := s.proxyHandler(up)
		r.GET(path, h)
		r.POST(path, h)
	}

	api := r.Group("/api")
	api.GET("/trading/status", s.handleStatus)
	api.GET("/trading/metrics", s.handleTradingMetrics)
	api.GET("/trading/positions", s.handleTradingPositions)
	api.GET("/trading/risk", s.handleTradingRisk)
	api.GET("/trading/trades", s.handleTradingTrades)
	api.POST("/ai/chat", s.handleChat)

	r.GET("/ws/prices", func(c *gin.Context) {
		s.hub.ServeWS(c.Writer, c.Request)
	})

	r.GET("/metrics", web.PrometheusHandler())

	return r
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "name": Name, "version": Version})
}

// proxyHandler strips the /proxy/<name> prefix and hands the request to the
// upstream's reverse proxy. Query, body and headers travel untouched.
func (s *Service) proxyHandler(up *upstream) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := c.Request
		req.URL.Path = c.Param("path")
		up.proxy.ServeHTTP(c.Writer, req)
	}
}

type serviceStatus struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
}

// handleStatus pings every upstream /health concurrently and reports which
// ones answered.
func (s *Service) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	statuses := make([]serviceStatus, len(s.upstreams))

	var wg sync.WaitGroup
	for i, up := range s.upstreams {
		wg.Add(1)
		go func(i int, up *upstream) {
			defer wg.Done()
			statuses[i] = serviceStatus{Name: up.name, OK: s.healthy(ctx, up)}
		}(i, up)
	}
	wg.Wait()

	c.JSON(http.StatusOK, gin.H{"ok": true, "services": statuses})
}

func (s *Service) healthy(ctx context.Context, up *upstream) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, up.base.String()+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.statusc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (s *Service) handleTradingMetrics(c *gin.Context) {
	s.passthrough(c, s.bases.AI+"/metrics")
}

func (s *Service) handleTradingPositions(c *gin.Context) {
	s.passthrough(c, s.bases.Executor+"/positions")
}

func (s *Service) handleTradingRisk(c *gin.Context) {
	s.passthrough(c, s.bases.Executor+"/risk")
}

// handleTradingTrades reads recent trades from the executor, or from the
// backtester when source says anything else.
func (s *Service) handleTradingTrades(c *gin.Context) {
	limit := c.DefaultQuery("limit", "50")
	if _, err := strconv.Atoi(limit); err != nil {
		limit = "50"
	}
	base := s.bases.Executor
	if c.DefaultQuery("source", "executor") != "executor" {
		base = s.bases.Backtester
	}
	s.passthrough(c, base+"/trades?limit="+url.QueryEscape(limit))
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

// handleChat is an echo stub. A real deployment would call an LLM service
// here.
func (s *Service) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid payload"})
		return
	}
	reply := "Please enter a question."
	if req.Prompt != "" {
		reply = "Echo: " + req.Prompt
	}
	c.JSON(http.StatusOK, gin.H{"response": reply})
}

// passthrough relays one upstream JSON answer verbatim. Failures come back
// as {"error": ...} with status 200; the dashboard treats that as a soft
// failure rather than a dead panel.
func (s *Service) passthrough(c *gin.Context, rawURL string) {
	body, err := s.fetchJSON(c.Request.Context(), rawURL)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (s *Service) fetchJSON(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	resp, err := s.aggc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAggregateBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("upstream returned non-JSON (%d bytes)", len(body))
	}
	return body, nil
}
