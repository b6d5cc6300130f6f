package radar

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsdesk/tradesim/pkg/web"
)

// Router builds the radar HTTP surface. /metrics stays the JSON metrics
// report the dashboard reads; the Prometheus registry moves to
// /metrics/prom.
func (s *Service) Router() *gin.Engine {
	r := web.NewRouter(s.logger)

	r.GET("/health", s.handleHealth)
	r.GET("/scan", s.handleScan)
	r.POST("/train", s.handleTrain)
	r.GET("/metrics", s.handleMetrics)
	r.POST("/start", s.handleStart)
	r.POST("/stop", s.handleStop)
	r.GET("/metrics/prom", web.PrometheusHandler())

	return r
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "name": Name, "version": Version})
}

func (s *Service) handleScan(c *gin.Context) {
	threshold, err := strconv.ParseFloat(c.DefaultQuery("threshold", "0.005"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid threshold"})
		return
	}
	results := s.Scan(threshold)
	if results == nil {
		results = []Mover{}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "results": results})
}

type trainRequest struct {
	Returns []float64 `json:"returns"`
}

func (s *Service) handleTrain(c *gin.Context) {
	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	state, trained, err := s.Train(req.Returns)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if !trained {
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": "no_returns"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "metrics": metricsPayload(state)})
}

func (s *Service) handleMetrics(c *gin.Context) {
	state, err := s.Metrics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "metrics": metricsPayload(state)})
}

func (s *Service) handleStart(c *gin.Context) {
	if _, err := s.StartEpisodes(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "running": true})
}

func (s *Service) handleStop(c *gin.Context) {
	if _, err := s.StopEpisodes(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "running": false})
}

// metricsPayload is the wire form of the state shared by /metrics and
// /train, with the recommendation attached.
func metricsPayload(st State) gin.H {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if st.Timestamp != nil {
		ts = *st.Timestamp
	}
	return gin.H{
		"equity":         st.Equity,
		"pnl_total":      st.PnLTotal,
		"pnl_day":        st.PnLDay,
		"max_drawdown":   st.MaxDrawdown,
		"sharpe":         st.Sharpe,
		"win_rate":       st.WinRate,
		"trades_count":   st.TradesCount,
		"episode":        st.Episode,
		"avg_reward":     st.AvgReward,
		"volatility":     st.Volatility,
		"var95":          st.VaR95,
		"profit_factor":  st.ProfitFactor,
		"sortino":        st.Sortino,
		"timestamp":      ts,
		"recommendation": recommend(st.Sharpe, st.WinRate),
	}
}
