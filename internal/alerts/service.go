// Package alerts is the notification sink. Every service in the stack
// posts its alerts here (through the gateway proxy); the sink logs them and
// keeps a bounded ring of recent events for the operator.
package alerts

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsdesk/tradesim/pkg/web"
)

// Service identity reported by /health.
const (
	Name    = "alerts"
	Version = "0.1.0"
)

// ringSize bounds the retained history; older entries fall off.
const ringSize = 256

// Entry is one received alert with its arrival time.
type Entry struct {
	ID      string                 `json:"id"`
	TS      time.Time              `json:"ts"`
	Channel string                 `json:"channel"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}

// Service receives and retains alerts.
type Service struct {
	logger *zap.Logger

	mu   sync.Mutex
	ring []Entry
}

// NewService wires the alert sink.
func NewService(logger *zap.Logger) *Service {
	return &Service{logger: logger}
}

// Record logs the alert at its own level and adds it to the ring. Entries
// arriving without an id get one assigned.
func (s *Service) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	fields := []zap.Field{
		zap.String("alert_id", e.ID),
		zap.String("channel", e.Channel),
		zap.String("level", e.Level),
	}
	if e.Extra != nil {
		fields = append(fields, zap.Any("extra", e.Extra))
	}
	switch e.Level {
	case "error":
		s.logger.Error("[ALERT] "+e.Message, fields...)
	case "warn":
		s.logger.Warn("[ALERT] "+e.Message, fields...)
	default:
		s.logger.Info("[ALERT] "+e.Message, fields...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = append(s.ring, e)
	if len(s.ring) > ringSize {
		s.ring = s.ring[len(s.ring)-ringSize:]
	}
}

// Recent returns up to limit alerts, newest first.
func (s *Service) Recent(limit int) []Entry {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.ring) {
		limit = len(s.ring)
	}
	out := make([]Entry, 0, limit)
	for i := len(s.ring) - 1; i >= len(s.ring)-limit; i-- {
		out = append(out, s.ring[i])
	}
	return out
}

// Router builds the sink HTTP surface.
func (s *Service) Router() *gin.Engine {
	r := web.NewRouter(s.logger)

	r.GET("/health", s.handleHealth)
	r.POST("/notify", s.handleNotify)
	r.GET("/alerts", s.handleRecent)
	r.GET("/metrics", web.PrometheusHandler())

	return r
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"name": Name,
		"ts":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

type notifyRequest struct {
	Channel string                 `json:"channel"`
	Level   string                 `json:"level"`
	Message string                 `json:"message" binding:"required"`
	Extra   map[string]interface{} `json:"extra"`
}

func (s *Service) handleNotify(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if req.Channel == "" {
		req.Channel = "log"
	}
	if req.Level == "" {
		req.Level = "info"
	}

	now := time.Now().UTC()
	s.Record(Entry{
		TS:      now,
		Channel: req.Channel,
		Level:   req.Level,
		Message: req.Message,
		Extra:   req.Extra,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true, "ts": now.Format(time.RFC3339Nano)})
}

func (s *Service) handleRecent(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		limit = 50
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "alerts": s.Recent(limit)})
}
