package ingestor

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opsdesk/tradesim/pkg/web"
)

// Router builds the ingestor HTTP surface. CORS stays open because the
// dashboard queries this service directly.
func (s *Service) Router() *gin.Engine {
	r := web.NewRouter(s.logger, web.WithCORS())

	r.GET("/health", s.handleHealth)
	r.GET("/last", s.handleLast)
	r.GET("/metrics", web.PrometheusHandler())

	return r
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"running": s.Running(),
		"symbols": s.symbols,
		"have":    s.Have(),
	})
}

// handleLast serves the latest tick. With no symbol the first configured
// one is assumed; an unseen symbol answers with a null price rather than an
// error.
func (s *Service) handleLast(c *gin.Context) {
	symbol := strings.ToUpper(c.Query("symbol"))
	if symbol == "" && len(s.symbols) > 0 {
		symbol = s.symbols[0]
	}

	if tick, ok := s.Last(symbol); ok {
		c.JSON(http.StatusOK, gin.H{"ok": true, "last": tick})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "last": gin.H{"symbol": symbol, "price": nil}})
}
