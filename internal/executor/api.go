package executor

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/opsdesk/tradesim/pkg/models"
	"github.com/opsdesk/tradesim/pkg/web"
)

// validate checks orders after binding. Decimal fields are validated
// through their float value so the numeric tags apply.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func validateOrder(o models.Order) error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid order: %w", err)
	}
	return nil
}

// Router builds the executor HTTP surface on the shared middleware stack.
func (s *Service) Router() *gin.Engine {
	r := web.NewRouter(s.logger)

	r.GET("/health", s.handleHealth)
	r.GET("/trades", s.handleTrades)
	r.GET("/positions", s.handlePositions)
	r.GET("/balance", s.handleBalance)
	r.GET("/settings", s.handleGetSettings)
	r.POST("/settings", s.handleSetSettings)
	r.GET("/risk", s.handleGetRisk)
	r.POST("/risk", s.handleSetRisk)
	r.GET("/risk_state", s.handleRiskState)
	r.POST("/risk_reset", s.handleRiskReset)
	r.POST("/risk_set_state", s.handleRiskSetState)
	r.POST("/order_paper", s.submitHandler(models.ModePaper))
	r.POST("/order_live", s.submitHandler(models.ModeLive))
	r.GET("/metrics", web.PrometheusHandler())

	return r
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "name": Name, "version": Version})
}

func (s *Service) handleTrades(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		limit = 100
	}
	trades, err := s.Trades(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "trades": trades})
}

func (s *Service) handlePositions(c *gin.Context) {
	positions, err := s.Positions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "positions": positions})
}

func (s *Service) handleBalance(c *gin.Context) {
	mode, equity, err := s.Balance()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "mode": mode, "equity": equity})
}

func (s *Service) handleGetSettings(c *gin.Context) {
	settings, err := s.Settings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "settings": settings})
}

func (s *Service) handleSetSettings(c *gin.Context) {
	var patch models.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	settings, err := s.UpdateSettings(patch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "settings": settings})
}

func (s *Service) handleGetRisk(c *gin.Context) {
	policy, err := s.Policy()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "risk": policy})
}

func (s *Service) handleSetRisk(c *gin.Context) {
	var patch models.RiskPolicyPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	policy, err := s.UpdatePolicy(patch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "risk": policy})
}

func (s *Service) handleRiskState(c *gin.Context) {
	state, err := s.State()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state})
}

func (s *Service) handleRiskReset(c *gin.Context) {
	state, err := s.Unblock()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state})
}

func (s *Service) handleRiskSetState(c *gin.Context) {
	var patch models.RiskStatePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	state, err := s.PatchState(patch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "state": state})
}

// submitHandler returns the order endpoint for one mode. Validation
// failures are 400s; policy rejections are 200s with ok=false, since they
// are expected outcomes of a well-formed request.
func (s *Service) submitHandler(mode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var order models.Order
		if err := c.ShouldBindJSON(&order); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}
		order.Symbol = strings.TrimSpace(order.Symbol)
		order.Side = strings.ToLower(strings.TrimSpace(order.Side))
		if err := validateOrder(order); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
			return
		}

		res, err := s.Submit(c.Request.Context(), order, mode)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
			return
		}
		if !res.Admitted {
			c.JSON(http.StatusOK, gin.H{"ok": false, "code": res.Code, "reason": res.Reason})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "order_id": res.OrderID})
	}
}
