// Package risk implements the admission rules the executor applies to every
// order. Evaluation is pure over its inputs except for the two mutations the
// rules themselves define: the day rollover reset and the daily-loss latch.
// The caller owns persistence and alert dispatch; the decision reports what
// each requires.
package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opsdesk/tradesim/pkg/models"
)

// Rejection codes returned on the wire when an order is refused.
const (
	CodeBlocked     = "RISK_BLOCKED"
	CodeQtyCap      = "RISK_QTY_CAP"
	CodeNotionalCap = "RISK_NOTIONAL_CAP"
	CodeRateLimit   = "RISK_RATE_LIMIT"
	CodeDailyLoss   = "RISK_DAILY_LOSS"
)

// BlockReasonDailyLoss is latched onto the state when the loss limit trips.
const BlockReasonDailyLoss = "daily loss limit exceeded"

// Window is the trailing interval the rate limit counts orders in.
const Window = 60 * time.Second

// Notice is the notification owed to the alert channel for a rejection.
type Notice struct {
	Level   string
	Message string
	Extra   map[string]interface{}
}

// Decision is the outcome of one evaluation. StateChanged means the state
// was mutated (rollover or latch) and must be persisted whatever the
// outcome; Notice is nil exactly when the order was admitted.
type Decision struct {
	Allow        bool
	Code         string
	Reason       string
	StateChanged bool
	Notice       *Notice
}

// Evaluate runs the admission rules in their fixed order against a single
// order. now is captured once by the caller; every time comparison in the
// evaluation derives from it.
func Evaluate(order models.Order, policy models.RiskPolicy, state *models.RiskState, now time.Time) Decision {
	var d Decision

	// Day rollover. A stale day resets the whole state, block included,
	// before any other rule runs.
	if today := models.DayString(now); state.Day != today {
		*state = models.DefaultRiskState(now)
		d.StateChanged = true
	}

	// Global block.
	if state.Blocked {
		d.Code = CodeBlocked
		d.Reason = state.BlockReason
		d.Notice = &Notice{
			Level:   "warn",
			Message: "risk violation: blocked",
			Extra:   map[string]interface{}{"reason": state.BlockReason},
		}
		return d
	}

	// Per-order quantity cap. Zero disables the check.
	if !policy.MaxPositionQty.IsZero() && order.Qty.GreaterThan(policy.MaxPositionQty) {
		d.Code = CodeQtyCap
		d.Reason = fmt.Sprintf("qty>%s", policy.MaxPositionQty)
		d.Notice = &Notice{
			Level:   "warn",
			Message: "risk violation: qty cap",
			Extra:   map[string]interface{}{"qty": order.Qty, "cap": policy.MaxPositionQty},
		}
		return d
	}

	// Notional cap, only when the order carries a price. An unpriced order
	// passes through unchecked.
	if !policy.MaxNotional.IsZero() {
		if notional, ok := order.Notional(); ok && notional.GreaterThan(policy.MaxNotional) {
			d.Code = CodeNotionalCap
			d.Reason = "notional limit"
			d.Notice = &Notice{
				Level:   "warn",
				Message: "risk violation: notional cap",
				Extra:   map[string]interface{}{"notional": notional, "cap": policy.MaxNotional},
			}
			return d
		}
	}

	// Rate limit over the trailing window. Counting prunes a view only; the
	// stored window is rewritten on fills, not on rejections.
	if count := countWithin(state.OrdersLastMin, now); count >= policy.MaxOrdersPerMin {
		d.Code = CodeRateLimit
		d.Reason = "too many orders per minute"
		d.Notice = &Notice{
			Level:   "warn",
			Message: "risk violation: rate limit",
			Extra:   map[string]interface{}{"count": count, "limit": policy.MaxOrdersPerMin},
		}
		return d
	}

	// Daily loss limit. The only rejection that latches: the block persists
	// for every later order until a manual unblock or the next rollover.
	if policy.DailyLossLimit.IsPositive() && state.PnLDay.Neg().GreaterThanOrEqual(policy.DailyLossLimit) {
		state.Blocked = true
		state.BlockReason = BlockReasonDailyLoss
		d.StateChanged = true
		d.Code = CodeDailyLoss
		d.Reason = BlockReasonDailyLoss
		d.Notice = &Notice{
			Level:   "error",
			Message: "risk BLOCKED: daily loss limit exceeded",
			Extra:   map[string]interface{}{"pnl_day": state.PnLDay, "limit": policy.DailyLossLimit},
		}
		return d
	}

	d.Allow = true
	return d
}

// RecordFill notes an admitted order on the state: the fill instant joins
// the rate window, the window is pruned, and pnlDelta accumulates into the
// day PnL. The caller persists the state afterwards.
func RecordFill(state *models.RiskState, now time.Time, pnlDelta decimal.Decimal) {
	state.OrdersLastMin = append(state.OrdersLastMin, now.UTC())
	PruneWindow(state, now)
	state.PnLDay = state.PnLDay.Add(pnlDelta)
}

// PruneWindow drops timestamps that fell out of the trailing window.
func PruneWindow(state *models.RiskState, now time.Time) {
	kept := make([]time.Time, 0, len(state.OrdersLastMin))
	for _, ts := range state.OrdersLastMin {
		if now.Sub(ts) < Window {
			kept = append(kept, ts)
		}
	}
	state.OrdersLastMin = kept
}

func countWithin(window []time.Time, now time.Time) int {
	n := 0
	for _, ts := range window {
		if now.Sub(ts) < Window {
			n++
		}
	}
	return n
}
