// Package models holds the wire and document types shared across the
// tradesim services. The executor owns the persisted forms; the gateway and
// the tests decode the same shapes.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides accepted by the executor.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Trading modes. Both run through the identical risk evaluation; live mode
// performs no real exchange routing in this system.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Order is a submitted order request. It is transient: admitted orders are
// persisted as TradeRecords, rejected ones leave no trace outside the alert
// channel.
type Order struct {
	Symbol string           `json:"symbol" binding:"required" validate:"required"`
	Side   string           `json:"side" binding:"required" validate:"required,oneof=buy sell"`
	Qty    decimal.Decimal  `json:"qty" validate:"gt=0"`
	Price  *decimal.Decimal `json:"price,omitempty"`
}

// Notional returns qty*price and whether a price was present to compute it.
func (o Order) Notional() (decimal.Decimal, bool) {
	if o.Price == nil {
		return decimal.Decimal{}, false
	}
	return o.Qty.Mul(*o.Price), true
}

// TradeRecord is one entry of the trade ledger. Immutable once appended;
// insertion order is the only ordering guarantee.
type TradeRecord struct {
	ID     string           `json:"id"`
	TS     time.Time        `json:"ts"`
	Symbol string           `json:"symbol"`
	Side   string           `json:"side"`
	Qty    decimal.Decimal  `json:"qty"`
	Price  *decimal.Decimal `json:"price"`
	Mode   string           `json:"mode"`
}

// Position is the derived net exposure for one symbol. AvgPrice is nil when
// the net quantity is within epsilon of zero.
type Position struct {
	Symbol   string           `json:"symbol"`
	Qty      decimal.Decimal  `json:"qty"`
	AvgPrice *decimal.Decimal `json:"avg_price"`
}

// RiskPolicy is the operator-configured set of admission limits. A zero
// value disables the corresponding check, except the rate cap where zero
// means "no orders at all".
type RiskPolicy struct {
	MaxOrdersPerMin int             `json:"max_orders_per_min"`
	DailyLossLimit  decimal.Decimal `json:"daily_loss_limit"`
	MaxPositionQty  decimal.Decimal `json:"max_position_qty"`
	MaxNotional     decimal.Decimal `json:"max_notional"`
}

// DefaultRiskPolicy mirrors the deployment defaults.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{
		MaxOrdersPerMin: 30,
		DailyLossLimit:  decimal.NewFromInt(200),
		MaxPositionQty:  decimal.NewFromInt(1),
		MaxNotional:     decimal.NewFromInt(2000),
	}
}

// RiskPolicyPatch is a partial policy update; nil fields keep their current
// value.
type RiskPolicyPatch struct {
	MaxOrdersPerMin *int             `json:"max_orders_per_min"`
	DailyLossLimit  *decimal.Decimal `json:"daily_loss_limit"`
	MaxPositionQty  *decimal.Decimal `json:"max_position_qty"`
	MaxNotional     *decimal.Decimal `json:"max_notional"`
}

// Apply merges the patch over the policy.
func (p RiskPolicyPatch) Apply(policy *RiskPolicy) {
	if p.MaxOrdersPerMin != nil {
		policy.MaxOrdersPerMin = *p.MaxOrdersPerMin
	}
	if p.DailyLossLimit != nil {
		policy.DailyLossLimit = *p.DailyLossLimit
	}
	if p.MaxPositionQty != nil {
		policy.MaxPositionQty = *p.MaxPositionQty
	}
	if p.MaxNotional != nil {
		policy.MaxNotional = *p.MaxNotional
	}
}

// RiskState is the mutable side of risk evaluation. Day is the UTC calendar
// date the counters belong to; the state resets wholesale on the first
// evaluation after the date changes.
type RiskState struct {
	Day           string          `json:"day"`
	OrdersLastMin []time.Time     `json:"orders_last_min"`
	PnLDay        decimal.Decimal `json:"pnl_day"`
	Blocked       bool            `json:"blocked"`
	BlockReason   string          `json:"block_reason"`
}

// DefaultRiskState returns a fresh state for the given instant.
func DefaultRiskState(now time.Time) RiskState {
	return RiskState{
		Day:           DayString(now),
		OrdersLastMin: []time.Time{},
		PnLDay:        decimal.Zero,
	}
}

// DayString formats the UTC calendar date the way the state document stores
// it.
func DayString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// RiskStatePatch is the operator override for /risk_set_state. It bypasses
// rule evaluation entirely.
type RiskStatePatch struct {
	PnLDay      *decimal.Decimal `json:"pnl_day"`
	Blocked     *bool            `json:"blocked"`
	BlockReason *string          `json:"block_reason"`
}

// Apply merges the patch over the state.
func (p RiskStatePatch) Apply(state *RiskState) {
	if p.PnLDay != nil {
		state.PnLDay = *p.PnLDay
	}
	if p.Blocked != nil {
		state.Blocked = *p.Blocked
	}
	if p.BlockReason != nil {
		state.BlockReason = *p.BlockReason
	}
}

// Settings is the operator-facing trading configuration. Mode is not
// validated beyond being a string: an unknown mode is stored as given.
type Settings struct {
	Mode    string  `json:"mode"`
	MaxRisk float64 `json:"max_risk"`
}

// DefaultSettings mirrors the deployment defaults.
func DefaultSettings() Settings {
	return Settings{Mode: ModePaper, MaxRisk: 0.02}
}

// SettingsPatch is a partial settings update.
type SettingsPatch struct {
	Mode    *string  `json:"mode"`
	MaxRisk *float64 `json:"max_risk"`
}

// Apply merges the patch over the settings.
func (p SettingsPatch) Apply(s *Settings) {
	if p.Mode != nil {
		s.Mode = *p.Mode
	}
	if p.MaxRisk != nil {
		s.MaxRisk = *p.MaxRisk
	}
}

// Tick is the latest observed quote for a symbol. Price stays in the
// exchange's string form; consumers parse it when they need arithmetic.
type Tick struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	TS     int64  `json:"ts"`
}

// AlertEvent is the payload of the outbound notification call. Delivery is
// best-effort; no service conditions its own response on it.
type AlertEvent struct {
	Channel string                 `json:"channel"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}
