// Package executor implements the order execution service: admission
// through the risk rules, the durable trade ledger, derived positions and
// the operator surface for settings and risk control.
//
// The four documents under the data directory are the authority for all
// decisions. Every submission reloads them before evaluating, so operator
// edits and external writes take effect on the next order with no process
// restart.
package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/opsdesk/tradesim/internal/executor/ledger"
	"github.com/opsdesk/tradesim/internal/executor/risk"
	"github.com/opsdesk/tradesim/pkg/alerts"
	"github.com/opsdesk/tradesim/pkg/docstore"
	"github.com/opsdesk/tradesim/pkg/metrics"
	"github.com/opsdesk/tradesim/pkg/models"
)

// Service identity reported by /health.
const (
	Name    = "trade_executor"
	Version = "0.4.0"
)

// Result is the outcome of an order submission. Admitted orders carry the
// assigned id; rejected ones carry the decision code and reason. Both are
// normal outcomes, not errors.
type Result struct {
	Admitted bool
	OrderID  string
	Code     string
	Reason   string
}

// Service is the execution engine.
type Service struct {
	logger *zap.Logger
	alerts *alerts.Client

	settings *docstore.Store[models.Settings]
	policy   *docstore.Store[models.RiskPolicy]
	state    *docstore.Store[models.RiskState]
	ledger   *ledger.Ledger

	// submitMu serializes submissions, manual unblocks and state patches.
	// Reads never take it.
	submitMu sync.Mutex

	// balance is process-local equity per mode, reset on restart.
	balanceMu sync.Mutex
	balance   map[string]decimal.Decimal
}

// NewService wires the executor over its data directory. alertClient may be
// nil to disable notifications.
func NewService(logger *zap.Logger, dataDir string, alertClient *alerts.Client) *Service {
	return &Service{
		logger:   logger,
		alerts:   alertClient,
		settings: docstore.New(filepath.Join(dataDir, "settings.json"), models.DefaultSettings),
		policy:   docstore.New(filepath.Join(dataDir, "risk.json"), models.DefaultRiskPolicy),
		state: docstore.New(filepath.Join(dataDir, "risk_state.json"), func() models.RiskState {
			return models.DefaultRiskState(time.Now())
		}),
		ledger: ledger.Open(filepath.Join(dataDir, "trades.json")),
		balance: map[string]decimal.Decimal{
			models.ModePaper: decimal.NewFromInt(10000),
			models.ModeLive:  decimal.Zero,
		},
	}
}

// Start verifies every document is readable so a corrupt file fails the
// process at boot instead of on the first order.
func (s *Service) Start() error {
	if _, err := s.settings.Load(); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if _, err := s.policy.Load(); err != nil {
		return fmt.Errorf("failed to load risk policy: %w", err)
	}
	if _, err := s.state.Load(); err != nil {
		return fmt.Errorf("failed to load risk state: %w", err)
	}
	n, err := s.ledger.Len()
	if err != nil {
		return fmt.Errorf("failed to load trade ledger: %w", err)
	}
	metrics.LedgerRecords.Set(float64(n))
	s.logger.Info("Executor service started", zap.Int("ledger_records", n))
	return nil
}

// Stop waits for in-flight alert dispatches to settle.
func (s *Service) Stop() error {
	s.alerts.Flush()
	s.logger.Info("Executor service stopped")
	return nil
}

// Submit runs one order through the admission rules and, when admitted,
// records the fill. The documents are reloaded from disk first; the instant
// captured here drives every time comparison in the evaluation.
func (s *Service) Submit(ctx context.Context, order models.Order, mode string) (Result, error) {
	timer := prometheus.NewTimer(metrics.SubmitLatency)
	defer timer.ObserveDuration()

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	// Settings is reloaded with the rest of the document set even though
	// admission does not consult it; an unreadable file fails the order.
	if _, err := s.settings.Load(); err != nil {
		return Result{}, fmt.Errorf("failed to load settings: %w", err)
	}
	policy, err := s.policy.Load()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load risk policy: %w", err)
	}
	state, err := s.state.Load()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load risk state: %w", err)
	}

	now := time.Now()
	decision := risk.Evaluate(order, policy, &state, now)
	if decision.StateChanged {
		if err := s.state.Save(state); err != nil {
			return Result{}, fmt.Errorf("failed to persist risk state: %w", err)
		}
	}
	if !decision.Allow {
		metrics.OrdersRejected.WithLabelValues(decision.Code).Inc()
		if n := decision.Notice; n != nil {
			s.alerts.Notify(n.Level, n.Message, n.Extra)
		}
		s.logger.Info("order rejected",
			zap.String("symbol", order.Symbol),
			zap.String("mode", mode),
			zap.String("code", decision.Code),
			zap.String("reason", decision.Reason))
		return Result{Code: decision.Code, Reason: decision.Reason}, nil
	}

	stored, err := s.ledger.Append(models.TradeRecord{
		Symbol: order.Symbol,
		Side:   order.Side,
		Qty:    order.Qty,
		Price:  order.Price,
		Mode:   mode,
	}, now)
	if err != nil {
		return Result{}, err
	}

	// Fills carry no simulated PnL impact; pnl_day moves through the
	// operator patch endpoint until fill simulation lands.
	risk.RecordFill(&state, now, decimal.Zero)
	if err := s.state.Save(state); err != nil {
		return Result{}, fmt.Errorf("failed to persist risk state: %w", err)
	}

	s.debit(mode)
	metrics.OrdersAdmitted.WithLabelValues(mode, order.Side).Inc()
	s.logger.Info("order admitted",
		zap.String("order_id", stored.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("mode", mode))
	return Result{Admitted: true, OrderID: stored.ID}, nil
}

func (s *Service) debit(mode string) {
	s.balanceMu.Lock()
	defer s.balanceMu.Unlock()
	s.balance[mode] = s.balance[mode].Sub(decimal.NewFromInt(1))
}

// Trades returns the newest limit ledger records oldest first.
func (s *Service) Trades(limit int) ([]models.TradeRecord, error) {
	return s.ledger.Recent(limit)
}

// Positions reconstructs net exposure from the full ledger.
func (s *Service) Positions() ([]models.Position, error) {
	records, err := s.ledger.All()
	if err != nil {
		return nil, err
	}
	return ledger.Positions(records), nil
}

// Balance reports the equity of the currently configured mode.
func (s *Service) Balance() (string, decimal.Decimal, error) {
	settings, err := s.settings.Load()
	if err != nil {
		return "", decimal.Decimal{}, fmt.Errorf("failed to load settings: %w", err)
	}
	s.balanceMu.Lock()
	defer s.balanceMu.Unlock()
	return settings.Mode, s.balance[settings.Mode], nil
}

// Settings returns the stored trading settings.
func (s *Service) Settings() (models.Settings, error) {
	settings, err := s.settings.Load()
	if err != nil {
		return models.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings merges the patch over the stored settings and persists the
// result.
func (s *Service) UpdateSettings(patch models.SettingsPatch) (models.Settings, error) {
	settings, err := s.settings.Update(func(cur *models.Settings) error {
		patch.Apply(cur)
		return nil
	})
	if err != nil {
		return models.Settings{}, fmt.Errorf("failed to update settings: %w", err)
	}
	return settings, nil
}

// Policy returns the stored risk policy.
func (s *Service) Policy() (models.RiskPolicy, error) {
	policy, err := s.policy.Load()
	if err != nil {
		return models.RiskPolicy{}, fmt.Errorf("failed to load risk policy: %w", err)
	}
	return policy, nil
}

// UpdatePolicy merges the provided fields over the stored policy and
// persists the result.
func (s *Service) UpdatePolicy(patch models.RiskPolicyPatch) (models.RiskPolicy, error) {
	policy, err := s.policy.Update(func(cur *models.RiskPolicy) error {
		patch.Apply(cur)
		return nil
	})
	if err != nil {
		return models.RiskPolicy{}, fmt.Errorf("failed to update risk policy: %w", err)
	}
	return policy, nil
}

// State returns the risk state with the rate window pruned to the trailing
// minute. The pruned view is not written back.
func (s *Service) State() (models.RiskState, error) {
	state, err := s.state.Load()
	if err != nil {
		return models.RiskState{}, fmt.Errorf("failed to load risk state: %w", err)
	}
	risk.PruneWindow(&state, time.Now())
	return state, nil
}

// Unblock clears the block unconditionally, keeping the day counters.
func (s *Service) Unblock() (models.RiskState, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	state, err := s.state.Update(func(cur *models.RiskState) error {
		cur.Blocked = false
		cur.BlockReason = ""
		return nil
	})
	if err != nil {
		return models.RiskState{}, fmt.Errorf("failed to update risk state: %w", err)
	}
	s.alerts.Notify("info", "risk unblocked by user", nil)
	s.logger.Info("risk unblocked by user")
	return state, nil
}

// PatchState applies an operator override to the risk state, bypassing rule
// evaluation.
func (s *Service) PatchState(patch models.RiskStatePatch) (models.RiskState, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	state, err := s.state.Update(func(cur *models.RiskState) error {
		patch.Apply(cur)
		return nil
	})
	if err != nil {
		return models.RiskState{}, fmt.Errorf("failed to update risk state: %w", err)
	}
	s.alerts.Notify("info", "risk state patched", map[string]interface{}{"state": state})
	s.logger.Info("risk state patched",
		zap.Bool("blocked", state.Blocked),
		zap.String("pnl_day", state.PnLDay.String()))
	return state, nil
}
