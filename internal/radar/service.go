// Package radar is the signal scanner: it watches the ingestor's last
// prices for notable movers, grades returns series handed to /train, and
// keeps its metrics state on disk next to the executor's documents.
package radar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsdesk/tradesim/pkg/docstore"
)

// Service identity reported by /health.
const (
	Name    = "ai_radar"
	Version = "0.2.0"
)

const (
	scanTimeout     = 3 * time.Second
	episodeInterval = time.Second
	baseEquity      = 10000.0
)

// State is the persisted metrics document.
type State struct {
	Running      bool    `json:"running"`
	Equity       float64 `json:"equity"`
	PnLTotal     float64 `json:"pnl_total"`
	PnLDay       float64 `json:"pnl_day"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Sharpe       float64 `json:"sharpe"`
	WinRate      float64 `json:"win_rate"`
	TradesCount  int     `json:"trades_count"`
	Episode      int     `json:"episode"`
	AvgReward    float64 `json:"avg_reward"`
	Timestamp    *string `json:"timestamp"`
	Volatility   float64 `json:"volatility"`
	VaR95        float64 `json:"var95"`
	ProfitFactor float64 `json:"profit_factor"`
	Sortino      float64 `json:"sortino"`
}

func defaultState() State {
	return State{Equity: baseEquity}
}

// Mover is one symbol whose price moved past the scan threshold since the
// previous scan.
type Mover struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Change float64 `json:"change"`
}

// Service is the signal scanner.
type Service struct {
	logger      *zap.Logger
	symbols     []string
	ingestorURL string
	store       *docstore.Store[State]
	httpc       *http.Client

	// prices caches the previous observation per symbol; scan changes are
	// relative to it.
	priceMu sync.Mutex
	prices  map[string]float64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService wires the radar. ingestorURL is the base URL of the market
// data service; state lives in dataDir.
func NewService(logger *zap.Logger, symbols []string, ingestorURL, dataDir string) *Service {
	return &Service{
		logger:      logger,
		symbols:     symbols,
		ingestorURL: ingestorURL,
		store:       docstore.New(filepath.Join(dataDir, "state.json"), defaultState),
		httpc:       &http.Client{Timeout: scanTimeout},
		prices:      make(map[string]float64),
	}
}

// Start verifies the state document is readable.
func (s *Service) Start() error {
	if _, err := s.store.Load(); err != nil {
		return fmt.Errorf("failed to load radar state: %w", err)
	}
	s.logger.Info("Radar service started", zap.Strings("symbols", s.symbols))
	return nil
}

// Stop halts the episode loop if one is running. The persisted running
// flag is left alone, as a crash would leave it.
func (s *Service) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.stopLoopLocked()
	s.logger.Info("Radar service stopped")
	return nil
}

// StartEpisodes launches the mock training loop and marks the state
// running. Calling it again while running is a no-op.
func (s *Service) StartEpisodes() (State, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.runEpisodes(ctx, s.done)
	}
	state, err := s.store.Update(func(st *State) error {
		st.Running = true
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("failed to update radar state: %w", err)
	}
	return state, nil
}

// StopEpisodes halts the loop and marks the state stopped.
func (s *Service) StopEpisodes() (State, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.stopLoopLocked()
	state, err := s.store.Update(func(st *State) error {
		st.Running = false
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("failed to update radar state: %w", err)
	}
	return state, nil
}

func (s *Service) stopLoopLocked() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

func (s *Service) runEpisodes(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(episodeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.episodeTick()
		}
	}
}

// episodeTick advances the mock metrics one step, the way the dashboard
// expects to watch progress.
func (s *Service) episodeTick() {
	_, err := s.store.Update(func(st *State) error {
		st.Episode++
		st.TradesCount++
		st.PnLDay++
		st.PnLTotal++
		st.Equity = baseEquity + st.PnLTotal
		st.AvgReward = 0.10
		st.WinRate = 0.55
		st.Sharpe = 1.2
		st.Timestamp = nowStamp()
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to persist episode state", zap.Error(err))
	}
}

// Train replaces the metrics state with figures computed from the returns
// series. An empty series changes nothing and reports ok=false.
func (s *Service) Train(returns []float64) (State, bool, error) {
	m, ok := Compute(returns)
	if !ok {
		return State{}, false, nil
	}
	state, err := s.store.Update(func(st *State) error {
		st.PnLTotal = m.PnLTotal
		st.PnLDay = m.PnLDay
		st.WinRate = m.WinRate
		st.Sharpe = m.Sharpe
		st.MaxDrawdown = m.MaxDrawdown
		st.TradesCount = m.TradesCount
		st.Episode++
		st.AvgReward = m.AvgReward
		st.Equity = baseEquity + m.PnLTotal
		st.Volatility = m.Volatility
		st.VaR95 = m.VaR95
		st.ProfitFactor = m.ProfitFactor
		st.Sortino = m.Sortino
		st.Timestamp = nowStamp()
		return nil
	})
	if err != nil {
		return State{}, false, fmt.Errorf("failed to update radar state: %w", err)
	}
	return state, true, nil
}

// Metrics returns the stored state for reporting.
func (s *Service) Metrics() (State, error) {
	state, err := s.store.Load()
	if err != nil {
		return State{}, fmt.Errorf("failed to load radar state: %w", err)
	}
	return state, nil
}

func nowStamp() *string {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	return &ts
}

// lastResponse is the ingestor's /last reply. Some deployments return the
// tick at the top level instead of nesting it.
type lastResponse struct {
	OK   bool      `json:"ok"`
	Last *lastTick `json:"last"`
}

type lastTick struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Scan queries the ingestor for every configured symbol and reports those
// whose price moved at least threshold relative to the previous scan,
// sorted by absolute change descending. Per-symbol failures are skipped;
// the first observation of a symbol only seeds the cache.
func (s *Service) Scan(threshold float64) []Mover {
	var movers []Mover
	for _, sym := range s.symbols {
		price, ok := s.fetchLast(sym)
		if !ok {
			continue
		}

		s.priceMu.Lock()
		prev, seen := s.prices[sym]
		s.prices[sym] = price
		s.priceMu.Unlock()

		if !seen || prev <= 0 {
			continue
		}
		change := (price - prev) / prev
		if math.Abs(change) >= threshold {
			movers = append(movers, Mover{Symbol: sym, Price: price, Change: change})
		}
	}
	sort.Slice(movers, func(i, j int) bool {
		return math.Abs(movers[i].Change) > math.Abs(movers[j].Change)
	})
	return movers
}

func (s *Service) fetchLast(symbol string) (float64, bool) {
	resp, err := s.httpc.Get(s.ingestorURL + "/last?symbol=" + url.QueryEscape(symbol))
	if err != nil {
		s.logger.Debug("scan fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, false
	}

	var wrapped lastResponse
	tick := &lastTick{}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Last != nil {
		tick = wrapped.Last
	} else if err := json.Unmarshal(body, tick); err != nil {
		return 0, false
	}
	if tick.Price == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(tick.Price, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}
