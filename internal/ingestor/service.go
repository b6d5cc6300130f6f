// Package ingestor consumes the exchange ticker stream and serves the
// latest quote per symbol. One combined-stream connection covers all
// configured symbols; a synthetic demo feed replaces it when the stack runs
// without network access.
package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/opsdesk/tradesim/pkg/metrics"
	"github.com/opsdesk/tradesim/pkg/models"
)

const (
	handshakeTimeout = 10 * time.Second
	readWait         = 60 * time.Second
	pingPeriod       = 15 * time.Second
	maxBackoff       = 30 * time.Second
	demoInterval     = time.Second
)

// Service holds the feed loop and the latest tick per symbol.
type Service struct {
	logger  *zap.Logger
	symbols []string
	wsBase  string
	demo    bool

	mu     sync.RWMutex
	latest map[string]models.Tick

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService wires the ingestor. symbols are expected upper case; wsBase is
// the exchange websocket origin.
func NewService(logger *zap.Logger, symbols []string, wsBase string, demo bool) *Service {
	return &Service{
		logger:  logger,
		symbols: symbols,
		wsBase:  wsBase,
		demo:    demo,
		latest:  make(map[string]models.Tick),
	}
}

// Start launches the feed loop.
func (s *Service) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
	s.logger.Info("Ingestor service started",
		zap.Strings("symbols", s.symbols),
		zap.Bool("demo", s.demo))
	return nil
}

// Stop tears down the feed loop and waits for it to exit.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info("Ingestor service stopped")
	return nil
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	if s.demo {
		s.runDemo(ctx)
		return
	}

	backoff := time.Second
	for {
		s.running.Store(true)
		err := s.consume(ctx, func() { backoff = time.Second })
		s.running.Store(false)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("feed disconnected",
			zap.Error(err),
			zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (s *Service) streamURL() string {
	parts := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		parts = append(parts, strings.ToLower(sym)+"@ticker")
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.wsBase, strings.Join(parts, "/"))
}

// consume runs one connection until it fails. resetBackoff is called for
// every stored tick so a healthy stream starts its next retry from scratch.
func (s *Service) consume(ctx context.Context, resetBackoff func()) error {
	url := s.streamURL()
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial feed: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the service stops. The watcher exits with
	// its connection so reconnect churn never accumulates goroutines.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read feed: %w", err)
		}
		if s.handleMessage(raw) {
			resetBackoff()
		}
	}
}

// streamEnvelope is the combined-stream wrapper. Raw single-stream messages
// carry the ticker fields at the top level instead.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tickerMessage struct {
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
	EventTime int64  `json:"E"`
}

// handleMessage decodes one frame and stores the tick it carries. Frames
// without the ticker fields are skipped. Reports whether a tick was stored.
func (s *Service) handleMessage(raw []byte) bool {
	payload := raw
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	if len(env.Data) > 0 {
		payload = env.Data
	}

	var msg tickerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return false
	}
	if msg.Symbol == "" || msg.LastPrice == "" {
		return false
	}

	ts := msg.EventTime
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	s.store(models.Tick{Symbol: msg.Symbol, Price: msg.LastPrice, TS: ts})
	metrics.TicksIngested.WithLabelValues("binance").Inc()
	return true
}

// runDemo feeds a random walk per symbol so the stack works offline.
func (s *Service) runDemo(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[string]float64, len(s.symbols))
	for _, sym := range s.symbols {
		prices[sym] = 100
	}

	ticker := time.NewTicker(demoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.demoStep(rng, prices, now)
		}
	}
}

func (s *Service) demoStep(rng *rand.Rand, prices map[string]float64, now time.Time) {
	for _, sym := range s.symbols {
		p := prices[sym] * (1 + (rng.Float64()-0.5)*0.002)
		prices[sym] = p
		s.store(models.Tick{
			Symbol: sym,
			Price:  strconv.FormatFloat(p, 'f', 2, 64),
			TS:     now.UnixMilli(),
		})
		metrics.TicksIngested.WithLabelValues("demo").Inc()
	}
}

func (s *Service) store(t models.Tick) {
	s.mu.Lock()
	s.latest[t.Symbol] = t
	s.mu.Unlock()
}

// Last returns the latest tick for symbol, if one arrived.
func (s *Service) Last(symbol string) (models.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.latest[symbol]
	return t, ok
}

// Have lists the symbols a tick arrived for, sorted.
func (s *Service) Have() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	have := make([]string, 0, len(s.latest))
	for sym := range s.latest {
		have = append(have, sym)
	}
	sort.Strings(have)
	return have
}

// Running reports whether the feed loop currently holds a connection.
func (s *Service) Running() bool {
	return s.running.Load()
}

// Symbols returns the configured symbol list.
func (s *Service) Symbols() []string {
	return s.symbols
}
