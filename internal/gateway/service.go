// Package gateway is the unified ops front door: it proxies the five
// backend services under /proxy, aggregates them under /api/trading and
// streams ingestor prices to dashboard clients over a websocket.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/opsdesk/tradesim/pkg/models"
)

const (
	Name    = "ai_llm_gateway"
	Version = "2.6.1"

	connectTimeout   = 5 * time.Second
	proxyTimeout     = 30 * time.Second
	aggregateTimeout = 20 * time.Second
	statusTimeout    = 5 * time.Second

	pollInterval = time.Second
	pollTimeout  = 2 * time.Second

	maxAggregateBody = 4 << 20
)

// Upstreams holds the base URLs of the proxied services.
type Upstreams struct {
	Executor   string
	Backtester string
	Ingestor   string
	AI         string
	Alerts     string
}

// upstream is one proxied service with its prepared reverse proxy.
type upstream struct {
	name  string
	base  *url.URL
	proxy *httputil.ReverseProxy
}

// Service is the gateway. It owns no state beyond the websocket hub; every
// answer it gives comes from an upstream.
type Service struct {
	logger *zap.Logger
	bases  Upstreams

	upstreams []*upstream
	hub       *Hub

	statusc *http.Client
	aggc    *http.Client
	pollc   *http.Client

	cancel   context.CancelFunc
	pollDone chan struct{}
}

// NewService wires the proxies for the given upstream bases.
func NewService(log *zap.Logger, bases Upstreams) (*Service, error) {
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		ResponseHeaderTimeout: proxyTimeout,
	}

	s := &Service{
		logger:  log,
		bases:   bases,
		hub:     NewHub(log),
		statusc: &http.Client{Timeout: statusTimeout},
		aggc:    &http.Client{Timeout: aggregateTimeout},
		pollc:   &http.Client{Timeout: pollTimeout},
	}

	for _, def := range []struct {
		name string
		base string
	}{
		{"executor", bases.Executor},
		{"backtester", bases.Backtester},
		{"ingestor", bases.Ingestor},
		{"ai", bases.AI},
		{"alerts", bases.Alerts},
	} {
		up, err := newUpstream(def.name, def.base, transport, log)
		if err != nil {
			return nil, err
		}
		s.upstreams = append(s.upstreams, up)
	}
	return s, nil
}

func newUpstream(name, rawBase string, transport http.RoundTripper, log *zap.Logger) (*upstream, error) {
	base, err := url.Parse(rawBase)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s base url %q: %w", name, rawBase, err)
	}

	proxy := httputil.NewSingleHostReverseProxy(base)
	proxy.Transport = transport
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = base.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("upstream request failed",
			zap.String("upstream", name),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":    false,
			"error": "upstream " + name + " unavailable",
		})
	}

	return &upstream{name: name, base: base, proxy: proxy}, nil
}

// Start launches the websocket hub and the price poller.
func (s *Service) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.pollDone = make(chan struct{})

	go s.hub.run(ctx)
	go s.pollPrices(ctx)

	s.logger.Info("gateway started",
		zap.String("executor", s.bases.Executor),
		zap.String("ingestor", s.bases.Ingestor))
	return nil
}

// Stop halts the hub and poller and closes client connections.
func (s *Service) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.hub.done
	<-s.pollDone
	s.logger.Info("gateway stopped")
	return nil
}

// priceFrame is the message pushed to /ws/prices clients.
type priceFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	TS     int64  `json:"ts"`
}

// pollPrices asks the ingestor for fresh ticks and feeds them to the hub.
func (s *Service) pollPrices(ctx context.Context) {
	defer close(s.pollDone)

	last := make(map[string]models.Tick)
	s.pushFreshTicks(ctx, last)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pushFreshTicks(ctx, last)
		}
	}
}

// pushFreshTicks broadcasts every tick that changed since the previous poll.
func (s *Service) pushFreshTicks(ctx context.Context, last map[string]models.Tick) {
	symbols, err := s.ingestorHave(ctx)
	if err != nil {
		s.logger.Debug("price poll skipped", zap.Error(err))
		return
	}
	for _, symbol := range symbols {
		tick, ok := s.ingestorLast(ctx, symbol)
		if !ok {
			continue
		}
		if prev, seen := last[symbol]; seen && prev == tick {
			continue
		}
		last[symbol] = tick

		frame, err := json.Marshal(priceFrame{Type: "tick", Symbol: tick.Symbol, Price: tick.Price, TS: tick.TS})
		if err != nil {
			continue
		}
		s.hub.Broadcast(frame)
	}
}

// ingestorHave returns the symbols the ingestor has seen at least once.
func (s *Service) ingestorHave(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.bases.Ingestor+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ingestor health request: %w", err)
	}
	resp, err := s.pollc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach ingestor: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Have []string `json:"have"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode ingestor health: %w", err)
	}
	return payload.Have, nil
}

// ingestorLast fetches the latest tick for one symbol. Unseen symbols come
// back with a null price and are reported as absent.
func (s *Service) ingestorLast(ctx context.Context, symbol string) (models.Tick, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.bases.Ingestor+"/last?symbol="+url.QueryEscape(symbol), nil)
	if err != nil {
		return models.Tick{}, false
	}
	resp, err := s.pollc.Do(req)
	if err != nil {
		return models.Tick{}, false
	}
	defer resp.Body.Close()

	var payload struct {
		OK   bool `json:"ok"`
		Last struct {
			Symbol string `json:"symbol"`
			Price  string `json:"price"`
			TS     int64  `json:"ts"`
		} `json:"last"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAggregateBody)).Decode(&payload); err != nil {
		return models.Tick{}, false
	}
	if payload.Last.Price == "" {
		return models.Tick{}, false
	}
	return models.Tick{Symbol: payload.Last.Symbol, Price: payload.Last.Price, TS: payload.Last.TS}, true
}
