// Package config loads per-service configuration from the environment.
// Every main loads .env first (godotenv), then these loaders read the
// variables through viper with the stack's default ports.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	// An env var explicitly set to "" overrides the default. Setting
	// ALERT_HOOK= is how a deployment disables alert dispatch.
	v.AllowEmptyEnv(true)
	return v
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			symbols = append(symbols, p)
		}
	}
	return symbols
}

// Executor configures the order execution service.
type Executor struct {
	Addr      string
	DataDir   string
	AlertHook string
	LogLevel  string
}

// LoadExecutor reads the executor configuration.
func LoadExecutor() Executor {
	v := newViper()
	v.SetDefault("EXECUTOR_ADDR", ":8600")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("ALERT_HOOK", "http://127.0.0.1:8800/proxy/alerts/notify")
	v.SetDefault("LOG_LEVEL", "info")
	return Executor{
		Addr:      v.GetString("EXECUTOR_ADDR"),
		DataDir:   v.GetString("DATA_DIR"),
		AlertHook: v.GetString("ALERT_HOOK"),
		LogLevel:  v.GetString("LOG_LEVEL"),
	}
}

// Gateway configures the proxy/fan-out service.
type Gateway struct {
	Addr           string
	ExecutorBase   string
	BacktesterBase string
	IngestorBase   string
	AIBase         string
	AlertsBase     string
	LogLevel       string
}

// LoadGateway reads the gateway configuration.
func LoadGateway() Gateway {
	v := newViper()
	v.SetDefault("GATEWAY_ADDR", ":8800")
	v.SetDefault("EXECUTOR_BASE", "http://127.0.0.1:8600")
	v.SetDefault("BACKTESTER_BASE", "http://127.0.0.1:8900")
	v.SetDefault("INGESTOR_BASE", "http://127.0.0.1:8700")
	v.SetDefault("AI_BASE", "http://127.0.0.1:8750")
	v.SetDefault("ALERTS_BASE", "http://127.0.0.1:8650")
	v.SetDefault("LOG_LEVEL", "info")
	return Gateway{
		Addr:           v.GetString("GATEWAY_ADDR"),
		ExecutorBase:   v.GetString("EXECUTOR_BASE"),
		BacktesterBase: v.GetString("BACKTESTER_BASE"),
		IngestorBase:   v.GetString("INGESTOR_BASE"),
		AIBase:         v.GetString("AI_BASE"),
		AlertsBase:     v.GetString("ALERTS_BASE"),
		LogLevel:       v.GetString("LOG_LEVEL"),
	}
}

// Ingestor configures the market-data service.
type Ingestor struct {
	Addr     string
	Symbols  []string
	WSBase   string
	DemoFeed bool
	LogLevel string
}

// LoadIngestor reads the ingestor configuration.
func LoadIngestor() Ingestor {
	v := newViper()
	v.SetDefault("INGESTOR_ADDR", ":8700")
	v.SetDefault("SYMBOLS", "BTCUSDT")
	v.SetDefault("BINANCE_WS_BASE", "wss://stream.binance.com:9443")
	v.SetDefault("DEMO_FEED", false)
	v.SetDefault("LOG_LEVEL", "info")
	return Ingestor{
		Addr:     v.GetString("INGESTOR_ADDR"),
		Symbols:  splitSymbols(v.GetString("SYMBOLS")),
		WSBase:   v.GetString("BINANCE_WS_BASE"),
		DemoFeed: v.GetBool("DEMO_FEED"),
		LogLevel: v.GetString("LOG_LEVEL"),
	}
}

// Radar configures the signal scanner service.
type Radar struct {
	Addr        string
	Symbols     []string
	IngestorURL string
	DataDir     string
	LogLevel    string
}

// LoadRadar reads the radar configuration.
func LoadRadar() Radar {
	v := newViper()
	v.SetDefault("RADAR_ADDR", ":8750")
	v.SetDefault("SYMBOLS", "BTCUSDT")
	v.SetDefault("INGESTOR_URL", "http://127.0.0.1:8700")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("LOG_LEVEL", "info")
	return Radar{
		Addr:        v.GetString("RADAR_ADDR"),
		Symbols:     splitSymbols(v.GetString("SYMBOLS")),
		IngestorURL: v.GetString("INGESTOR_URL"),
		DataDir:     v.GetString("DATA_DIR"),
		LogLevel:    v.GetString("LOG_LEVEL"),
	}
}

// Alerts configures the alert sink service.
type Alerts struct {
	Addr     string
	LogLevel string
}

// LoadAlerts reads the alert sink configuration.
func LoadAlerts() Alerts {
	v := newViper()
	v.SetDefault("ALERTS_ADDR", ":8650")
	v.SetDefault("LOG_LEVEL", "info")
	return Alerts{
		Addr:     v.GetString("ALERTS_ADDR"),
		LogLevel: v.GetString("LOG_LEVEL"),
	}
}
