// Package alerts posts notifications to the alert hook. Delivery is
// fire-and-forget: dispatch happens on a detached goroutine and failures are
// logged, never returned, so the calling path is never blocked or failed by
// the alerting side channel.
package alerts

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsdesk/tradesim/pkg/metrics"
	"github.com/opsdesk/tradesim/pkg/models"
)

// DefaultChannel is the channel tag attached to every event.
const DefaultChannel = "log"

const dispatchTimeout = 3 * time.Second

// Client posts AlertEvents to a single hook URL, usually the gateway's
// alerts proxy so all egress flows through one place.
type Client struct {
	hookURL string
	httpc   *http.Client
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewClient creates a client for the given hook URL. An empty URL disables
// dispatch entirely.
func NewClient(hookURL string, log *zap.Logger) *Client {
	return &Client{
		hookURL: hookURL,
		httpc:   &http.Client{Timeout: dispatchTimeout},
		log:     log,
	}
}

// Notify dispatches an event asynchronously. extra may be nil.
func (c *Client) Notify(level, message string, extra map[string]interface{}) {
	if c == nil || c.hookURL == "" {
		return
	}
	event := models.AlertEvent{
		Channel: DefaultChannel,
		Level:   level,
		Message: message,
		Extra:   extra,
	}
	body, err := json.Marshal(event)
	if err != nil {
		c.log.Debug("alert encode failed", zap.Error(err))
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		resp, err := c.httpc.Post(c.hookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			metrics.AlertsDispatched.WithLabelValues("error").Inc()
			c.log.Debug("alert dispatch failed", zap.String("level", level), zap.Error(err))
			return
		}
		resp.Body.Close()
		metrics.AlertsDispatched.WithLabelValues("ok").Inc()
	}()
}

// Flush waits for in-flight dispatches. Intended for shutdown and tests;
// request paths never call it.
func (c *Client) Flush() {
	if c == nil {
		return
	}
	c.wg.Wait()
}
