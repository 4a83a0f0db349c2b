// Package netclient provides the HTTP client the license engine talks to the
// licensing service through. It retries retryable failures with exponential
// backoff, tracks online/offline state, and probes for reachability while
// offline. It knows nothing about license semantics: callers hand it a
// method, a path, and JSON-codable request/response values.
package netclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/licenseward/licenseward-go/errs"
)

const (
	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRetryDelay is the base delay for exponential backoff.
	DefaultRetryDelay = time.Second

	// DefaultMaxRetries is how many times a retryable failure is retried.
	DefaultMaxRetries = 3

	// DefaultProbeInterval is how often the liveness endpoint is polled
	// while the client is offline.
	DefaultProbeInterval = 30 * time.Second
)

// Config holds network client settings.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	ProbeInterval time.Duration
}

// Client executes logical remote calls with retry/backoff and owns the
// online/offline state of the engine.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	maxRetries    int
	retryDelay    time.Duration
	probeInterval time.Duration
	logger        zerolog.Logger

	online     *atomic.Bool
	transition func(online bool)

	probeMu   sync.Mutex
	probeStop chan struct{}
}

// New creates a network client. BaseURL is required.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errs.Configuration("server base URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}

	return &Client{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		probeInterval: cfg.ProbeInterval,
		logger:        logger.With().Str("component", "netclient").Logger(),
		online:        atomic.NewBool(true),
	}, nil
}

// Online reports the current reachability state.
func (c *Client) Online() bool {
	return c.online.Load()
}

// OnTransition registers the handler invoked exactly once per online/offline
// flip. Must be set before the client is used.
func (c *Client) OnTransition(fn func(online bool)) {
	c.transition = fn
}

// Do executes one logical remote call. Retryable failures (transport errors,
// 429/408, 5xx except 500/501) are retried up to MaxRetries times with
// exponential backoff; anything else propagates immediately. in may be nil
// for body-less requests; out may be nil when the response body is ignored.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * (1 << (attempt - 1))
			c.logger.Debug().
				Str("path", path).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errs.Transport("request cancelled", ctx.Err())
			}
		}

		err := c.once(ctx, method, path, in, out)
		if err == nil {
			c.markOnline()
			return nil
		}
		lastErr = err

		if kind, ok := errs.KindOf(err); ok && kind == errs.KindTransport {
			c.markOffline()
		}
		if !errs.IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

// Health probes the liveness endpoint. Any 2xx counts as reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return errs.Transport("create health request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Transport("health probe failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.Remote(resp.StatusCode, "unhealthy", "health probe returned non-2xx status")
	}
	return nil
}

// Close stops the background probe, if running.
func (c *Client) Close() {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()
	if c.probeStop != nil {
		close(c.probeStop)
		c.probeStop = nil
	}
}

// errorEnvelope is the error body shape of the licensing service.
type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) once(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errs.Configuration(fmt.Sprintf("marshal request body: %v", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errs.Configuration(fmt.Sprintf("create request: %v", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Transport(fmt.Sprintf("send request to %s", path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.Remote(resp.StatusCode, "malformed_response", fmt.Sprintf("decode response: %v", err))
		}
		return nil
	}

	var env errorEnvelope
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &env); err != nil || env.Code == "" {
		env.Code = fmt.Sprintf("http_%d", resp.StatusCode)
		env.Message = strings.TrimSpace(string(data))
	}
	return errs.Remote(resp.StatusCode, env.Code, env.Message)
}

// markOffline flips the client offline. The transition handler fires exactly
// once per flip, and the probe loop starts polling for recovery.
func (c *Client) markOffline() {
	if !c.online.CompareAndSwap(true, false) {
		return
	}
	c.logger.Warn().Msg("licensing service unreachable, entering offline mode")
	if c.transition != nil {
		c.transition(false)
	}
	c.startProbe()
}

func (c *Client) markOnline() {
	if !c.online.CompareAndSwap(false, true) {
		return
	}
	c.logger.Info().Msg("licensing service reachable again, back online")
	c.stopProbe()
	if c.transition != nil {
		c.transition(true)
	}
}

func (c *Client) startProbe() {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()
	if c.probeStop != nil {
		return
	}
	stop := make(chan struct{})
	c.probeStop = stop

	go func() {
		ticker := time.NewTicker(c.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := c.Health(ctx)
				cancel()
				if err == nil {
					c.markOnline()
					return
				}
				c.logger.Debug().Err(err).Msg("liveness probe failed")
			}
		}
	}()
}

func (c *Client) stopProbe() {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()
	if c.probeStop != nil {
		close(c.probeStop)
		c.probeStop = nil
	}
}
