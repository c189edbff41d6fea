package tsdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cellfleet/cellfleet-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	writeTimeout   = 5 * time.Second

	defaultBatchSize     = 1000
	defaultFlushInterval = 1 // seconds
)

// Client ships telemetry to VictoriaMetrics over its InfluxDB line
// protocol endpoint. Lines accumulate in an in-memory batch that is
// posted to /write when it fills or when the flush ticker fires, so
// individual writes never block on the network. Safe for concurrent
// use.
type Client struct {
	url        string
	httpClient *http.Client

	mu        sync.RWMutex // guards connected and onError
	connected bool
	onError   func(err error)

	batchMu   sync.Mutex
	batch     []string
	batchSize int

	flushTick *time.Ticker
	done      chan struct{}
	wg        sync.WaitGroup
}

// Connect validates the config, probes GET /health, and starts the
// background flush loop. Returns ErrDisabled when the backend is
// switched off in config.yaml.
func Connect(ctx context.Context, cfg config.VictoriaMetricsConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	c := &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: writeTimeout},
		batch:      make([]string, 0, batchSize),
		batchSize:  batchSize,
		flushTick:  time.NewTicker(time.Duration(flushInterval) * time.Second),
		done:       make(chan struct{}),
		connected:  true,
	}

	healthCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.HealthCheck(healthCtx); err != nil {
		c.connected = false
		return nil, fmt.Errorf("%w: health check failed: %w", ErrConnectionFailed, err)
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c, nil
}

func (c *Client) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.flushTick.C:
			c.Flush()
		case <-c.done:
			return
		}
	}
}

// Close stops the flush loop and posts whatever is still batched.
// Flush errors during shutdown go to the onError callback.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.flushTick.Stop()
	close(c.done)
	c.wg.Wait()

	c.Flush()
	return nil
}

// HealthCheck probes the server's /health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) // drain for connection reuse

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tsdb health check: status %d", resp.StatusCode)
	}
	return nil
}

// IsConnected reports the last known state without a network probe.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError registers a callback for flush failures. Writes are
// batched, so errors can only surface asynchronously.
func (c *Client) SetOnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// addLine queues one line protocol entry, flushing when the batch is
// full. Lines written after Close are dropped.
func (c *Client) addLine(line string) {
	if !c.IsConnected() {
		return
	}

	c.batchMu.Lock()
	c.batch = append(c.batch, line)
	full := len(c.batch) >= c.batchSize
	c.batchMu.Unlock()

	if full {
		c.Flush()
	}
}

// Flush posts the pending batch to /write. The ticker and full-batch
// paths call it automatically; tests and Close call it directly. The
// batch is swapped out under the lock, so concurrent flushes each send
// a disjoint set of lines.
func (c *Client) Flush() {
	c.batchMu.Lock()
	if len(c.batch) == 0 {
		c.batchMu.Unlock()
		return
	}
	lines := c.batch
	c.batch = make([]string, 0, c.batchSize)
	c.batchMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	body := strings.Join(lines, "\n")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/write", bytes.NewBufferString(body))
	if err != nil {
		c.reportError(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		return
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.reportError(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body) // drain for connection reuse

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		c.reportError(fmt.Errorf("%w: HTTP %d", ErrWriteFailed, resp.StatusCode))
	}
}

func (c *Client) reportError(err error) {
	c.mu.RLock()
	fn := c.onError
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
