package beacon

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/vincentbai/webtics/internal/logging"
	"github.com/vincentbai/webtics/internal/metrics"
)

const (
	// ContentType is what browsers send for a string beacon body.
	ContentType = "text/plain;charset=UTF-8"

	// DefaultMaxPayloadBytes matches the usual browser beacon quota.
	DefaultMaxPayloadBytes = 64 * 1024

	DefaultTimeout = 10 * time.Second
)

type TransportConfig struct {
	Timeout         time.Duration
	MaxPayloadBytes int
}

// HTTPTransport posts each payload from its own goroutine and never reports
// the result to the sender.
type HTTPTransport struct {
	client     *http.Client
	maxPayload int
	logger     *logging.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewHTTPTransport(cfg TransportConfig, logger *logging.Logger) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPTransport{
		client:     &http.Client{Timeout: cfg.Timeout},
		maxPayload: cfg.MaxPayloadBytes,
		logger:     logger,
	}
}

// Available is false once Close has been called.
func (t *HTTPTransport) Available() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.closed
}

// Send queues payload for delivery and returns immediately. Payloads over
// the size limit are refused.
func (t *HTTPTransport) Send(endpoint string, payload []byte) bool {
	if len(payload) > t.maxPayload {
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}

	body := bytes.Clone(payload)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.deliver(endpoint, body)
	}()
	return true
}

func (t *HTTPTransport) deliver(endpoint string, body []byte) {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		metrics.BeaconDeliveries.WithLabelValues("invalid_request").Inc()
		t.logger.Debug("beacon request not built", logging.Error(err))
		return
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		metrics.BeaconDeliveries.WithLabelValues("network_error").Inc()
		t.logger.Debug("beacon delivery failed", logging.Endpoint(endpoint), logging.Error(err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.BeaconDeliveries.WithLabelValues("http_error").Inc()
		t.logger.Debug("beacon rejected by collector", logging.Endpoint(endpoint), logging.Status(resp.StatusCode))
		return
	}
	metrics.BeaconDeliveries.WithLabelValues("ok").Inc()
}

// Close stops accepting payloads and waits for in-flight deliveries until
// ctx is done.
func (t *HTTPTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight beacons: %w", ctx.Err())
	}
}
