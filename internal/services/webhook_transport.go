package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WebhookTransport POSTs a JSON body and reports the HTTP status.
type WebhookTransport interface {
	Post(ctx context.Context, target string, headers map[string]string, body []byte) (int, error)
}

var ErrCircuitOpen = errors.New("circuit open")

// HTTPWebhookTransport is the net/http implementation with an optional per-host breaker.
type HTTPWebhookTransport struct {
	client   *http.Client
	breakers *CircuitBreakerGroup
	logger   *logrus.Logger
}

// NewHTTPWebhookTransport builds a transport; breakers may be nil to disable breaking.
func NewHTTPWebhookTransport(timeout time.Duration, breakers *CircuitBreakerGroup, logger *logrus.Logger) *HTTPWebhookTransport {
	return &HTTPWebhookTransport{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// 不跟随重定向：3xx 按非 2xx 处理，避免 POST 被改写为 GET
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		breakers: breakers,
		logger:   defaultLogger(logger),
	}
}

func (t *HTTPWebhookTransport) Post(ctx context.Context, target string, headers map[string]string, body []byte) (int, error) {
	u, err := url.Parse(target)
	if err != nil {
		return 0, fmt.Errorf("invalid webhook url: %w", err)
	}

	var cb *CircuitBreaker
	if t.breakers != nil {
		cb = t.breakers.Get(u.Host)
		if !cb.Allow() {
			return 0, fmt.Errorf("%w for %s", ErrCircuitOpen, u.Host)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hndld-automations/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if cb != nil {
			cb.OnFailure()
		}
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if cb != nil {
		if resp.StatusCode >= 500 {
			cb.OnFailure()
		} else {
			cb.OnSuccess()
		}
	}

	t.logger.WithFields(logrus.Fields{
		"host":   u.Host,
		"status": resp.StatusCode,
	}).Debug("webhook delivered")
	return resp.StatusCode, nil
}
