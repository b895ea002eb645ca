package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RetryConfig configures webhook redelivery.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the redelivery settings used when none are given.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("notify: webhook responded %d", e.StatusCode)
}

// WebhookPublisher POSTs messages as JSON to a fixed URL.
type WebhookPublisher struct {
	url    string
	client *http.Client
	retry  RetryConfig
}

// NewWebhookPublisher creates a publisher whose requests time out after timeout.
func NewWebhookPublisher(url string, timeout time.Duration, retry RetryConfig) *WebhookPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retry.BackoffFactor < 1 {
		retry.BackoffFactor = 1
	}
	return &WebhookPublisher{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry:  retry,
	}
}

// Publish delivers msg, retrying transport failures, 429 and 5xx responses with exponential backoff.
func (p *WebhookPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}

	var lastErr error
	delay := p.retry.InitialDelay
	for attempt := 0; attempt <= p.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * p.retry.BackoffFactor)
				if delay > p.retry.MaxDelay {
					delay = p.retry.MaxDelay
				}
			}
		}

		lastErr = p.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("notify: webhook failed after %d retries: %w", p.retry.MaxRetries, lastErr)
}

func (p *WebhookPublisher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return true
}
