package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"
)

// webhookDelays are the waits before each attempt; the first is immediate.
var webhookDelays = []time.Duration{0, 100 * time.Millisecond, 300 * time.Millisecond}

// WebhookSink POSTs each event as JSON with the event's request id in
// X-Request-ID.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookSink(url string, headers map[string]string, timeout time.Duration) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("audit webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &WebhookSink{
		url:     url,
		headers: maps.Clone(headers),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

var errPermanent = errors.New("not retryable")

// statusError is a non-2xx answer from the receiver.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d body=%q", e.code, e.body)
}

// retryable reports whether err is worth another attempt: transport
// failures, 429 and 5xx.
func retryable(err error) bool {
	if errors.Is(err, errPermanent) {
		return false
	}
	var se *statusError
	if !errors.As(err, &se) {
		return true
	}
	return se.code == http.StatusTooManyRequests || se.code >= 500
}

// Deliver makes up to three attempts.
func (s *WebhookSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	for _, delay := range webhookDelays {
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
		if err = s.post(ctx, ev.RequestID, payload); err == nil || !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (s *WebhookSink) post(ctx context.Context, requestID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w: %w", errPermanent, err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 201))
	msg := string(body)
	if len(body) > 200 {
		msg = string(body[:200]) + "..."
	}
	return &statusError{code: resp.StatusCode, body: msg}
}

func (s *WebhookSink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}
