package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/keyguard/internal/bridge"
)

// EventHeader names the record type ("run" or "key") on webhook posts.
const EventHeader = "X-Keyguard-Event"

// Webhook posts each record as a JSON envelope to a URL. Network errors,
// 429 and 5xx answers are retried with a doubling delay; other non-2xx
// answers fail at once.
type Webhook struct {
	url      string
	client   *http.Client
	retries  int
	delay    time.Duration
	withKeys bool
	logger   *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a post is retried. Default: 3.
func WithWebhookRetries(n int) WebhookOption { return func(w *Webhook) { w.retries = n } }

// WithWebhookBackoff sets the delay before the first retry. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption { return func(w *Webhook) { w.delay = d } }

// WithWebhookKeys also posts keystroke records.
func WithWebhookKeys() WebhookOption { return func(w *Webhook) { w.withKeys = true } }

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption { return func(w *Webhook) { w.logger = l } }

// NewWebhook creates a Webhook sink posting to url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		delay:   time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) SendRun(ctx context.Context, run bridge.Run) error {
	return w.deliver(ctx, "run", run)
}

func (w *Webhook) SendKey(ctx context.Context, rec KeyRecord) error {
	if !w.withKeys {
		return nil
	}
	return w.deliver(ctx, "key", rec)
}

func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

// errPermanent marks an answer that retrying cannot fix.
var errPermanent = errors.New("permanent")

func (w *Webhook) deliver(ctx context.Context, typ string, data any) error {
	body, err := json.Marshal(envelope{Type: typ, Data: data})
	if err != nil {
		return fmt.Errorf("webhook: marshal %s: %w", typ, err)
	}

	delay := w.delay
	for attempt := 1; ; attempt++ {
		err = w.post(ctx, typ, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) {
			return fmt.Errorf("webhook: %s rejected: %w", typ, err)
		}
		if attempt > w.retries {
			return fmt.Errorf("webhook: %s failed after %d attempts: %w", typ, attempt, err)
		}
		w.logger.Warn("webhook: retrying", "type", typ, "attempt", attempt, "in", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
}

func (w *Webhook) post(ctx context.Context, typ string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, typ)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("status %d", code)
	default:
		return fmt.Errorf("%w: status %d", errPermanent, code)
	}
}
