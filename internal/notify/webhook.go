package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WebhookSender posts each notification as JSON to a webhook, paced by a rate limiter.
type WebhookSender struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

type webhookPayload struct {
	Kind      MessageKind `json:"kind"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewWebhookSender creates a WebhookSender. ratePerSec <= 0 disables pacing.
func NewWebhookSender(url string, ratePerSec float64, timeout time.Duration) *WebhookSender {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Send posts one notification. Failures are returned as *DeliveryError.
func (w *WebhookSender) Send(ctx context.Context, kind MessageKind, to Recipient) error {
	fail := func(status int, err error) error {
		return &DeliveryError{Kind: kind, Recipient: to, StatusCode: status, Err: err}
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fail(0, eris.Wrap(err, "notify: rate limit wait"))
	}

	payload, err := json.Marshal(webhookPayload{
		Kind:      kind,
		Name:      to.Name,
		Email:     to.Email,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fail(0, eris.Wrap(err, "notify: marshal payload"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fail(0, eris.Wrap(err, "notify: create webhook request"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fail(0, eris.Wrap(err, "notify: webhook request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fail(resp.StatusCode, eris.Errorf("notify: webhook returned status %d", resp.StatusCode))
	}

	zap.L().Debug("notify: sent",
		zap.String("kind", string(kind)),
		zap.String("email", to.Email),
	)
	return nil
}
