package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wagate/internal/domain"
	"wagate/internal/metrics"
)

// DispatcherConfig configures outbound webhook delivery.
type DispatcherConfig struct {
	Timeout time.Duration // per-delivery deadline (default 10s)
	Secret  string        // HMAC secret; signs payloads when set
	Logger  *slog.Logger
}

// Dispatcher POSTs inbound messages to tenant-configured webhook URLs. One
// attempt per message, no retries; a failed delivery is the tenant's loss.
type Dispatcher struct {
	client *http.Client
	secret string
	logger *slog.Logger
}

// webhookPayload is the JSON body of an outbound webhook POST.
type webhookPayload struct {
	Event     string                `json:"event"`
	Message   domain.InboundMessage `json:"message"`
	Timestamp time.Time             `json:"timestamp"`
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		client: &http.Client{Timeout: cfg.Timeout},
		secret: cfg.Secret,
		logger: cfg.Logger,
	}
}

// Deliver POSTs the message to the URL. Non-2xx responses count as failures.
func (d *Dispatcher) Deliver(ctx context.Context, url string, msg domain.InboundMessage) error {
	metrics.WebhookDeliveries.Inc()

	body, err := json.Marshal(webhookPayload{
		Event:     "message_received",
		Message:   msg,
		Timestamp: time.Now(),
	})
	if err != nil {
		metrics.WebhookFailures.Inc()
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		metrics.WebhookFailures.Inc()
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set("X-Signature-256", signHMAC(body, d.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.WebhookFailures.Inc()
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.WebhookFailures.Inc()
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	d.logger.Debug("webhook delivered", "url", url, "message", msg.ID)
	return nil
}

// signHMAC computes the HMAC-SHA256 signature of the body.
func signHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
