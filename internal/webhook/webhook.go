// Package webhook provides best-effort outbound calls fired by interactive
// flow steps. Delivery failures are logged and never propagated, so a
// broken webhook target cannot stall or abort a session.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single webhook call.
const DefaultTimeout = 10 * time.Second

// Spec mirrors models.WebhookSpec without importing it, keeping this
// package free of flow model dependencies.
type Spec struct {
	URL     string
	Method  string
	Headers map[string]string
}

// Dispatcher fires outbound webhook calls on a separate, error-swallowing
// path that never blocks cursor advancement.
type Dispatcher struct {
	client *http.Client
}

// NewDispatcher creates a Dispatcher with the given per-call timeout.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{client: &http.Client{Timeout: timeout}}
}

// Dispatch fires the webhook in the background. Errors are logged only.
func (d *Dispatcher) Dispatch(spec Spec, body map[string]interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
		defer cancel()
		if err := d.Call(ctx, spec, body); err != nil {
			slog.Warn("Webhook.Dispatch: delivery failed", "url", spec.URL, "error", err)
		}
	}()
}

// Call performs one synchronous webhook delivery. Exposed for tests and for
// callers that want to wait on the result.
func (d *Dispatcher) Call(ctx context.Context, spec Spec, body map[string]interface{}) error {
	if spec.URL == "" {
		return fmt.Errorf("webhook URL is empty")
	}
	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, spec.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	slog.Debug("Webhook.Call succeeded", "url", spec.URL, "status", resp.StatusCode)
	return nil
}
