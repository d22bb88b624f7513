package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/liamcoop/automation/automation"
)

// httpWebhookCaller delivers webhook actions with a plain HTTP client.
type httpWebhookCaller struct {
	client *http.Client
}

func newHTTPWebhookCaller(timeout time.Duration) *httpWebhookCaller {
	return &httpWebhookCaller{
		client: &http.Client{Timeout: timeout},
	}
}

func (c *httpWebhookCaller) CallWebhook(ctx context.Context, call automation.WebhookCall) error {
	body, err := json.Marshal(call.Body)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// logAuditSink records execution outcomes to the structured log. The real
// platform ships outcomes to the audit service; this keeps a usable trail
// for standalone deployments.
type logAuditSink struct {
	log *slog.Logger
}

func (a *logAuditSink) LogExecution(_ context.Context, rec automation.ExecutionRecord) error {
	attrs := []any{
		"ruleId", rec.Rule.ID,
		"ruleName", rec.Rule.Name,
		"executionId", rec.ExecutionID,
		"status", rec.Status,
	}
	if rec.Err != nil {
		attrs = append(attrs, "error", rec.Err)
	}
	a.log.Info("rule executed", attrs...)
	return nil
}
