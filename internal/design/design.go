// Package design provides the third-party design provider client used by
// external-design flow steps. It speaks a small REST surface: listing
// designs, fetching one, and creating autofill jobs that are polled to
// completion.
package design

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/FlowDeckHQ/FlowDeck/internal/models"
)

// Default polling configuration for autofill jobs.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollBudget   = 30 * time.Second
)

// Provider is the design service contract consumed by the flow engine.
type Provider interface {
	// ListDesigns returns one page of designs; continuation is opaque.
	ListDesigns(ctx context.Context, continuation string) (*models.DesignPage, error)

	// GetDesign fetches one design by ID. Returns nil when not found.
	GetDesign(ctx context.Context, id string) (*models.Design, error)

	// AutofillCreate creates an autofill job from a template and polls it
	// to completion within the configured budget.
	AutofillCreate(ctx context.Context, templateID string, fields map[string]string) (*models.Design, error)
}

// Opts holds configuration options for the design client.
type Opts struct {
	BaseURL      string
	Token        string
	PollInterval time.Duration
	PollBudget   time.Duration
}

// Option configures the design client.
type Option func(*Opts)

// WithBaseURL sets the design API base URL.
func WithBaseURL(base string) Option {
	return func(o *Opts) { o.BaseURL = base }
}

// WithToken sets the bearer token for design API calls.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithPollBudget overrides how long autofill jobs are polled before the
// call reports failure.
func WithPollBudget(budget time.Duration) Option {
	return func(o *Opts) { o.PollBudget = budget }
}

// Client is an HTTP implementation of Provider.
type Client struct {
	http         *http.Client
	baseURL      string
	token        string
	pollInterval time.Duration
	pollBudget   time.Duration
}

// Compile-time check that Client implements Provider.
var _ Provider = (*Client)(nil)

// NewClient creates a design client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{PollInterval: DefaultPollInterval, PollBudget: DefaultPollBudget}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("design API base URL not set")
	}
	return &Client{
		http:         &http.Client{Timeout: 15 * time.Second},
		baseURL:      cfg.BaseURL,
		token:        cfg.Token,
		pollInterval: cfg.PollInterval,
		pollBudget:   cfg.PollBudget,
	}, nil
}

// ListDesigns returns one page of designs.
func (c *Client) ListDesigns(ctx context.Context, continuation string) (*models.DesignPage, error) {
	endpoint := c.baseURL + "/v1/designs"
	if continuation != "" {
		endpoint += "?continuation=" + url.QueryEscape(continuation)
	}

	var page models.DesignPage
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		slog.Error("Design.ListDesigns failed", "error", err)
		return nil, fmt.Errorf("failed to list designs: %w", err)
	}
	slog.Debug("Design.ListDesigns succeeded", "count", len(page.Designs))
	return &page, nil
}

// GetDesign fetches one design by ID.
func (c *Client) GetDesign(ctx context.Context, id string) (*models.Design, error) {
	endpoint := c.baseURL + "/v1/designs/" + url.PathEscape(id)

	var wrapper struct {
		Design models.Design `json:"design"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &wrapper); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		slog.Error("Design.GetDesign failed", "error", err, "designID", id)
		return nil, fmt.Errorf("failed to get design %s: %w", id, err)
	}
	return &wrapper.Design, nil
}

// AutofillCreate creates an autofill job and polls it until the job
// completes or the poll budget elapses.
func (c *Client) AutofillCreate(ctx context.Context, templateID string, fields map[string]string) (*models.Design, error) {
	body := map[string]interface{}{
		"brand_template_id": templateID,
		"data":              fields,
	}

	var created struct {
		Job struct {
			ID string `json:"id"`
		} `json:"job"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/autofills", body, &created); err != nil {
		slog.Error("Design.AutofillCreate failed", "error", err, "templateID", templateID)
		return nil, fmt.Errorf("failed to create autofill job: %w", err)
	}
	slog.Debug("Design.AutofillCreate: job created", "jobID", created.Job.ID, "templateID", templateID)

	deadline := time.Now().Add(c.pollBudget)
	for {
		var status struct {
			Job struct {
				ID     string        `json:"id"`
				Status string        `json:"status"`
				Result models.Design `json:"result"`
				Error  string        `json:"error"`
			} `json:"job"`
		}
		if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/v1/autofills/"+url.PathEscape(created.Job.ID), nil, &status); err != nil {
			return nil, fmt.Errorf("failed to poll autofill job %s: %w", created.Job.ID, err)
		}

		switch status.Job.Status {
		case "success":
			slog.Debug("Design.AutofillCreate: job completed", "jobID", created.Job.ID)
			return &status.Job.Result, nil
		case "failed":
			return nil, fmt.Errorf("autofill job %s failed: %s", created.Job.ID, status.Job.Error)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("autofill job %s did not complete within %s", created.Job.ID, c.pollBudget)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// notFoundError marks a 404 response.
type notFoundError struct{ endpoint string }

func (e *notFoundError) Error() string {
	return fmt.Sprintf("design API returned 404 for %s", e.endpoint)
}

func isNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}

// doJSON performs one authenticated JSON request.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &notFoundError{endpoint: endpoint}
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("design API returned status %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
