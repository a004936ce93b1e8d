// Package calcserver is a stateless client for the remote calculation service.
package calcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/montracker/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultAPIVersion = "v1"
	defaultTimeout    = 3 * time.Second
	maxResponseBytes  = 1 << 20
)

// ErrServiceUnavailable is returned for any failed remote call: network
// errors, timeouts, non-2xx responses and bodies that do not match the
// expected shape.
var ErrServiceUnavailable = errors.New("calculation service unavailable")

// IsServiceUnavailable checks if an error came from a failed remote call.
func IsServiceUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// Config locates the calculation service.
type Config struct {
	Address    string
	APIVersion string
	Timeout    time.Duration
}

// Client calls the calculation service over HTTP+JSON.
type Client struct {
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewClient creates a client. Missing api version and timeout take defaults.
func NewClient(cfg Config, logger *slog.Logger, tracer trace.Tracer) *Client {
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if tracer == nil {
		tracer = otelhelper.Noop("calcserver")
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.Address, "/") + "/" + strings.Trim(version, "/"),
		http: &http.Client{
			Transport:     nil,
			CheckRedirect: nil,
			Jar:           nil,
			Timeout:       timeout,
		},
		tracer: tracer,
		logger: logger.With("module", "calcserver"),
	}
}

// SubmitSimple submits a simple batch and returns model name to remote id.
func (c *Client) SubmitSimple(ctx context.Context, batch SimpleBatch) (map[string]string, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "calcserver.submit_simple",
		attribute.Int(otelhelper.BatchSizeKey, len(batch.Models)))
	defer span.End()

	ids, err := c.submit(ctx, "/analysis", batch, batch.Models)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return ids, nil
}

// SubmitComplex submits a complex batch and returns model name to remote id.
func (c *Client) SubmitComplex(ctx context.Context, batch ComplexBatch) (map[string]string, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "calcserver.submit_complex",
		attribute.Int(otelhelper.BatchSizeKey, len(batch.ComplexAnalyses)))
	defer span.End()

	ids, err := c.submit(ctx, "/complex_analysis", batch, batch.ComplexAnalyses)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return ids, nil
}

// Status polls one remote computation.
func (c *Client) Status(ctx context.Context, remoteID string) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "calcserver.status",
		attribute.String(otelhelper.RemoteIDKey, remoteID))
	defer span.End()

	var body map[string]any

	err := c.do(ctx, http.MethodGet, "/analysis/"+url.PathEscape(remoteID), nil, &body)
	if err == nil {
		err = validate(statusResponseSchema, body)
	}

	if err != nil {
		err = unavailable("status "+remoteID, err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	result := &Result{}
	result.Status, _ = body["status"].(string)

	if layers, ok := body["layer_ids"].([]any); ok {
		for _, id := range layers {
			result.LayerIDs = append(result.LayerIDs, identifier(id))
		}
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, result.Status))

	return result, nil
}

// Cancel asks the service to drop a computation.
func (c *Client) Cancel(ctx context.Context, remoteID string) error {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "calcserver.cancel",
		attribute.String(otelhelper.RemoteIDKey, remoteID))
	defer span.End()

	err := c.do(ctx, http.MethodDelete, "/analysis/"+url.PathEscape(remoteID), nil, nil)
	if err != nil {
		err = unavailable("cancel "+remoteID, err)
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

func (c *Client) submit(ctx context.Context, path string, payload any, names []string) (map[string]string, error) {
	var body map[string]any

	err := c.do(ctx, http.MethodPost, path, payload, &body)
	if err == nil {
		err = validate(submitResponseSchema, body)
	}

	if err != nil {
		return nil, unavailable("submit "+path, err)
	}

	ids := make(map[string]string, len(body))
	for name, id := range body {
		ids[name] = identifier(id)
	}

	for _, name := range names {
		if ids[name] == "" {
			return nil, unavailable("submit "+path, fmt.Errorf("response has no id for model %q", name))
		}
	}

	c.logger.DebugContext(ctx, "Submitted batch", "path", path, "models", names)

	return ids, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var reader io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes))
	decoder.UseNumber()

	err = decoder.Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrServiceUnavailable, err)
}

// identifier normalizes remote ids, which the service sends as strings or integers.
func identifier(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}
