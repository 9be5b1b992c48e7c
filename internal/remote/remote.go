// Package remote sends mutations to the remote data service over HTTP.
//
// The service is addressed as POST {endpoint}/v1/mutations/{type}. The
// idempotency key travels as both a header and a body field so a replayed
// entry is recognized server side. 409 Conflict means the service has
// already applied the key and is treated as success.
package remote

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

	"github.com/google/uuid"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/payload"
)

// DefaultTimeout bounds a single request when none is configured.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept on HTTPError.
const maxErrorBody = 1 << 10

// HTTPError is a non-success response from the service.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether a later attempt can succeed. Server errors,
// throttling and timeouts can. So can auth failures, which are fixed by
// configuration rather than by changing the request. Any other 4xx is a
// rejection of the mutation itself, and the outbox dead-letters it.
func (e *HTTPError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return e.StatusCode >= 500
}

// IsHTTPStatus reports whether err carries the given status code.
func IsHTTPStatus(err error, code int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == code
}

type requestBody struct {
	ID             string         `json:"id"`
	ActorID        string         `json:"actor_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Payload        payload.Object `json:"payload"`
}

// HTTPWriter writes operations to the remote service.
//
// Thread-safety: safe for concurrent use.
type HTTPWriter struct {
	endpoint *url.URL
	token    string
	client   *http.Client
	logger   *slog.Logger
}

// Option configures an HTTPWriter.
type Option func(*HTTPWriter)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(w *HTTPWriter) {
		w.token = token
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(w *HTTPWriter) {
		if c != nil {
			w.client = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(w *HTTPWriter) {
		if d > 0 {
			w.client = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *HTTPWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewHTTPWriter creates a writer for the service at endpoint.
func NewHTTPWriter(endpoint string, opts ...Option) (*HTTPWriter, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("remote: endpoint is required")
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: endpoint scheme must be http or https, got %q", u.Scheme)
	}

	w := &HTTPWriter{
		endpoint: u,
		client:   &http.Client{Timeout: DefaultTimeout},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write sends op on behalf of actorID. It has the shape of reliable.Writer.
func (w *HTTPWriter) Write(ctx context.Context, actorID string, op mutation.Operation) error {
	p := op.Payload
	if p == nil {
		p = payload.Object{}
	}
	body, err := json.Marshal(requestBody{
		ID:             op.ID,
		ActorID:        actorID,
		IdempotencyKey: op.IdempotencyKey,
		Payload:        p,
	})
	if err != nil {
		return fmt.Errorf("remote: encode %s: %w", op.ID, err)
	}

	target := w.endpoint.JoinPath("v1", "mutations", string(op.Type))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", op.IdempotencyKey)
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", op.Type, op.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case resp.StatusCode == http.StatusConflict:
		_, _ = io.Copy(io.Discard, resp.Body)
		w.logger.Debug("remote already applied key", "operation", op.Type, "key", op.IdempotencyKey)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}
