// Package knowledge implements C3: the HTTP client for the knowledge/context
// graph store. Every logical operation is defined by an ordered list of
// attempt descriptors (path/query/body shape); the client tries each in
// order, stopping on the first success or the first non-retryable status,
// modeled on the teacher's common/arangodb "ensure" + slog-timing idiom and
// internal/queue/consumer.go's tolerant, alias-accepting decode helpers.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agentsup.dev/supervisor/internal/supervisorerr"
)

// retryableStatuses is the set of HTTP statuses that mean "this API surface
// variant doesn't match — try the next attempt descriptor", per spec.md §4.3.
var retryableStatuses = map[int]struct{}{
	http.StatusBadRequest:            {},
	http.StatusNotFound:              {},
	http.StatusMethodNotAllowed:      {},
	http.StatusUnsupportedMediaType:  {},
	http.StatusUnprocessableEntity:   {},
	http.StatusNotImplemented:        {},
}

func isRetryableStatus(status int) bool {
	_, ok := retryableStatuses[status]
	return ok
}

type Config struct {
	APIBase    string
	ServiceKey string
	UIBase     string
	UITokenTTL time.Duration
}

func (c Config) Validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("knowledge store API base is required")
	}
	if c.ServiceKey == "" {
		return fmt.Errorf("knowledge store service key is required")
	}
	return nil
}

// Client is the knowledge-store HTTP client.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("knowledge client config: %w", err)
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// attempt describes one candidate shape of a logical operation's request.
type attempt struct {
	name   string
	method string
	path   string
	query  map[string]string
	body   any
}

// do issues one attempt and returns the decoded response body bytes, or an
// error. A retryable-status response is surfaced as *supervisorerr.TransientRemote
// so the caller's attempt loop can move on to the next descriptor.
func (c *Client) do(ctx context.Context, a attempt, tried []string) ([]byte, error) {
	start := time.Now()

	u := strings.TrimSuffix(c.cfg.APIBase, "/") + a.path
	var bodyReader io.Reader
	if a.body != nil {
		encoded, err := json.Marshal(a.body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", a.name, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, a.method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", a.name, err)
	}
	if a.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)

	if len(a.query) > 0 {
		q := req.URL.Query()
		for k, v := range a.query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &supervisorerr.TransientRemote{Status: 0, Attempted: append(tried, a.name)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", a.name, err)
	}

	slog.DebugContext(ctx, "knowledge store attempt",
		"op", a.name, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	if isRetryableStatus(resp.StatusCode) {
		return nil, &supervisorerr.TransientRemote{Status: resp.StatusCode, Attempted: append(tried, a.name)}
	}

	return nil, &supervisorerr.FatalRemote{Status: resp.StatusCode, Detail: truncate(string(body), 500)}
}

// runAttempts tries each descriptor in order, returning the first success.
// If every attempt is exhausted with only transient failures, the last
// TransientRemote is returned; a FatalRemote from any attempt aborts immediately.
func (c *Client) runAttempts(ctx context.Context, attempts []attempt) ([]byte, error) {
	var tried []string
	var lastErr error
	for _, a := range attempts {
		body, err := c.do(ctx, a, tried)
		if err == nil {
			return body, nil
		}
		if _, ok := err.(*supervisorerr.FatalRemote); ok {
			return nil, err
		}
		tried = append(tried, a.name)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &supervisorerr.FatalRemote{Status: 0, Detail: "no attempts configured"}
	}
	return nil, lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func looksLikeHTML(body []byte) bool {
	trimmed := strings.TrimSpace(strings.ToLower(string(body)))
	return strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html")
}
