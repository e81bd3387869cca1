// Package crm talks to the CRM's deal API (Pipedrive-compatible) via HTTP/JSON.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public Pipedrive v1 API root.
const DefaultBaseURL = "https://api.pipedrive.com/v1"

// Config for the CRM HTTP client.
type Config struct {
	// BaseURL is the API root (e.g., "https://acme.pipedrive.com/api/v1").
	// If the value does not start with "http", it is prefixed with "https://".
	BaseURL string

	// APIToken is sent as the api_token query parameter on every request.
	APIToken string

	// Timeout bounds each request. Zero means 60s (file uploads can be slow).
	Timeout time.Duration

	// RequestsPerSecond throttles calls to stay under the CRM's rate limit.
	// Zero disables throttling.
	RequestsPerSecond float64
}

// Client calls the CRM REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter // nil = unthrottled
}

// New creates a CRM client.
func New(cfg Config) (*Client, error) {
	addr := cfg.BaseURL
	if addr == "" {
		addr = DefaultBaseURL
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "https://" + addr
	}
	addr = strings.TrimRight(addr, "/")

	if cfg.APIToken == "" {
		return nil, fmt.Errorf("APIToken is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	c := &Client{
		baseURL:    addr,
		token:      cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// APIError represents an error response from the CRM API. Message carries the
// CRM's own error text so it can be shown to users verbatim.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("CRM API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// envelope is the response wrapper used by every CRM endpoint.
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorInfo string          `json:"error_info"`
}

// parseDealID converts the textual deal id into the numeric form the API expects.
func parseDealID(dealID string) (int64, error) {
	id, err := strconv.ParseInt(dealID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid deal id %q: %w", dealID, err)
	}
	return id, nil
}

// endpoint builds an absolute URL for path with the api token and extra query.
func (c *Client) endpoint(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api_token", c.token)
	return c.baseURL + path + "?" + q.Encode()
}

// doJSON performs an HTTP request with optional JSON body and decodes the
// envelope's data field into result.
func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body any, result any) error {
	var bodyReader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, c.endpoint(path, q), contentType, bodyReader, result)
}

// do sends a prepared request body and decodes the CRM envelope.
func (c *Client) do(ctx context.Context, method, rawURL, contentType string, body io.Reader, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode >= 400 || (decodeErr == nil && !env.Success) {
		if decodeErr == nil && env.Error != "" {
			msg := env.Error
			if env.ErrorInfo != "" {
				msg += " (" + env.ErrorInfo + ")"
			}
			return &APIError{StatusCode: resp.StatusCode, Message: msg}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}
	if decodeErr != nil {
		return fmt.Errorf("decoding response: %w", decodeErr)
	}

	if result != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}
