// Package sources implements the HTTP clients for the upstream providers:
// PDOK Locatieserver, CBS StatLine, the CBS wijken-en-buurten WFS, OSM
// Overpass and Luchtmeetnet.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const userAgent = "livability/1.0 (+https://github.com/raphaelgruber/livability)"

// maxErrorBody limits how much of an error response is echoed into errors.
const maxErrorBody = 512

// HTTPClient is a rate limited HTTP client shared by all source clients of
// one provider.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates a client allowing rps requests per second with the
// given burst. rps <= 0 disables limiting.
func NewHTTPClient(timeout time.Duration, rps float64, burst int) *HTTPClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &limitedTransport{
				base:    http.DefaultTransport,
				limiter: rate.NewLimiter(limit, burst),
			},
		},
	}
}

// Do sends req once a rate limit token is available.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// Std returns the underlying client for libraries that take an
// *http.Client. Requests sent through it share the rate limit.
func (c *HTTPClient) Std() *http.Client {
	return c.client
}

type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", userAgent)
	}
	return t.base.RoundTrip(req)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// getJSON fetches url and decodes the body into out.
func (c *HTTPClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{URL: url, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// flexNumber decodes a JSON number that upstream APIs sometimes send as a
// string. null, empty and unparsable values decode as absent.
type flexNumber struct {
	value *float64
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	n.value = nil
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n.value = &v
	return nil
}

func (n flexNumber) float() *float64 {
	return n.value
}

func (n flexNumber) int() *int {
	if n.value == nil {
		return nil
	}
	v := int(*n.value)
	return &v
}

func trimBase(base string) string {
	return strings.TrimRight(base, "/")
}

// flexRaw keeps both readings of a JSON scalar: its text and, when it
// parses, its number.
type flexRaw struct {
	text   string
	number flexNumber
}

func (r *flexRaw) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.text = s
	} else if string(data) != "null" {
		r.text = string(data)
	}
	return r.number.UnmarshalJSON(data)
}
