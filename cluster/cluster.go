package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.ntppool.org/common/logger"
)

// HealthTimeout bounds the cluster health call. No other call has a timeout.
const HealthTimeout = 5 * time.Second

// Client talks to a single Elasticsearch cluster over HTTP
type Client struct {
	baseURL       string
	hclient       *http.Client
	healthTimeout time.Duration
	msearchFormat Format
	bulkFormat    Format
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hclient = hc }
}

// WithHealthTimeout overrides HealthTimeout.
func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) { c.healthTimeout = d }
}

// WithMultiSearchFormat sets the encoding of the _msearch batch.
func WithMultiSearchFormat(f Format) Option {
	return func(c *Client) { c.msearchFormat = f }
}

// WithBulkFormat sets the encoding of the _bulk batch.
func WithBulkFormat(f Format) Option {
	return func(c *Client) { c.bulkFormat = f }
}

// New returns a client for the cluster at baseURL
func New(baseURL string, opts ...Option) *Client {
	netTransport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 5 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		hclient:       &http.Client{Transport: netTransport},
		healthTimeout: HealthTimeout,
		msearchFormat: FormatJSON,
		bulkFormat:    FormatJSON,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the cluster address the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TransportError is returned when the cluster could not be reached or,
// for the health call, did not answer with a usable response.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Result describes a downstream response. The relay does not act on it
// beyond logging.
type Result struct {
	StatusCode int
	Product    string
}

type healthResponse struct {
	Status *string `json:"status"`
}

// Health returns the cluster health status ("green", "yellow" or "red").
func (c *Client) Health(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	url := c.baseURL + "/_cluster/health"
	terr := func(err error) error {
		return &TransportError{Op: "health", URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", terr(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hclient.Do(req)
	if err != nil {
		return "", terr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", terr(fmt.Errorf("status code %d", resp.StatusCode))
	}

	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return "", terr(fmt.Errorf("decoding health response: %w", err))
	}

	if hr.Status == nil {
		return "red", nil
	}
	return *hr.Status, nil
}

// Doc fetches document 1 from test_index.
func (c *Client) Doc(ctx context.Context) (*Result, error) {
	return c.do(ctx, "doc", http.MethodGet, "/test_index/_doc/1", nil, contentTypeJSON)
}

// Search runs SearchQuery against test_index.
func (c *Client) Search(ctx context.Context) (*Result, error) {
	body, err := json.Marshal(SearchQuery)
	if err != nil {
		return nil, fmt.Errorf("encoding search query: %w", err)
	}
	return c.do(ctx, "search", http.MethodPost, "/test_index/_search", body, contentTypeJSON)
}

// MultiSearch posts MultiSearchBatch to _msearch.
func (c *Client) MultiSearch(ctx context.Context) (*Result, error) {
	body, err := EncodeBatch(c.msearchFormat, MultiSearchBatch())
	if err != nil {
		return nil, fmt.Errorf("encoding msearch batch: %w", err)
	}
	return c.do(ctx, "msearch", http.MethodPost, "/_msearch", body, c.msearchFormat.ContentType())
}

// Bulk posts BulkActions to _bulk.
func (c *Client) Bulk(ctx context.Context) (*Result, error) {
	body, err := EncodeBatch(c.bulkFormat, BulkActions())
	if err != nil {
		return nil, fmt.Errorf("encoding bulk actions: %w", err)
	}
	return c.do(ctx, "bulk", http.MethodPost, "/_bulk", body, c.bulkFormat.ContentType())
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, contentType string) (*Result, error) {
	log := logger.FromContext(ctx)
	url := c.baseURL + path

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, &TransportError{Op: op, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hclient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, URL: url, Err: fmt.Errorf("reading response: %w", err)}
	}

	log.DebugContext(ctx, "cluster response",
		"op", op,
		"status_code", resp.StatusCode,
		"bytes", n,
	)

	return &Result{
		StatusCode: resp.StatusCode,
		Product:    resp.Header.Get("X-Elastic-Product"),
	}, nil
}
