package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// ClusterRequest is one request received by a FakeCluster
type ClusterRequest struct {
	Method      string
	Path        string
	ContentType string
	Body        []byte
}

// ClusterOptions controls how a FakeCluster answers.
type ClusterOptions struct {
	// HealthBody is returned by /_cluster/health. Defaults to a green status.
	HealthBody string
	// HealthCode is the /_cluster/health status code. Defaults to 200.
	HealthCode int
	// HealthDelay holds the /_cluster/health answer back, or until the
	// client gives up.
	HealthDelay time.Duration
	// Code is the status code for every other path. Defaults to 200.
	Code int
}

// FakeCluster simulates the parts of an Elasticsearch cluster the relay
// talks to and records what it was sent.
type FakeCluster struct {
	*httptest.Server

	mu       sync.Mutex
	requests []ClusterRequest
}

// NewFakeCluster starts a FakeCluster that is closed when the test ends.
func NewFakeCluster(t *testing.T, opts ClusterOptions) *FakeCluster {
	t.Helper()

	if opts.HealthBody == "" {
		opts.HealthBody = `{"cluster_name":"test","status":"green"}`
	}
	if opts.HealthCode == 0 {
		opts.HealthCode = http.StatusOK
	}
	if opts.Code == 0 {
		opts.Code = http.StatusOK
	}

	fc := &FakeCluster{}
	fc.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		fc.mu.Lock()
		fc.requests = append(fc.requests, ClusterRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		fc.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Elastic-Product", "Elasticsearch")

		if r.URL.Path == "/_cluster/health" {
			if opts.HealthDelay > 0 {
				select {
				case <-time.After(opts.HealthDelay):
				case <-r.Context().Done():
					return
				}
			}
			w.WriteHeader(opts.HealthCode)
			_, _ = io.WriteString(w, opts.HealthBody)
			return
		}

		w.WriteHeader(opts.Code)
		_, _ = fmt.Fprintf(w, `{"took":1,"path":%q}`, r.URL.Path)
	}))
	t.Cleanup(fc.Close)

	return fc
}

// Requests returns a copy of the requests received so far.
func (fc *FakeCluster) Requests() []ClusterRequest {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]ClusterRequest(nil), fc.requests...)
}

// LastRequest returns the most recent request, failing the test if there
// was none.
func (fc *FakeCluster) LastRequest(t *testing.T) ClusterRequest {
	t.Helper()
	reqs := fc.Requests()
	if len(reqs) == 0 {
		t.Fatalf("fake cluster received no requests")
	}
	return reqs[len(reqs)-1]
}

// UnreachableURL returns the address of a server that has already been
// shut down, so connecting to it fails.
func UnreachableURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

// AssertResponse reads and closes resp, checking its status code and, when
// wantBody is not empty, its body.
func AssertResponse(t *testing.T, resp *http.Response, wantCode int, wantBody string) {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading %s response: %v", resp.Request.URL.Path, err)
	}
	if resp.StatusCode != wantCode {
		t.Errorf("%s: status code = %d, want %d", resp.Request.URL.Path, resp.StatusCode, wantCode)
	}
	if wantBody != "" && string(body) != wantBody {
		t.Errorf("%s: body = %s, want %s", resp.Request.URL.Path, body, wantBody)
	}
}
