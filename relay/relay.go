// Package relay implements the HTTP routes of the fixture. Every route makes
// exactly one call to the Elasticsearch cluster.
//
// A transport failure on /health is reported as a 503. On every other route
// it is fatal: the Fatal hook is called and the request is aborted, and the
// caller is expected to stop the process.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ant0ine/go-json-rest/rest"
	"go.ntppool.org/common/logger"

	"go.askask.com/es-relay/cluster"
)

// ErrUnhealthy is logged when the cluster reports red or yellow.
var ErrUnhealthy = errors.New("elasticsearch cluster unhealthy")

// Cluster is the downstream the relay forwards to
type Cluster interface {
	Health(ctx context.Context) (string, error)
	Doc(ctx context.Context) (*cluster.Result, error)
	Search(ctx context.Context) (*cluster.Result, error)
	MultiSearch(ctx context.Context) (*cluster.Result, error)
	Bulk(ctx context.Context) (*cluster.Result, error)
}

// Status is the JSON body of every route.
type Status struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

var statusOK = Status{Status: "OK"}

type Relay struct {
	Cluster Cluster
	// Fatal is called with the cause when a forwarded call cannot reach
	// the cluster. It must not block.
	Fatal func(error)
}

// New returns a Relay forwarding to c.
func New(c Cluster, fatal func(error)) *Relay {
	return &Relay{Cluster: c, Fatal: fatal}
}

func (rl *Relay) GetRoutes() []*rest.Route {
	return []*rest.Route{
		rest.Get("/health", rl.HealthHandler),
		rest.Get("/doc", rl.forward("doc", rl.Cluster.Doc)),
		rest.Get("/search", rl.forward("search", rl.Cluster.Search)),
		rest.Get("/msearch", rl.forward("msearch", rl.Cluster.MultiSearch)),
		rest.Get("/bulk", rl.forward("bulk", rl.Cluster.Bulk)),
	}
}

// HealthHandler maps the cluster health to 200 (green) or 503.
func (rl *Relay) HealthHandler(w rest.ResponseWriter, r *rest.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	status, err := rl.Cluster.Health(ctx)
	if err != nil {
		log.WarnContext(ctx, "cluster health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = w.WriteJson(Status{
			Status:  "error",
			Message: fmt.Sprintf("Cannot reach Elasticsearch cluster: %s", err),
		})
		return
	}

	if status == "red" || status == "yellow" {
		log.WarnContext(ctx, "cluster health check failed", "error", ErrUnhealthy, "cluster_status", status)
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = w.WriteJson(Status{Status: "red", Message: "Elasticsearch cluster unhealthy"})
		return
	}

	_ = w.WriteJson(Status{Status: status, Message: "Elasticsearch cluster healthy"})
}

// forward returns a handler that makes call and answers OK whatever the
// cluster responded.
func (rl *Relay) forward(op string, call func(context.Context) (*cluster.Result, error)) rest.HandlerFunc {
	return func(w rest.ResponseWriter, r *rest.Request) {
		ctx := r.Context()
		log := logger.FromContext(ctx)

		res, err := call(ctx)
		if err != nil {
			rl.fail(ctx, op, err)
		}

		log.DebugContext(ctx, "forwarded to cluster",
			"op", op,
			"status_code", res.StatusCode,
			"product", res.Product,
		)

		_ = w.WriteJson(statusOK)
	}
}

func (rl *Relay) fail(ctx context.Context, op string, err error) {
	log := logger.FromContext(ctx)
	log.ErrorContext(ctx, "cannot reach cluster, stopping", "op", op, "error", err)

	if rl.Fatal != nil {
		rl.Fatal(err)
	}
	panic(http.ErrAbortHandler)
}
