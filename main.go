package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ant0ine/go-json-rest/rest"
	"github.com/spf13/cobra"
	"go.ntppool.org/common/logger"

	"go.askask.com/es-relay/cluster"
	"go.askask.com/es-relay/config"
	"go.askask.com/es-relay/middleware"
	"go.askask.com/es-relay/relay"
)

var Version string

const shutdownTimeout = 2 * time.Second

// fatalError is returned by serve when a relayed call could not reach the
// cluster. The error line has already been written by then.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return "fatal: " + e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

var flags struct {
	config        string
	listen        string
	host          string
	msearchFormat string
	bulkFormat    string
}

var rootCmd = &cobra.Command{
	Use:           "es-relay",
	Short:         "HTTP fixture that relays fixed requests to an Elasticsearch cluster",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the relay routes (default)",
	RunE:  runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "pathname of JSON configuration file")
	pf.StringVar(&flags.listen, "listen", "", "listen address (default "+config.DefaultListen+")")
	pf.StringVar(&flags.host, "elasticsearch-host", "", "cluster base address (default "+config.DefaultHost+")")
	pf.StringVar(&flags.msearchFormat, "msearch-format", "", "_msearch batch encoding: json or ndjson")
	pf.StringVar(&flags.bulkFormat, "bulk-format", "", "_bulk batch encoding: json or ndjson")

	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return nil, err
	}
	for _, o := range []struct {
		flag string
		dst  *string
	}{
		{flags.listen, &cfg.Listen},
		{flags.host, &cfg.ElasticsearchHost},
		{flags.msearchFormat, &cfg.MultiSearchFormat},
		{flags.bulkFormat, &cfg.BulkFormat},
	} {
		if o.flag != "" {
			*o.dst = o.flag
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Setup()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()
	ctx = logger.NewContext(ctx, log)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
	}

	return serve(ctx, cfg, ln, os.Stdout)
}

func newAPI(rl *relay.Relay) (*rest.Api, error) {
	api := rest.NewApi()
	api.Use(&rest.PoweredByMiddleware{XPoweredBy: "es-relay"})

	router, err := rest.MakeRouter(rl.GetRoutes()...)
	if err != nil {
		return nil, err
	}
	api.SetApp(router)
	return api, nil
}

// serve runs the relay on ln until ctx is done or a relayed call fails to
// reach the cluster. Banner and fatal error lines go to out.
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, out io.Writer) error {
	log := logger.FromContext(ctx)

	fatalCh := make(chan error, 1)
	client := cluster.New(cfg.ElasticsearchHost, cfg.ClusterOptions()...)
	rl := relay.New(
		client,
		func(err error) {
			select {
			case fatalCh <- err:
			default:
			}
		},
	)

	api, err := newAPI(rl)
	if err != nil {
		return fmt.Errorf("building routes: %w", err)
	}

	server := &http.Server{
		Handler: middleware.Chain(
			api.MakeHandler(),
			middleware.WithLogger(log),
			middleware.Recovery,
			middleware.Logging,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	port := 0
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	fmt.Fprintf(out, "Server running: port=%d process_id=%d\n", port, os.Getpid())
	log.InfoContext(ctx, "serving",
		"addr", ln.Addr().String(),
		"elasticsearch", client.BaseURL(),
		"version", Version,
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	var result error
	select {
	case <-ctx.Done():
		log.InfoContext(ctx, "shutting down")
	case err := <-fatalCh:
		writeErrorLine(out, err)
		result = &fatalError{err: err}
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		// calls to a hung cluster have no timeout
		log.WarnContext(ctx, "shutdown incomplete, closing", "error", err)
		_ = server.Close()
	}

	return result
}

func writeErrorLine(out io.Writer, err error) {
	_ = json.NewEncoder(out).Encode(map[string]string{"error": err.Error()})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var fe *fatalError
		if !errors.As(err, &fe) {
			logger.Setup().Error("es-relay", "error", err)
		}
		os.Exit(1)
	}
}
