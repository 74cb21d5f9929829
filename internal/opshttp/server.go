package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/boardstate/internal/health"
	"github.com/keithlinneman/boardstate/internal/httpmw"
	"github.com/keithlinneman/boardstate/internal/log"
	"github.com/keithlinneman/boardstate/internal/ratelimit"
	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// NewHandler builds the admin router: health, readiness, metrics, pprof,
// manual reload and the resource summary.
func NewHandler(L log.Logger, opts *Options) http.Handler {
	r := chi.NewRouter()
	r.Use(httpmw.RequestID, httpmw.WithLogger(L), httpmw.TraceHeaders, httpmw.AccessLog)
	if opts.MetricsMW != nil {
		r.Use(opts.MetricsMW)
	}
	r.Use(httpmw.AnnotateRoute)

	r.Get("/-/healthy", health.HealthzHandler(opts.Health))
	r.Get("/-/ready", health.ReadyzHandler(opts.Readiness))

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	// pprof (or shadow with 404s)
	if opts.EnablePprof {
		RegisterPprof(r)
	} else {
		r.HandleFunc("/debug/pprof/*", http.NotFound)
	}

	if opts.Reloader != nil {
		limiter := ratelimit.New(
			ratelimit.WithRate(opts.ReloadRate, opts.ReloadBurst),
			ratelimit.WithOnFirstDenied(func(addr string) {
				L.Warn(context.Background(), "manual reload rate limited", "peer", addr)
			}),
			ratelimit.WithOnDenied(func(string) {
				if opts.OnReloadDenied != nil {
					opts.OnReloadDenied()
				}
			}),
		)
		r.With(limiter.Middleware).Post("/-/reload", reloadHandler(opts))
	}
	if opts.Resources != nil {
		r.Get("/-/resources", resourcesHandler(opts.Resources, opts.Status))
	}

	var h http.Handler = r
	if opts.UseRecoverMW {
		h = recoverer(L, opts.OnPanic, h)
	}
	h = requireNonPublicNetwork(L, h)
	return otelhttp.NewHandler(h, "ops",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "ops " + r.Method + " " + r.URL.Path
		}),
	)
}

// Start admin HTTP server with /metrics, /-/healthy, /-/ready, /-/reload,
// /-/resources and pprof debug endpoints.
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 9000
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(L, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// a manual reload runs inside the request
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		BaseContext:    func(net.Listener) context.Context { return log.WithContext(context.Background(), L) },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
