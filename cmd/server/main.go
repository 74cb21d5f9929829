package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/keithlinneman/boardstate/internal/assethash"
	"github.com/keithlinneman/boardstate/internal/bundles"
	"github.com/keithlinneman/boardstate/internal/cfg"
	"github.com/keithlinneman/boardstate/internal/health"
	"github.com/keithlinneman/boardstate/internal/hotconfig"
	"github.com/keithlinneman/boardstate/internal/log"
	"github.com/keithlinneman/boardstate/internal/metrics"
	"github.com/keithlinneman/boardstate/internal/opshttp"
	"github.com/keithlinneman/boardstate/internal/otelx"
	"github.com/keithlinneman/boardstate/internal/prof"
	"github.com/keithlinneman/boardstate/internal/reload"
	"github.com/keithlinneman/boardstate/internal/resources"
	"github.com/keithlinneman/boardstate/internal/siteconfig"
	v "github.com/keithlinneman/boardstate/internal/version"
	"github.com/keithlinneman/boardstate/internal/watch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix BOARDSTATE_ and validate
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   conf.StacktraceLevel,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	root, err := filepath.Abs(conf.Root)
	if err != nil {
		L.Error(ctx, err, "resolve content root", "root", conf.Root)
		os.Exit(1)
	}

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"admin_port", conf.AdminPort,
		"root", root,
		"site_config", conf.SiteConfigPath(),
		"enable_watch", conf.EnableWatch,
		"watch_interval", conf.WatchInterval.String(),
		"hash_algorithm", conf.HashAlgorithm,
		"mod_s3_bucket", conf.ModS3Bucket,
		"mod_s3_prefix", conf.ModS3Prefix,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
	)

	// Setup metrics first so the profiler can report its state
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		Sample:      conf.TraceSample,
		Service:     v.AppName,
		Component:   "server",
		Version:     vi.Version,
		ContentRoot: root,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// static site config is read once; a change needs a restart
	site, err := siteconfig.Load(conf.SiteConfigPath())
	if err != nil {
		L.Error(ctx, err, "failed to load site config", "path", conf.SiteConfigPath())
		os.Exit(1)
	}

	hasher, err := assethash.New(assethash.Algorithm(conf.HashAlgorithm))
	if err != nil {
		L.Error(ctx, err, "invalid hash algorithm")
		os.Exit(1)
	}

	paths := reload.DefaultPaths(root)
	merger, err := hotconfig.NewMerger(paths.HotConfig, site.ClientConfig(), hasher)
	if err != nil {
		L.Error(ctx, err, "failed to prepare hot config merger")
		os.Exit(1)
	}

	// admin bundle source: s3 when a bucket is configured, otherwise <root>/state
	var src bundles.Source = bundles.DirSource{Dir: paths.StateDir}
	if conf.ModS3Bucket != "" {
		s3src, err := bundles.NewS3Source(ctx, bundles.S3Options{
			Logger:  L,
			Bucket:  conf.ModS3Bucket,
			Prefix:  conf.ModS3Prefix,
			MaxSize: conf.ModMaxBytes,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create s3 bundle source", "bucket", conf.ModS3Bucket)
			os.Exit(1)
		}
		src = s3src
	}

	store := resources.NewStore()
	orch, err := reload.New(reload.Options{
		Logger:  L,
		Paths:   paths,
		Site:    site,
		Merger:  merger,
		Hasher:  hasher,
		Bundles: src,
		Store:   store,
		Metrics: m,
		Tracer:  otelx.Tracer(),
		OnPublish: []func(context.Context, *resources.Set){
			func(_ context.Context, s *resources.Set) { m.SetConfigHash(s.ClientConfigHash) },
		},
	})
	if err != nil {
		L.Error(ctx, err, "failed to create reload orchestrator")
		os.Exit(1)
	}
	trigger := reload.NewTrigger(reload.OrchestratorRun(orch), m)

	// a process that cannot build its first generation has nothing to serve
	if err := trigger.Reload(ctx); err != nil {
		L.Error(ctx, err, "initial resource load failed")
		os.Exit(1)
	}
	if s := store.Current(); s != nil {
		L.Info(ctx, "initial resources published",
			"generation", s.Generation,
			"config_hash", s.ClientConfigHash,
			"languages", len(s.Index),
			"bundle_source", fmt.Sprint(src),
		)
	}

	if conf.EnableWatch {
		watcher := watch.New(watch.Options{
			Logger:       L,
			Reloader:     trigger,
			Root:         root,
			PollInterval: conf.WatchInterval,
			Metrics:      m,
		})
		// Run the watcher in a separate goroutine
		go watcher.Run(ctx)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// ready once a generation is published and until drain starts
	readiness := health.All(
		gate.Probe(),
		health.Published(store),
	)

	// start admin/ops listener to serve metrics, health checks, pprof and manual reloads
	// we reject connections from public ips and requests with x-forwarded set in middleware
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:           conf.AdminPort,
		Metrics:        m.Handler(),
		MetricsMW:      m.Middleware,
		EnablePprof:    conf.EnablePprof,
		Health:         health.Fixed(true, ""),
		Readiness:      readiness,
		Reloader:       trigger,
		ReloadRate:     conf.ReloadRate,
		ReloadBurst:    conf.ReloadBurst,
		OnReloadDenied: m.IncManualReloadDenied,
		Resources:      store,
		Status:         orch.Status,
		UseRecoverMW:   true,
		OnPanic:        m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so anything polling /-/ready stops routing to us
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed", "drain_timeout", conf.DrainTimeout.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainTimeout):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
