package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/boardstate/internal/version"
)

// ServerMetrics owns a private registry. It satisfies reload.Metrics and
// watch.Metrics.
type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	profilingActive prometheus.Gauge

	// reload pipeline
	reloadsTotal         *prometheus.CounterVec
	reloadErrorsTotal    *prometheus.CounterVec
	reloadDuration       prometheus.Histogram
	reloadCoalescedTotal prometheus.Counter
	resourceGeneration   prometheus.Gauge
	reloadLastSuccessTs  prometheus.Gauge
	configHashInfo       *prometheus.GaugeVec
	manualReloadDenied   prometheus.Counter

	// watcher
	watcherPollsTotal    prometheus.Counter
	watcherChangesTotal  prometheus.Counter
	watcherErrorsTotal   *prometheus.CounterVec
	watcherLastSuccessTs prometheus.Gauge
}

// New returns a fresh registry + standard collectors + ops HTTP and reload
// metrics. HTTP labels are method, route and status only.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered ops handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		reloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_reloads_total",
			Help: "Total hot resource reloads by result",
		}, []string{"result"}),
		reloadErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_reload_errors_total",
			Help: "Failed hot resource reloads by the stage that failed",
		}, []string{"stage"}),
		reloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "resource_reload_duration_seconds",
			Help:    "Time to run the reload pipeline end to end",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		reloadCoalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resource_reload_coalesced_total",
			Help: "Reload triggers folded into an already scheduled follow-up run",
		}),
		resourceGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resource_generation",
			Help: "Generation of the currently published resource set",
		}),
		reloadLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resource_reload_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful publish",
		}),
		configHashInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "resource_config_hash_info",
			Help: "Client hot config hash of the published set (label carries value, gauge is always 1)",
		}, []string{"hash"}),
		manualReloadDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resource_manual_reload_rate_limited_total",
			Help: "Manual reload requests rejected by the rate limiter",
		}),
		watcherPollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resource_watcher_polls_total",
			Help: "Total number of watcher poll cycles",
		}),
		watcherChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resource_watcher_changes_total",
			Help: "Total number of input changes detected by the watcher",
		}),
		watcherErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_watcher_errors_total",
			Help: "Total watcher errors by type",
		}, []string{"type"}),
		watcherLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resource_watcher_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last watcher-triggered reload that succeeded",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.reloadsTotal,
		m.reloadErrorsTotal,
		m.reloadDuration,
		m.reloadCoalescedTotal,
		m.resourceGeneration,
		m.reloadLastSuccessTs,
		m.configHashInfo,
		m.manualReloadDenied,
		m.watcherPollsTotal,
		m.watcherChangesTotal,
		m.watcherErrorsTotal,
		m.watcherLastSuccessTs,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *ServerMetrics) IncReload(result string) {
	m.reloadsTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) IncReloadError(stage string) {
	m.reloadErrorsTotal.WithLabelValues(stage).Inc()
}

func (m *ServerMetrics) ObserveReloadDuration(seconds float64) {
	m.reloadDuration.Observe(seconds)
}

func (m *ServerMetrics) IncReloadCoalesced() {
	m.reloadCoalescedTotal.Inc()
}

func (m *ServerMetrics) SetGeneration(gen uint64) {
	m.resourceGeneration.Set(float64(gen))
}

func (m *ServerMetrics) SetLastSuccess(unixSeconds float64) {
	m.reloadLastSuccessTs.Set(unixSeconds)
}

// SetConfigHash replaces the published config hash label.
func (m *ServerMetrics) SetConfigHash(hash string) {
	m.configHashInfo.Reset()
	m.configHashInfo.WithLabelValues(hash).Set(1)
}

func (m *ServerMetrics) IncManualReloadDenied() {
	m.manualReloadDenied.Inc()
}

func (m *ServerMetrics) IncWatcherPolls() {
	m.watcherPollsTotal.Inc()
}

func (m *ServerMetrics) IncWatcherChanges() {
	m.watcherChangesTotal.Inc()
}

func (m *ServerMetrics) IncWatcherError(errType string) {
	m.watcherErrorsTotal.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastSuccessTs.Set(unixSeconds)
}

