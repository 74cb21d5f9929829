package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keithlinneman/boardstate/internal/assethash"
	"github.com/keithlinneman/boardstate/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names for env fallback.
const EnvPrefix = "BOARDSTATE_"

type App struct {
	LogJSON           bool
	LogLevel          string
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	Root          string
	SiteConfig    string
	EnableWatch   bool
	WatchInterval time.Duration
	HashAlgorithm string
	ModS3Bucket   string
	ModS3Prefix   string
	ModMaxBytes   int64
	ReloadRate    float64
	ReloadBurst   int
	DrainTimeout  time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.Root, "root", ".", "content root holding config/, tmpl/, lang/, www/ and state/")
	fs.StringVar(&c.SiteConfig, "site-config", "", "static site config (default <root>/config/config.yaml)")
	fs.BoolVar(&c.EnableWatch, "enable-watch", true, "Poll the reloadable inputs and reload on change")
	fs.DurationVar(&c.WatchInterval, "watch-interval", 2*time.Second, "poll interval for -enable-watch")
	fs.StringVar(&c.HashAlgorithm, "hash-algorithm", string(assethash.MD5), "asset digest: md5|blake3")
	fs.StringVar(&c.ModS3Bucket, "mod-s3-bucket", "", "s3 bucket holding mod.js and mod.js.map (empty reads <root>/state)")
	fs.StringVar(&c.ModS3Prefix, "mod-s3-prefix", "", "s3 prefix (key) for the admin bundle")
	fs.Int64Var(&c.ModMaxBytes, "mod-max-bytes", 32<<20, "max size of one admin bundle object")
	fs.Float64Var(&c.ReloadRate, "reload-rate", 0.2, "manual reloads allowed per second on the admin port")
	fs.IntVar(&c.ReloadBurst, "reload-burst", 2, "manual reload burst size")
	fs.DurationVar(&c.DrainTimeout, "drain-timeout", 5*time.Second, "time to fail readiness before the admin listener stops")
}

// SiteConfigPath resolves -site-config against -root.
func (c App) SiteConfigPath() string {
	if c.SiteConfig != "" {
		return c.SiteConfig
	}
	return filepath.Join(c.Root, "config", "config.yaml")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Content root
	if c.Root == "" {
		errs = append(errs, fmt.Errorf("ROOT is required"))
	} else if fi, err := os.Stat(c.Root); err != nil || !fi.IsDir() {
		errs = append(errs, fmt.Errorf("ROOT %q must be an existing directory", c.Root))
	}
	if c.EnableWatch && c.WatchInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("WATCH_INTERVAL must be at least 100ms (got %s)", c.WatchInterval))
	}
	if _, err := assethash.New(assethash.Algorithm(c.HashAlgorithm)); err != nil {
		errs = append(errs, fmt.Errorf("invalid HASH_ALGORITHM %q: %w", c.HashAlgorithm, err))
	}

	// Admin bundle source
	if c.ModS3Bucket == "" && c.ModS3Prefix != "" {
		errs = append(errs, fmt.Errorf("MOD_S3_PREFIX set without MOD_S3_BUCKET"))
	}
	if c.ModMaxBytes < 1 {
		errs = append(errs, fmt.Errorf("MOD_MAX_BYTES must be positive (got %d)", c.ModMaxBytes))
	}

	// Manual reload limiter
	if c.ReloadRate <= 0 {
		errs = append(errs, fmt.Errorf("RELOAD_RATE must be positive (got %g)", c.ReloadRate))
	}
	if c.ReloadBurst < 1 {
		errs = append(errs, fmt.Errorf("RELOAD_BURST must be at least 1 (got %d)", c.ReloadBurst))
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_TIMEOUT must not be negative (got %s)", c.DrainTimeout))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
