// Package reload rebuilds the resource set from disk and publishes it.
//
// A run reloads the hot config and language packs, then fetches the admin
// bundle and hashes the vendor, CSS and client bundles concurrently, then
// compiles the index template for every language. Only a fully successful
// run publishes; any failure leaves the previous generation serving.
package reload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/boardstate/internal/assethash"
	"github.com/keithlinneman/boardstate/internal/bundles"
	"github.com/keithlinneman/boardstate/internal/fragments"
	"github.com/keithlinneman/boardstate/internal/hotconfig"
	"github.com/keithlinneman/boardstate/internal/lang"
	"github.com/keithlinneman/boardstate/internal/log"
	"github.com/keithlinneman/boardstate/internal/resources"
	"github.com/keithlinneman/boardstate/internal/siteconfig"
	"github.com/keithlinneman/boardstate/internal/tmplc"
	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// Stage names, used in spans, logs and metric labels.
const (
	StageHotConfig  = "hot_config"
	StageModBundle  = "mod_bundle"
	StageVendorHash = "vendor_hash"
	StageCSSHash    = "css_hash"
	StageClientHash = "client_hash"
	StageTemplates  = "templates"
)

const tracerName = "github.com/keithlinneman/boardstate/internal/reload"

// clientBundles are hashed together, followed by one bundle per language.
var clientBundles = []string{"client.js", "loader.js", "login.js", "setup.js"}

// Paths locates the inputs of a run.
type Paths struct {
	HotConfig   string
	LangDir     string
	IndexTmpl   string
	NotFound    string
	ServerError string
	VendorJS    string
	JSDir       string
	CSSDir      string
	StateDir    string
}

// DefaultPaths lays the inputs out under root.
func DefaultPaths(root string) Paths {
	return Paths{
		HotConfig:   filepath.Join(root, "config", "hot.hcl"),
		LangDir:     filepath.Join(root, "lang"),
		IndexTmpl:   filepath.Join(root, "tmpl", "index.html"),
		NotFound:    filepath.Join(root, "www", "404.html"),
		ServerError: filepath.Join(root, "www", "50x.html"),
		VendorJS:    filepath.Join(root, "www", "js", "vendor.js"),
		JSDir:       filepath.Join(root, "www", "js"),
		CSSDir:      filepath.Join(root, "www", "css"),
		StateDir:    filepath.Join(root, "state"),
	}
}

// ClientBundlePaths lists the client bundles in hashing order.
func (p Paths) ClientBundlePaths(langs []string) []string {
	out := make([]string, 0, len(clientBundles)+len(langs))
	for _, b := range clientBundles {
		out = append(out, filepath.Join(p.JSDir, b))
	}
	for _, l := range langs {
		out = append(out, filepath.Join(p.JSDir, "lang", l+".js"))
	}
	return out
}

// Metrics is implemented by the metrics package to observe reloads.
type Metrics interface {
	IncReload(result string)
	IncReloadError(stage string)
	ObserveReloadDuration(seconds float64)
	SetGeneration(gen uint64)
	SetLastSuccess(unixSeconds float64)
	IncReloadCoalesced()
}

// Options configures an Orchestrator.
type Options struct {
	Logger log.Logger
	Paths  Paths
	Site   *siteconfig.Config
	Merger *hotconfig.Merger
	Hasher *assethash.Hasher
	// Bundles supplies the admin client bundle; defaults to Paths.StateDir.
	Bundles bundles.Source
	Store   *resources.Store
	// Pick chooses schedule fillers; random when nil.
	Pick    fragments.Picker
	Metrics Metrics
	Tracer  trace.Tracer

	// OnPublish hooks run after every successful publish, on the reload
	// goroutine. A panicking hook is logged and skipped.
	OnPublish []func(context.Context, *resources.Set)
}

// Status summarizes the latest runs.
type Status struct {
	Runs        int64
	Failures    int64
	LastAttempt time.Time
	LastSuccess time.Time
	LastError   string
	LastStage   string
}

// Orchestrator runs the reload pipeline.
type Orchestrator struct {
	opts     Options
	logger   log.Logger
	tracer   trace.Tracer
	compiler *tmplc.Compiler

	mu     sync.Mutex
	status Status
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Site == nil {
		return nil, xerrors.New("reload: Site is required")
	}
	if opts.Merger == nil {
		return nil, xerrors.New("reload: Merger is required")
	}
	if opts.Store == nil {
		return nil, xerrors.New("reload: Store is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Hasher == nil {
		opts.Hasher = &assethash.Hasher{}
	}
	if opts.Bundles == nil {
		opts.Bundles = bundles.DirSource{Dir: opts.Paths.StateDir}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{
		opts:     opts,
		logger:   opts.Logger.With("component", "reload"),
		tracer:   opts.Tracer,
		compiler: tmplc.New(opts.Hasher),
	}, nil
}

// Status returns a copy of the run summary.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// scratch collects one run's outputs; nothing is visible until publish.
type scratch struct {
	hot    *hotconfig.HotConfig
	packs  map[string]*lang.Pack
	mod    map[string][]byte
	assets hotconfig.AssetHashes
	index  map[string]*tmplc.Artifact
	blobs  map[string]resources.Blob
}

// Run executes the pipeline once. Callers serialize runs; see Trigger.
func (o *Orchestrator) Run(ctx context.Context) (*resources.Set, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "reload")
	defer span.End()

	o.mu.Lock()
	o.status.Runs++
	o.status.LastAttempt = start
	o.mu.Unlock()

	set, stage, err := o.run(ctx)
	dur := time.Since(start)
	if m := o.opts.Metrics; m != nil {
		m.ObserveReloadDuration(dur.Seconds())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.mu.Lock()
		o.status.Failures++
		o.status.LastError = err.Error()
		o.status.LastStage = stage
		o.mu.Unlock()
		if m := o.opts.Metrics; m != nil {
			m.IncReload("failure")
		}
		o.logger.Error(ctx, err, "reload failed, keeping current resources",
			"stage", stage,
			"generation", o.opts.Store.Generation(),
			"duration", dur.String(),
		)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("reload.generation", int64(set.Generation)))
	o.mu.Lock()
	o.status.LastSuccess = set.LoadedAt
	o.status.LastError = ""
	o.status.LastStage = ""
	o.mu.Unlock()
	if m := o.opts.Metrics; m != nil {
		m.IncReload("success")
		m.SetGeneration(set.Generation)
		m.SetLastSuccess(float64(set.LoadedAt.Unix()))
	}
	o.logger.Info(ctx, "resources published",
		"generation", set.Generation,
		"config_hash", assethash.Short(set.ClientConfigHash),
		"vendor_hash", assethash.Short(set.Assets.Vendor),
		"css_hash", assethash.Short(set.Assets.CSS),
		"client_hash", assethash.Short(set.Assets.Client),
		"langs", len(set.Index),
		"duration", dur.String(),
	)

	o.notify(ctx, set)
	return set, nil
}

func (o *Orchestrator) run(ctx context.Context) (*resources.Set, string, error) {
	var s scratch
	site := o.opts.Site

	if err := o.stage(ctx, StageHotConfig, func(ctx context.Context) error {
		hot, err := o.opts.Merger.Reload(ctx)
		if err != nil {
			return err
		}
		packs, err := lang.LoadAll(o.opts.Paths.LangDir, site.Langs)
		if err != nil {
			return err
		}
		s.hot, s.packs = hot, packs
		return nil
	}); err != nil {
		return nil, StageHotConfig, err
	}

	// each job writes its own scratch field
	var failed string
	var failedOnce sync.Once
	g, gctx := errgroup.WithContext(ctx)
	job := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			err := o.stage(gctx, name, fn)
			if err != nil {
				failedOnce.Do(func() { failed = name })
			}
			return err
		})
	}
	job(StageModBundle, func(ctx context.Context) error {
		mod, err := bundles.FetchAll(ctx, o.opts.Bundles, bundles.ModBundle())
		s.mod = mod
		return err
	})
	job(StageVendorHash, func(ctx context.Context) error {
		h, err := o.opts.Hasher.HashFile(ctx, o.opts.Paths.VendorJS)
		s.assets.Vendor = h
		return err
	})
	job(StageCSSHash, func(ctx context.Context) error {
		h, err := o.opts.Hasher.HashDir(ctx, o.opts.Paths.CSSDir, ".css")
		s.assets.CSS = h
		return err
	})
	job(StageClientHash, func(ctx context.Context) error {
		h, err := o.opts.Hasher.HashFiles(ctx, o.opts.Paths.ClientBundlePaths(site.Langs))
		s.assets.Client = h
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, failed, err
	}

	if err := o.stage(ctx, StageTemplates, func(ctx context.Context) error {
		return o.templates(ctx, &s)
	}); err != nil {
		return nil, StageTemplates, err
	}

	hot := s.hot.WithAssetHashes(s.assets)
	set := o.opts.Store.Publish(resources.Set{
		HotConfig:        hot,
		ClientConfig:     site.ClientConfig(),
		ClientHotConfig:  hot.ClientHot(),
		ClientConfigHash: hot.ConfigHash(),
		Assets:           s.assets,
		Blobs:            s.blobs,
		Index:            s.index,
	})
	return set, "", nil
}

// stage runs fn in its own span and labels its failure.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "reload."+name, trace.WithAttributes(attribute.String("reload.stage", name)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if m := o.opts.Metrics; m != nil {
			m.IncReloadError(name)
		}
		return xerrors.Wrapf(err, "reload stage %s", name)
	}
	o.logger.Debug(ctx, "reload stage done", "stage", name, "duration", time.Since(start).String())
	return nil
}

func (o *Orchestrator) templates(ctx context.Context, s *scratch) error {
	p := o.opts.Paths
	pages := map[string]string{
		"index":                  p.IndexTmpl,
		resources.KeyNotFound:    p.NotFound,
		resources.KeyServerError: p.ServerError,
	}
	raw := make(map[string][]byte, len(pages))
	for key, path := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return xerrors.Kindf(xerrors.ErrRead, err, "read %s", path)
		}
		raw[key] = b
	}

	site := o.opts.Site
	base, err := tmplc.BaseVars(s.hot.WithAssetHashes(s.assets), site)
	if err != nil {
		return err
	}
	index, err := o.compiler.Compile(string(raw["index"]), base, site.Langs, s.packs, tmplc.Fragments(site, o.opts.Pick))
	if err != nil {
		return err
	}

	blobs := make(map[string]resources.Blob, 4)
	for key, data := range map[string][]byte{
		resources.KeyNotFound:    raw[resources.KeyNotFound],
		resources.KeyServerError: raw[resources.KeyServerError],
		bundles.KeyModJS:         s.mod[bundles.KeyModJS],
		bundles.KeyModSourcemap:  s.mod[bundles.KeyModSourcemap],
	} {
		b, err := resources.NewBlob(data)
		if err != nil {
			return xerrors.Wrapf(err, "compress %s", key)
		}
		blobs[key] = b
	}

	s.index, s.blobs = index, blobs
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, set *resources.Set) {
	for i, hook := range o.opts.OnPublish {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error(ctx, fmt.Errorf("OnPublish panic: %v", r),
						"reload: OnPublish hook panicked, continuing",
						"hook", i,
						"generation", set.Generation,
					)
				}
			}()
			hook(ctx, set)
		}()
	}
}
