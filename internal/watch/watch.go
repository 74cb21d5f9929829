// Package watch polls the reloadable inputs on disk and triggers a reload
// when their fingerprint changes.
//
// The fingerprint covers path, size and modification time of every regular
// file under the watched paths; contents are not read. Missing paths are part
// of the fingerprint, so creating or deleting one counts as a change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/keithlinneman/boardstate/internal/assethash"
	"github.com/keithlinneman/boardstate/internal/log"
	"github.com/keithlinneman/boardstate/internal/xerrors"
)

const (
	// DefaultPollInterval is how often the watcher rescans.
	DefaultPollInterval = 2 * time.Second

	// defaultMaxBackoff caps exponential backoff on consecutive failures.
	defaultMaxBackoff = 2 * time.Minute
)

// DefaultPaths are the reloadable inputs relative to the content root.
var DefaultPaths = []string{
	filepath.Join("config", "hot.hcl"),
	"tmpl",
	"lang",
	filepath.Join("www", "js"),
	filepath.Join("www", "css"),
	"state",
}

// pollResult describes what happened during a single poll cycle.
type pollResult int

const (
	pollNoChange    pollResult = iota // fingerprint matches - nothing to do
	pollReloaded                      // change detected and reload succeeded
	pollScanError                     // fingerprint could not be computed
	pollReloadError                   // change detected but reload failed
)

// Reloader is satisfied by reload.Trigger.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Metrics is implemented by the metrics package to observe watcher behavior.
type Metrics interface {
	IncWatcherPolls()
	IncWatcherChanges()
	IncWatcherError(errType string)
	SetWatcherLastSuccess(unixSeconds float64)
}

// Options configures the watcher.
type Options struct {
	Logger   log.Logger
	Reloader Reloader
	// Root is joined with relative Paths.
	Root string
	// Paths to watch; DefaultPaths when empty.
	Paths        []string
	PollInterval time.Duration
	MaxBackoff   time.Duration
	Metrics      Metrics
}

// Watcher polls for input changes and triggers reloads.
type Watcher struct {
	reloader   Reloader
	logger     log.Logger
	paths      []string
	interval   time.Duration
	maxBackoff time.Duration
	metrics    Metrics
	hasher     *assethash.Hasher

	// fingerprint of the inputs that were last reloaded successfully
	current string

	// backoff state
	consecutiveErrs int

	pollCount   int64
	reloadCount int64
}

// New creates a watcher seeded with the current fingerprint, so the first
// poll does not repeat the startup reload. Call Run to start polling.
func New(opts Options) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	rel := opts.Paths
	if len(rel) == 0 {
		rel = DefaultPaths
	}
	paths := make([]string, len(rel))
	for i, p := range rel {
		if !filepath.IsAbs(p) {
			p = filepath.Join(opts.Root, p)
		}
		paths[i] = p
	}

	w := &Watcher{
		reloader:   opts.Reloader,
		logger:     opts.Logger.With("component", "watch"),
		paths:      paths,
		interval:   interval,
		maxBackoff: maxBackoff,
		metrics:    opts.Metrics,
		hasher:     &assethash.Hasher{},
	}
	// an unreadable tree leaves current empty and the first poll reloads
	w.current, _ = w.fingerprint()
	return w
}

// Run polls until ctx is cancelled.
// Intended to be launched as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "watcher starting",
		"poll_interval", w.interval.String(),
		"paths", len(w.paths),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"reloads", w.reloadCount,
			)
			return ctx.Err()
		case <-ticker.C:
			switch result := w.checkOnce(ctx); result {
			case pollScanError, pollReloadError:
				w.consecutiveErrs++
				backoff := w.backoffDuration()
				w.logger.Warn(ctx, "watcher: backing off",
					"consecutive_errors", w.consecutiveErrs,
					"next_poll_in", backoff.String(),
				)
				ticker.Reset(backoff)
			default:
				if w.consecutiveErrs > 0 {
					w.logger.Info(ctx, "watcher: recovered, resuming normal interval",
						"had_consecutive_errors", w.consecutiveErrs,
					)
					w.consecutiveErrs = 0
					ticker.Reset(w.interval)
				}
			}
		}
	}
}

// checkOnce performs a single scan-compare-reload cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	fp, err := w.fingerprint()
	if err != nil {
		w.logger.Error(ctx, err, "watcher: scan failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("scan")
		}
		return pollScanError
	}
	if fp == w.current {
		return pollNoChange
	}

	w.logger.Info(ctx, "watcher: inputs changed, reloading",
		"old_fingerprint", assethash.Short(w.current),
		"new_fingerprint", assethash.Short(fp),
	)
	if w.metrics != nil {
		w.metrics.IncWatcherChanges()
	}

	// the orchestrator logs the failure itself; the fingerprint is kept so
	// the next poll retries
	if err := w.reloader.Reload(ctx); err != nil {
		if w.metrics != nil {
			w.metrics.IncWatcherError("reload")
		}
		return pollReloadError
	}

	w.current = fp
	w.reloadCount++
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(time.Now().Unix()))
	}
	return pollReloaded
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > w.maxBackoff {
		d = w.maxBackoff
	}
	return d
}

func (w *Watcher) fingerprint() (string, error) {
	lines, err := Fingerprint(w.paths)
	if err != nil {
		return "", err
	}
	return w.hasher.HashString(strings.Join(lines, "\n")), nil
}

// Fingerprint lists "path size mtime" for every regular file under paths,
// sorted. Absent paths are listed as missing.
func Fingerprint(paths []string) ([]string, error) {
	var lines []string
	for _, root := range paths {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					lines = append(lines, p+" missing")
					return nil
				}
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if errors.Is(err, fs.ErrNotExist) {
				// removed mid-walk; the next poll sees it as gone
				return nil
			}
			if err != nil {
				return err
			}
			lines = append(lines, fmt.Sprintf("%s %d %d", p, info.Size(), info.ModTime().UnixNano()))
			return nil
		})
		if err != nil {
			return nil, xerrors.Wrapf(err, "scan %s", root)
		}
	}
	slices.Sort(lines)
	return lines, nil
}
