package opshttp

import (
	"context"
	"net/http"

	"github.com/keithlinneman/boardstate/internal/health"
	"github.com/keithlinneman/boardstate/internal/reload"
	"github.com/keithlinneman/boardstate/internal/resources"
)

// Reloader is satisfied by reload.Trigger.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Resources is satisfied by resources.Store.
type Resources interface {
	Current() *resources.Set
}

type Options struct {
	Port        int
	Metrics     http.Handler
	MetricsMW   func(http.Handler) http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	// Manual reload: POST /-/reload. Disabled when Reloader is nil.
	Reloader    Reloader
	ReloadRate  float64 // per peer per second; non-positive disables limiting
	ReloadBurst int
	// OnReloadDenied is called for each request rejected by the limiter.
	OnReloadDenied func()

	// GET /-/resources. Disabled when Resources is nil.
	Resources Resources
	Status    func() reload.Status

	UseRecoverMW bool
	OnPanic      func() // Optional callback for when panics are recovered, e.g. to increment prometheus counters
}
