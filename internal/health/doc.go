// Package health provides composable probes and the HTTP handlers behind the
// ops listener's liveness and readiness endpoints.
//
// Readiness for this service is [All] of the [ShutdownGate] and the resource
// store's ReadyErr: the process is ready once a first resource set has been
// published and stops being ready as soon as shutdown begins.
package health
