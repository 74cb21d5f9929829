// Package httpmw holds the middleware of the admin listener.
//
// opshttp.NewHandler installs it inside the otelhttp span and the chi
// router, so route patterns and the request span are both available:
// request ID, request-scoped logger, trace headers, access log, metrics
// and route annotation, outermost first.
//
// Query strings, user agents and other client supplied headers are kept
// out of logs.
package httpmw
