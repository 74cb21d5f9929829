package opshttp

import (
	"fmt"
	"net"
	"net/http"

	"github.com/keithlinneman/boardstate/internal/log"
)

// requireNonPublicNetwork rejects peers outside loopback, private and
// link-local ranges. Forwarded requests are rejected as well: nothing should
// proxy to the admin port.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden\n", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
			L.Warn(r.Context(), "ops request from public address rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "forbidden\n", http.StatusForbidden)
			return
		}
		if r.Header.Get("X-Forwarded-For") != "" {
			L.Warn(r.Context(), "forwarded ops request rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "forbidden\n", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer turns handler panics into 500s.
func recoverer(L log.Logger, onPanic func(), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			L.Error(r.Context(), err, "ops handler panic", "method", r.Method, "path", r.URL.Path)
			if onPanic != nil {
				onPanic()
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError)+"\n", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}
