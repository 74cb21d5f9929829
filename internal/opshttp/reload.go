package opshttp

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/keithlinneman/boardstate/internal/hotconfig"
	"github.com/keithlinneman/boardstate/internal/log"
	"github.com/keithlinneman/boardstate/internal/reload"
	"github.com/keithlinneman/boardstate/internal/resources"
	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// Summary describes a published resource set without its payloads.
type Summary struct {
	Generation    uint64                `json:"generation"`
	LoadedAt      time.Time             `json:"loaded_at"`
	ConfigHash    string                `json:"config_hash"`
	Assets        hotconfig.AssetHashes `json:"assets"`
	Languages     []string              `json:"languages"`
	IndexHashes   map[string]string     `json:"index_hashes"`
	Keys          []string              `json:"keys"`
	ClientHotKeys []string              `json:"client_hot_keys"`
	Reload        *ReloadStatus         `json:"reload,omitempty"`
}

// ReloadStatus mirrors reload.Status for JSON.
type ReloadStatus struct {
	Runs        int64     `json:"runs"`
	Failures    int64     `json:"failures"`
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	LastStage   string    `json:"last_stage,omitempty"`
}

// Summarize builds the /-/resources view of s.
func Summarize(s *resources.Set) Summary {
	out := Summary{
		Generation:  s.Generation,
		LoadedAt:    s.LoadedAt,
		ConfigHash:  s.ClientConfigHash,
		Assets:      s.Assets,
		IndexHashes: make(map[string]string, len(s.Index)),
		Keys:        s.Keys(),
	}
	for lang, a := range s.Index {
		out.Languages = append(out.Languages, lang)
		out.IndexHashes[lang] = a.Hash
	}
	slices.Sort(out.Languages)
	for k := range s.ClientHotConfig {
		out.ClientHotKeys = append(out.ClientHotKeys, k)
	}
	slices.Sort(out.ClientHotKeys)
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func resourcesHandler(src Resources, status func() reload.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := src.Current()
		if s == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no resources published yet"})
			return
		}
		sum := Summarize(s)
		if status != nil {
			st := status()
			sum.Reload = &ReloadStatus{
				Runs:        st.Runs,
				Failures:    st.Failures,
				LastAttempt: st.LastAttempt,
				LastSuccess: st.LastSuccess,
				LastError:   st.LastError,
				LastStage:   st.LastStage,
			}
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

// reloadHandler runs one reload and reports its outcome. Triggers that
// arrive while a run is in flight coalesce in the reload.Trigger.
func reloadHandler(opts *Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		L := log.FromContext(ctx)
		start := time.Now()
		err := opts.Reloader.Reload(ctx)
		if err != nil {
			L.Error(ctx, err, "manual reload failed")
			body := map[string]string{"status": "failed", "error": err.Error()}
			if k := xerrors.KindOf(err); k != nil {
				body["kind"] = k.Error()
			}
			writeJSON(w, http.StatusInternalServerError, body)
			return
		}
		L.Info(ctx, "manual reload complete", "duration", time.Since(start).String())

		body := map[string]any{"status": "ok", "duration_ms": time.Since(start).Milliseconds()}
		if opts.Resources != nil {
			if s := opts.Resources.Current(); s != nil {
				body["generation"] = s.Generation
				body["config_hash"] = s.ClientConfigHash
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}
