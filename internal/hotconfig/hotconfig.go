// Package hotconfig loads the hot config fragment: values that operators edit
// while the service runs.
//
// The source is HCL and must define a single object attribute named "hot":
//
//	hot = {
//	  THREADS_PER_PAGE = 10
//	  SCHEDULE         = ["Mon", "", null]
//	}
//
// Expressions are evaluated without variables or functions, so the file
// cannot reach process state. A HotConfig is immutable; reloading produces a
// new value and callers swap references.
package hotconfig

import (
	"context"
	"encoding/json"
	"maps"
	"os"

	"github.com/keithlinneman/boardstate/internal/assethash"
	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// clientHotKeys is the whitelist of hot keys exposed to browser clients.
var clientHotKeys = []string{
	"ILLYA_DANCE", "EIGHT_BALL", "THREADS_PER_PAGE", "ABBREVIATED_REPLIES",
	"SUBJECT_MAX_LENGTH", "EXCLUDE_REGEXP", "staff_aliases", "SAGE_ENABLED",
	"THREAD_LAST_N", "DEFAULT_CSS",
}

// Derived keys added to every HotConfig.
const (
	KeyClientConfig     = "CLIENT_CONFIG"
	KeyClientHot        = "CLIENT_HOT"
	KeyClientConfigHash = "CLIENT_CONFIG_HASH"
)

// AssetHashes are the aggregate bundle digests computed during a reload.
type AssetHashes struct {
	Vendor string `json:"vendor"`
	CSS    string `json:"css"`
	Client string `json:"client"`
}

// HotConfig is one evaluated generation of the hot fragment plus the values
// derived from it.
type HotConfig struct {
	values     map[string]any
	clientHot  map[string]any
	clientCfg  string
	clientJSON string
	hash       string
	assets     AssetHashes
}

// Get returns a raw hot value.
func (h *HotConfig) Get(key string) (any, bool) {
	v, ok := h.values[key]
	return v, ok
}

// ClientHot returns the whitelisted client projection. Do not modify it.
func (h *HotConfig) ClientHot() map[string]any { return h.clientHot }

// ClientConfigJSON is the serialized static client config.
func (h *HotConfig) ClientConfigJSON() string { return h.clientCfg }

// ClientHotJSON is the serialized client projection that ConfigHash covers.
func (h *HotConfig) ClientHotJSON() string { return h.clientJSON }

// ConfigHash is the digest of ClientHotJSON.
func (h *HotConfig) ConfigHash() string { return h.hash }

func (h *HotConfig) Assets() AssetHashes { return h.assets }

// WithAssetHashes returns a copy of h carrying a.
func (h *HotConfig) WithAssetHashes(a AssetHashes) *HotConfig {
	cp := *h
	cp.assets = a
	return &cp
}

// Vars returns a fresh map of every hot value, the derived client strings
// and the asset hashes, ready to be used as template variables.
func (h *HotConfig) Vars() map[string]any {
	out := make(map[string]any, len(h.values)+6)
	maps.Copy(out, h.values)
	out[KeyClientConfig] = h.clientCfg
	out[KeyClientHot] = h.clientJSON
	out[KeyClientConfigHash] = h.hash
	out[assethash.VendorGroup] = h.assets.Vendor
	out[assethash.CSSGroup] = h.assets.CSS
	out[assethash.ClientGroup] = h.assets.Client
	return out
}

// Merger reloads the hot fragment from disk.
type Merger struct {
	path       string
	clientJSON string
	hasher     *assethash.Hasher
}

// NewMerger serializes clientConfig once; it does not change after startup.
func NewMerger(path string, clientConfig map[string]any, hasher *assethash.Hasher) (*Merger, error) {
	b, err := json.Marshal(clientConfig)
	if err != nil {
		return nil, xerrors.Kind(xerrors.ErrConfigFormat, err, "serialize client config")
	}
	if hasher == nil {
		hasher = &assethash.Hasher{}
	}
	return &Merger{path: path, clientJSON: string(b), hasher: hasher}, nil
}

// Path is the hot config source file.
func (m *Merger) Path() string { return m.path }

// Reload reads and evaluates the source into a new HotConfig. Nothing is
// shared with earlier generations.
func (m *Merger) Reload(ctx context.Context) (*HotConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := os.ReadFile(m.path)
	if err != nil {
		return nil, xerrors.Kindf(xerrors.ErrRead, err, "read hot config %s", m.path)
	}
	values, err := Eval(src, m.path)
	if err != nil {
		return nil, err
	}
	return m.Build(values)
}

// Build derives a HotConfig from already evaluated values.
func (m *Merger) Build(values map[string]any) (*HotConfig, error) {
	clientHot := make(map[string]any, len(clientHotKeys))
	for _, k := range clientHotKeys {
		if v, ok := values[k]; ok {
			clientHot[k] = v
		}
	}
	b, err := json.Marshal(clientHot)
	if err != nil {
		return nil, xerrors.Kind(xerrors.ErrConfigFormat, err, "serialize client hot config")
	}
	clientJSON := string(b)
	return &HotConfig{
		values:     values,
		clientHot:  clientHot,
		clientCfg:  m.clientJSON,
		clientJSON: clientJSON,
		hash:       m.hasher.HashString(clientJSON),
	}, nil
}
