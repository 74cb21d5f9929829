// Package resources holds the published resource set that request handlers
// read. A Set is immutable once published; the Store swaps whole sets with a
// single atomic pointer store, so readers never see a mix of generations.
package resources

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/keithlinneman/boardstate/internal/hotconfig"
	"github.com/keithlinneman/boardstate/internal/tmplc"
	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// Keys of the static pages.
const (
	KeyNotFound    = "notFoundHtml"
	KeyServerError = "serverErrorHtml"
)

// IndexTmplKey is the key of lang's compiled index template.
func IndexTmplKey(lang string) string { return "indexTmpl-" + lang }

// IndexHashKey is the key of lang's index template version token.
func IndexHashKey(lang string) string { return "indexHash-" + lang }

// Blob is a static resource with a precompressed copy for clients that
// accept gzip.
type Blob struct {
	Data []byte
	Gzip []byte
}

// NewBlob compresses data at the best compression level.
func NewBlob(data []byte) (Blob, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return Blob{}, err
	}
	if _, err := zw.Write(data); err != nil {
		return Blob{}, err
	}
	if err := zw.Close(); err != nil {
		return Blob{}, err
	}
	return Blob{Data: data, Gzip: buf.Bytes()}, nil
}

// Set is one published generation of resources.
type Set struct {
	Generation uint64
	LoadedAt   time.Time

	HotConfig        *hotconfig.HotConfig
	ClientConfig     map[string]any
	ClientHotConfig  map[string]any
	ClientConfigHash string
	Assets           hotconfig.AssetHashes

	// Blobs holds static pages and the admin client bundle by key.
	Blobs map[string]Blob
	// Index holds compiled index templates by language.
	Index map[string]*tmplc.Artifact
}

// Blob returns the static resource stored under key.
func (s *Set) Blob(key string) (Blob, bool) {
	b, ok := s.Blobs[key]
	return b, ok
}

// Get looks a resource up by its published key. Index templates are
// *tmplc.Artifact, index hashes are strings and everything else is a Blob.
func (s *Set) Get(key string) (any, bool) {
	if b, ok := s.Blobs[key]; ok {
		return b, true
	}
	for lang, a := range s.Index {
		switch key {
		case IndexTmplKey(lang):
			return a, true
		case IndexHashKey(lang):
			return a.Hash, true
		}
	}
	return nil, false
}

// Keys lists every published key, sorted.
func (s *Set) Keys() []string {
	keys := make([]string, 0, len(s.Blobs)+2*len(s.Index))
	for k := range s.Blobs {
		keys = append(keys, k)
	}
	for lang := range s.Index {
		keys = append(keys, IndexTmplKey(lang), IndexHashKey(lang))
	}
	slices.Sort(keys)
	return keys
}

// Store publishes Sets.
type Store struct {
	mu     sync.Mutex // serializes publishers
	active atomic.Pointer[Set]
}

func NewStore() *Store { return &Store{} }

// Publish makes s the current set. The store keeps its own copy, assigns the
// next generation number and stamps LoadedAt when unset.
func (st *Store) Publish(s Set) *Set {
	st.mu.Lock()
	defer st.mu.Unlock()

	cp := new(Set)
	*cp = s
	cp.Generation = 1
	if prev := st.active.Load(); prev != nil {
		cp.Generation = prev.Generation + 1
	}
	if cp.LoadedAt.IsZero() {
		cp.LoadedAt = time.Now().UTC()
	}
	st.active.Store(cp)
	return cp
}

// Current returns the active set, or nil before the first publish.
func (st *Store) Current() *Set { return st.active.Load() }

// Get looks key up in the active set.
func (st *Store) Get(key string) (any, bool) {
	s := st.active.Load()
	if s == nil {
		return nil, false
	}
	return s.Get(key)
}

// Generation returns the active generation, 0 before the first publish.
func (st *Store) Generation() uint64 {
	if s := st.active.Load(); s != nil {
		return s.Generation
	}
	return 0
}

// ReadyErr fails until a set has been published. It has the shape of a
// readiness probe.
func (st *Store) ReadyErr(context.Context) error {
	if st.active.Load() == nil {
		return xerrors.New("no resources published yet")
	}
	return nil
}
