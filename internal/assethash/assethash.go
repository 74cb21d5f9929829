// Package assethash computes cache-busting digests of client asset bundles.
//
// Aggregate hashes are the digest of the concatenated hex digests of each
// member file, in the order given. Reordering the inputs changes the result;
// rehashing unchanged files does not.
package assethash

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// Algorithm names a digest.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	BLAKE3 Algorithm = "blake3"
)

// Group names under which aggregate hashes are exposed to templates.
const (
	VendorGroup = "vendor_hash"
	CSSGroup    = "css_hash"
	ClientGroup = "client_hash"
)

// ShortLen is the length of the version token derived from a digest.
const ShortLen = 8

// maxParallel bounds concurrent file reads in HashFiles.
const maxParallel = 8

// Hasher produces hex digests with one algorithm. The zero value uses md5.
type Hasher struct {
	alg Algorithm
}

// New returns a Hasher for alg. An empty alg selects md5.
func New(alg Algorithm) (*Hasher, error) {
	switch alg {
	case "":
		alg = MD5
	case MD5, BLAKE3:
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q (valid: md5|blake3)", alg)
	}
	return &Hasher{alg: alg}, nil
}

// Algorithm reports the configured digest.
func (h *Hasher) Algorithm() Algorithm {
	if h == nil || h.alg == "" {
		return MD5
	}
	return h.alg
}

func (h *Hasher) digest() hash.Hash {
	if h.Algorithm() == BLAKE3 {
		return blake3.New()
	}
	return md5.New()
}

// HashString returns the hex digest of s.
func (h *Hasher) HashString(s string) string {
	d := h.digest()
	_, _ = io.WriteString(d, s)
	return hex.EncodeToString(d.Sum(nil))
}

// Short truncates a hex digest to a version token.
func Short(s string) string {
	if len(s) <= ShortLen {
		return s
	}
	return s[:ShortLen]
}

// ctxReader fails reads once ctx is done so long streams stop early.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// HashFile streams path into the digest.
func (h *Hasher) HashFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", xerrors.Kindf(xerrors.ErrRead, err, "open %s", path)
	}
	defer f.Close()

	d := h.digest()
	if _, err := io.Copy(d, ctxReader{ctx: ctx, r: f}); err != nil {
		return "", xerrors.Kindf(xerrors.ErrHash, err, "hash %s", path)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// HashFiles hashes every path and folds the digests, in caller order, into
// one aggregate digest. The first failure aborts the rest.
func (h *Hasher) HashFiles(ctx context.Context, paths []string) (string, error) {
	sums := make([]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, p := range paths {
		g.Go(func() error {
			s, err := h.HashFile(gctx, p)
			if err != nil {
				return err
			}
			sums[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return h.HashString(strings.Join(sums, "")), nil
}

// HashDir hashes the regular files in dir whose name ends in ext, sorted by
// name so the result does not depend on directory listing order.
func (h *Hasher) HashDir(ctx context.Context, dir, ext string) (string, error) {
	paths, err := ListDir(dir, ext)
	if err != nil {
		return "", err
	}
	return h.HashFiles(ctx, paths)
}

// ListDir returns the sorted paths of regular files in dir ending in ext.
func ListDir(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.Kindf(xerrors.ErrRead, err, "list %s", dir)
	}
	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	// os.ReadDir sorts already; keep the guarantee explicit
	slices.Sort(paths)
	return paths, nil
}
