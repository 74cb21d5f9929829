// Package bundles fetches the admin client bundle blobs. They come from the
// local state directory by default or from S3 when a bucket is configured.
package bundles

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/boardstate/internal/log"
	"github.com/keithlinneman/boardstate/internal/pathutil"
	"github.com/keithlinneman/boardstate/internal/xerrors"
)

// MaxBlobSize bounds a single fetched blob (bytes).
const MaxBlobSize = 32 * 1024 * 1024

// Resource keys and blob names of the admin client bundle.
const (
	KeyModJS        = "modJs"
	KeyModSourcemap = "modSourcemap"
	NameModJS       = "mod.js"
	NameModMap      = "mod.js.map"
)

// ModBundle maps resource keys to blob names for the admin client.
func ModBundle() map[string]string {
	return map[string]string{KeyModJS: NameModJS, KeyModSourcemap: NameModMap}
}

// Source returns named blobs.
type Source interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
	String() string
}

// DirSource reads blobs from a directory.
type DirSource struct {
	Dir string
}

func (d DirSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := pathutil.CleanName(name)
	if err != nil {
		return nil, xerrors.Kind(xerrors.ErrRead, err, "dir source")
	}
	p := filepath.Join(d.Dir, filepath.FromSlash(rel))
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, xerrors.Kindf(xerrors.ErrRead, err, "read %s", p)
	}
	return b, nil
}

func (d DirSource) String() string { return "dir:" + d.Dir }

// S3API is the subset of the S3 client the source uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures an S3Source.
type S3Options struct {
	Logger log.Logger
	Bucket string
	// Prefix is joined with the blob name: s3://{Bucket}/{Prefix}/{name}
	Prefix string
	// MaxSize overrides MaxBlobSize when positive.
	MaxSize int64
	// AWS config (default chain if nil)
	AWSConfig *aws.Config
	// Client overrides the S3 client built from AWSConfig.
	Client S3API
}

// S3Source reads blobs from an S3 prefix.
type S3Source struct {
	opts   S3Options
	client S3API
	logger log.Logger
}

// NewS3Source builds an S3Source, loading the default AWS config when
// neither a client nor a config is given.
func NewS3Source(ctx context.Context, opts S3Options) (*S3Source, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("bundles: Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = MaxBlobSize
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	if opts.Prefix != "" {
		if _, err := pathutil.CleanName(opts.Prefix); err != nil {
			return nil, xerrors.Wrap(err, "bundles: invalid Prefix")
		}
	}

	client := opts.Client
	if client == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "bundles: load AWS config")
			}
		}
		client = s3.NewFromConfig(awsCfg)
	}
	return &S3Source{opts: opts, client: client, logger: opts.Logger}, nil
}

func (s *S3Source) key(name string) (string, error) {
	rel, err := pathutil.CleanName(name)
	if err != nil {
		return "", err
	}
	if s.opts.Prefix == "" {
		return rel, nil
	}
	return path.Join(s.opts.Prefix, rel), nil
}

// Fetch downloads name, refusing objects larger than the size limit.
func (s *S3Source) Fetch(ctx context.Context, name string) ([]byte, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, xerrors.Kindf(xerrors.ErrRead, err, "s3://%s", s.opts.Bucket)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Kindf(xerrors.ErrRead, err, "get s3://%s/%s", s.opts.Bucket, key)
	}
	defer out.Body.Close()

	lr := io.LimitReader(out.Body, s.opts.MaxSize+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, xerrors.Kindf(xerrors.ErrRead, err, "read s3://%s/%s", s.opts.Bucket, key)
	}
	if int64(len(data)) > s.opts.MaxSize {
		return nil, xerrors.Kindf(xerrors.ErrRead, nil, "s3://%s/%s exceeds size limit (max %d bytes)",
			s.opts.Bucket, key, s.opts.MaxSize)
	}

	s.logger.Debug(ctx, "fetched bundle blob", "bucket", s.opts.Bucket, "key", key, "bytes", len(data))
	return data, nil
}

func (s *S3Source) String() string { return "s3://" + s.opts.Bucket + "/" + s.opts.Prefix }

// FetchAll fetches every named blob concurrently and returns them by key.
// Any failure fails the whole set.
func FetchAll(ctx context.Context, src Source, names map[string]string) (map[string][]byte, error) {
	var mu sync.Mutex
	out := make(map[string][]byte, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for key, name := range names {
		g.Go(func() error {
			b, err := src.Fetch(gctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			out[key] = b
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
