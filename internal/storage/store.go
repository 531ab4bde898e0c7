package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Xiaobaiq-q/DataLake/internal/config"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

const probeKey = "_sparkify_probe"

// Store is an object store rooted at a Location. Keys are slash separated and relative
// to the root.
type Store interface {
	Root() Location
	// List returns the keys matching a doublestar pattern, sorted.
	List(ctx context.Context, pattern string) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader, meta map[string]string) error
	// DeletePrefix removes every object under prefix and returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// Probe checks that the store is writable.
	Probe(ctx context.Context) error
}

// Context is the shared execution context handed to both pipelines.
type Context struct {
	Input  Store
	Output Store
}

// NewContext opens the input and output stores. Both S3 stores share one session built
// from the configured credentials; nothing is read from or written to the process
// environment.
func NewContext(cfg config.Config, log *zap.Logger) (*Context, error) {
	in, err := ParseLocation(cfg.Paths.Input)
	if err != nil {
		return nil, fmt.Errorf("input root: %w", err)
	}
	out, err := ParseLocation(cfg.Paths.Output)
	if err != nil {
		return nil, fmt.Errorf("output root: %w", err)
	}

	var sess *session.Session
	if in.IsS3() || out.IsS3() {
		sess, err = NewSession(cfg.AWS)
		if err != nil {
			return nil, err
		}
	}

	open := func(loc Location) Store {
		if loc.IsS3() {
			return NewS3Store(s3.New(sess), s3manager.NewUploader(sess), loc, log)
		}
		return NewLocalStore(loc, log)
	}

	log.Info("storage context ready",
		zap.String("input", in.String()),
		zap.String("output", out.String()))

	return &Context{Input: open(in), Output: open(out)}, nil
}

func matchKey(pattern, key string) bool {
	ok, err := doublestar.Match(pattern, key)
	return err == nil && ok
}
