package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/retry"
)

// DefaultUploadTimeout bounds every attempt of one file upload together.
const DefaultUploadTimeout = 10 * time.Minute

// Publisher uploads the final artifacts of circuits to a Storage.
type Publisher struct {
	store   Storage
	prefix  string
	retry   retry.Config
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublisher creates a publisher writing keys under prefix.
func NewPublisher(store Storage, prefix string, retryCfg retry.Config, logger *zap.Logger) *Publisher {
	retryCfg.Retryable = retryable
	return &Publisher{
		store:   store,
		prefix:  prefix,
		retry:   retryCfg,
		timeout: DefaultUploadTimeout,
		logger:  logger,
	}
}

// WithUploadTimeout changes the per-file upload bound. Zero keeps the default.
func (p *Publisher) WithUploadTimeout(d time.Duration) *Publisher {
	if d > 0 {
		p.timeout = d
	}
	return p
}

// Key returns the object key of a circuit artifact.
func (p *Publisher) Key(circuit, file string) string {
	return path.Join(p.prefix, circuit, filepath.Base(file))
}

// Publish uploads files of one circuit and returns their object keys.
// Missing local files are an error and are never retried. Each file,
// retries included, must finish within the upload timeout.
func (p *Publisher) Publish(ctx context.Context, circuit string, files []string) ([]string, error) {
	keys := make([]string, 0, len(files))
	for _, file := range files {
		key := p.Key(circuit, file)
		err := retry.WithTimeout(ctx, p.timeout, p.retry, p.logger, "upload "+key, func(ctx context.Context) error {
			return p.upload(ctx, file, key)
		})
		if err != nil {
			return keys, fmt.Errorf("failed to publish %s: %w", file, err)
		}
		p.logger.Info("Published artifact",
			zap.String("circuit", circuit),
			zap.String("key", key),
		)
		keys = append(keys, key)
	}
	return keys, nil
}

func (p *Publisher) upload(ctx context.Context, file, key string) error {
	src, err := os.Open(file)
	if err != nil {
		return retry.Permanent(err)
	}
	defer src.Close()

	dst, err := p.store.Writer(ctx, key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

func retryable(err error) bool {
	return !errors.Is(err, fs.ErrNotExist) &&
		!errors.Is(err, fs.ErrPermission) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
