// Package objectstore publishes finished artifacts to a blob store so that
// proof-consuming applications can fetch keys and witness generators.
package objectstore

import (
	"context"
	"io"
)

// Storage is a flat key/value blob store.
type Storage interface {
	Reader(ctx context.Context, key string) (io.ReadCloser, error)
	Writer(ctx context.Context, key string) (io.WriteCloser, error)
}
