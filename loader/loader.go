// Package loader defines the Frame Loader contract: the one external
// collaborator the cache core depends on. Decoding frames from disk/video
// is out of scope for this module; this package only specifies the
// interface and the deadline contract.
package loader

import (
	"context"
	"errors"

	"github.com/annoframe/framecache/frame"
)

// ErrLoaderDeadlineExceeded is returned (or should be returned) by a
// Loader that cannot produce a frame before its deadline.
var ErrLoaderDeadlineExceeded = errors.New("loader: deadline exceeded")

// Loader decodes/reads one frame and returns its bytes. Implementations
// must be thread-safe, reentrant, and honor ctx's deadline within a small
// tolerance. The cache never retries a Loader call itself; retry policy
// (if any) belongs to the implementation or to the caller.
type Loader interface {
	Load(ctx context.Context, key frame.Key) (frame.Buffer, error)
}

// Func adapts a plain function to Loader.
type Func func(ctx context.Context, key frame.Key) (frame.Buffer, error)

func (f Func) Load(ctx context.Context, key frame.Key) (frame.Buffer, error) {
	return f(ctx, key)
}
