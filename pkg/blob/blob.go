package blob

import (
	"context"
	"strings"
	"time"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
)

// Object describes a stored blob for listings.
type Object struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is opaque byte storage for staged batches and run snapshots. Keys are
// slash-separated paths; the store never interprets the bytes.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)

	// Presign returns a URL an external client can use to fetch the object
	// directly until expiry.
	Presign(ctx context.Context, key string, expiry time.Duration) (string, error)

	Close() error
}

// validateKey rejects keys that would escape the store's namespace.
func validateKey(key string) error {
	if key == "" {
		return errdefs.New(errdefs.KindInvalidInput, "blob key must not be empty")
	}
	if strings.HasPrefix(key, "/") {
		return errdefs.New(errdefs.KindInvalidInput, "blob key must be relative: %s", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return errdefs.New(errdefs.KindInvalidInput, "blob key must not contain ..: %s", key)
		}
	}
	return nil
}

func objectNotFound(key string) error {
	return errdefs.New(errdefs.KindNotFound, "object not found: %s", key)
}
