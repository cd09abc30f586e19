// Package attachments stores files linked to domain records under
// {companyId}/{entityType}/{entityId}/{uuid}_{filename} and hands out
// time-limited download links.
package attachments

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// DefaultURLTTL is how long download links stay valid.
const DefaultURLTTL = time.Hour

// ErrNotExist is returned for missing blobs.
var ErrNotExist = errors.New("attachments: blob does not exist")

// Store is a blob backend.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader, contentType string) (int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Move(ctx context.Context, from, to string) error
	Delete(ctx context.Context, path string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// cleanPath rejects absolute paths and parent references.
func cleanPath(p string) (string, error) {
	c := path.Clean(strings.TrimPrefix(p, "/"))
	if c == "." || c == ".." || strings.HasPrefix(c, "../") || p == "" {
		return "", errors.New("attachments: invalid path " + p)
	}
	return c, nil
}
