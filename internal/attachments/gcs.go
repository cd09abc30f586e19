package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps blobs in a Cloud Storage bucket and signs V4 URLs.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore opens a client for bucket. An empty credentialsFile uses
// application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("attachments: failed to create GCS storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) object(p string) (*storage.ObjectHandle, string, error) {
	c, err := cleanPath(p)
	if err != nil {
		return nil, "", err
	}
	return s.client.Bucket(s.bucket).Object(c), c, nil
}

func gcsErr(op, p string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotExist
	}
	return fmt.Errorf("attachments: gcs %s %s: %w", op, p, err)
}

// Put implements Store.
func (s *GCSStore) Put(ctx context.Context, p string, r io.Reader, contentType string) (int64, error) {
	obj, c, err := s.object(p)
	if err != nil {
		return 0, err
	}
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	n, err := io.Copy(w, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, gcsErr("put", c, err)
	}
	return n, nil
}

// Open implements Store.
func (s *GCSStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	obj, c, err := s.object(p)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, gcsErr("open", c, err)
	}
	return r, nil
}

// Move implements Store as copy then delete.
func (s *GCSStore) Move(ctx context.Context, from, to string) error {
	src, f, err := s.object(from)
	if err != nil {
		return err
	}
	dst, _, err := s.object(to)
	if err != nil {
		return err
	}
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return gcsErr("copy", f, err)
	}
	if err := src.Delete(ctx); err != nil {
		return gcsErr("delete", f, err)
	}
	return nil
}

// Delete implements Store.
func (s *GCSStore) Delete(ctx context.Context, p string) error {
	obj, c, err := s.object(p)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil {
		return gcsErr("delete", c, err)
	}
	return nil
}

// SignedURL implements Store with a V4 GET URL.
func (s *GCSStore) SignedURL(_ context.Context, p string, ttl time.Duration) (string, error) {
	c, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	u, err := s.client.Bucket(s.bucket).SignedURL(c, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("attachments: sign %s: %w", c, err)
	}
	return u, nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
