package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ErrBadSignature is returned for download links that are forged, expired
// or issued for another path.
var ErrBadSignature = errors.New("attachments: invalid or expired link")

// LocalStore keeps blobs under a directory. Its signed URLs point at the
// API's /api/files route and carry a token checked by Verify.
type LocalStore struct {
	root      string
	publicURL string
	key       []byte
	now       func() time.Time
}

type fileClaims struct {
	jwt.RegisteredClaims
	Path string `json:"path"`
}

// NewLocalStore creates root if needed.
func NewLocalStore(root, publicURL, signingKey string) (*LocalStore, error) {
	if signingKey == "" {
		return nil, errors.New("attachments: a file signing key is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("attachments: create %s: %w", root, err)
	}
	return &LocalStore{
		root:      root,
		publicURL: strings.TrimRight(publicURL, "/"),
		key:       []byte(signingKey),
		now:       time.Now,
	}, nil
}

func (s *LocalStore) file(p string) (string, error) {
	c, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(c)), nil
}

// Put implements Store.
func (s *LocalStore) Put(_ context.Context, p string, r io.Reader, _ string) (int64, error) {
	dst, err := s.file(p)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, fmt.Errorf("attachments: mkdir: %w", err)
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, fmt.Errorf("attachments: create %s: %w", p, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return 0, fmt.Errorf("attachments: write %s: %w", p, err)
	}
	return n, nil
}

// Open implements Store.
func (s *LocalStore) Open(_ context.Context, p string) (io.ReadCloser, error) {
	src, err := s.file(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	return f, err
}

// Move implements Store.
func (s *LocalStore) Move(_ context.Context, from, to string) error {
	src, err := s.file(from)
	if err != nil {
		return err
	}
	dst, err := s.file(to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("attachments: mkdir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotExist
		}
		return fmt.Errorf("attachments: move %s: %w", from, err)
	}
	return nil
}

// Delete implements Store.
func (s *LocalStore) Delete(_ context.Context, p string) error {
	dst, err := s.file(p)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotExist
		}
		return fmt.Errorf("attachments: delete %s: %w", p, err)
	}
	return nil
}

// SignedURL implements Store.
func (s *LocalStore) SignedURL(_ context.Context, p string, ttl time.Duration) (string, error) {
	c, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	now := s.now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, fileClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Path: c,
	}).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("attachments: sign: %w", err)
	}
	return s.publicURL + "/api/files/" + (&url.URL{Path: c}).EscapedPath() + "?token=" + url.QueryEscape(tok), nil
}

// Verify checks that token was issued by SignedURL for p and has not
// expired.
func (s *LocalStore) Verify(p, token string) error {
	c, err := cleanPath(p)
	if err != nil {
		return ErrBadSignature
	}
	var claims fileClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return s.key, nil }); err != nil {
		return ErrBadSignature
	}
	if claims.Path != c {
		return ErrBadSignature
	}
	return nil
}
