package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"
)

// blobStore serves the s3 and file drivers through gocloud.dev.
type blobStore struct {
	bk  *blob.Bucket
	ttl time.Duration
	// dir is set for the file driver, which cannot sign URLs.
	dir string
}

func openS3(ctx context.Context, c Config) (Store, error) {
	bk, err := blob.OpenBucket(ctx, buildS3URL(c))
	if err != nil {
		return nil, fmt.Errorf("open s3 bucket %s: %w", c.Bucket, err)
	}
	return &blobStore{bk: bk, ttl: c.ttl()}, nil
}

func openFile(_ context.Context, c Config) (Store, error) {
	if err := ensureDir(c.BaseDir); err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(c.BaseDir)
	if err != nil {
		return nil, err
	}
	bk, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, fmt.Errorf("open dir %s: %w", dir, err)
	}
	return &blobStore{bk: bk, ttl: c.ttl(), dir: dir}, nil
}

func (s *blobStore) Put(ctx context.Context, key string, r io.ReadSeeker, _ int64, contentType string) error {
	key = sanitizeKey(key)
	w, err := s.bk.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *blobStore) SignedURL(ctx context.Context, key string, method string, expiry time.Duration) (string, error) {
	key = sanitizeKey(key)
	if s.dir != "" {
		if method == "DELETE" {
			return "", fmt.Errorf("not supported")
		}
		u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.dir, filepath.FromSlash(key)))}
		return u.String(), nil
	}
	if expiry <= 0 {
		expiry = s.ttl
	}
	return s.bk.SignedURL(ctx, key, &blob.SignedURLOptions{Method: method, Expiry: expiry})
}

func (s *blobStore) Delete(ctx context.Context, key string) error {
	return s.bk.Delete(ctx, sanitizeKey(key))
}

func (s *blobStore) Close() error { return s.bk.Close() }
