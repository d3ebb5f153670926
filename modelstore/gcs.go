package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSClient opens objects in Google Cloud Storage.
type GCSClient interface {
	NewObjectReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	Close() error
}

// GCSClientFactory creates a GCSClient for one download.
type GCSClientFactory func(ctx context.Context) (GCSClient, error)

type storageClient struct {
	client *storage.Client
}

func newGCSClient(ctx context.Context) (GCSClient, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	return &storageClient{client: client}, nil
}

func (c *storageClient) NewObjectReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c *storageClient) Close() error {
	return c.client.Close()
}

// ErrObjectNotExist is returned when a gs:// source names a missing object.
var ErrObjectNotExist = storage.ErrObjectNotExist

func parseGCSSource(source string) (bucket, object string, err error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", "", fmt.Errorf("parsing GCS source %q: %w", source, err)
	}
	bucket = u.Host
	object = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("GCS source must look like gs://bucket/object, got %q", source)
	}
	return bucket, object, nil
}

type gcsObjectReader struct {
	io.ReadCloser
	client GCSClient
}

func (r *gcsObjectReader) Close() error {
	return errors.Join(r.ReadCloser.Close(), r.client.Close())
}

func (s *Store) fetchGCS(ctx context.Context, source string) (io.ReadCloser, error) {
	bucket, object, err := parseGCSSource(source)
	if err != nil {
		return nil, err
	}

	client, err := s.cfg.gcsFactory(ctx)
	if err != nil {
		return nil, err
	}

	r, err := client.NewObjectReader(ctx, bucket, object)
	if err != nil {
		closeErr := client.Close()
		return nil, errors.Join(fmt.Errorf("opening object from GCS %q: %w", source, err), closeErr)
	}
	return &gcsObjectReader{ReadCloser: r, client: client}, nil
}
