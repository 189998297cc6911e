// Package legacy reads files that older transfers left in the legacy blob
// store. It is read-only: new uploads never land here.
package legacy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures New.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

type Store struct {
	client *minio.Client
	bucket string
}

func New(o Options) (*Store, error) {
	region := o.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(o.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure: o.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("legacy store client: %w", err)
	}
	return &Store{client: client, bucket: o.Bucket}, nil
}

// Open returns a reader over the file at path and its size. A leading slash
// or the bucket name as first path segment are tolerated, as older records
// were written both ways.
func (s *Store) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	name := strings.TrimPrefix(path, "/")
	name = strings.TrimPrefix(name, s.bucket+"/")
	if name == "" {
		return nil, 0, common.ErrorNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, mapError(err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, 0, mapError(err)
	}
	return obj, info.Size, nil
}

// Ping reports whether the legacy bucket exists.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("legacy bucket %q does not exist", s.bucket)
	}
	return nil
}

func mapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return common.ErrorNotFound
	}
	return fmt.Errorf("legacy store: %w", err)
}
