package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound marks a blob that does not exist. Redelivery cannot fix a
// missing object, so consumers treat this class as permanent.
var ErrNotFound = errors.New("object not found")

// Downloader is the capability the retrieval stage depends on.
type Downloader interface {
	DownloadToFile(ctx context.Context, bucket, key, destPath string) error
}

// Client wraps the MinIO SDK with the one operation the pipeline needs.
type Client struct {
	mc *minio.Client
}

func NewClient(endpoint, accessKey, secretKey string, useSSL bool) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &Client{mc: mc}, nil
}

// DownloadToFile streams one object to destPath without buffering it in
// memory. On any failure the destination file is removed so no partial
// scratch file survives.
func (c *Client) DownloadToFile(ctx context.Context, bucket, key, destPath string) error {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}

	if _, err := io.Copy(f, obj); err != nil {
		f.Close()
		os.Remove(destPath)
		if isNoSuchKey(err) {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
		}
		return fmt.Errorf("failed to stream object %s/%s: %w", bucket, key, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to finish writing %s: %w", destPath, err)
	}
	return nil
}

// isNoSuchKey distinguishes a missing object from a transport failure. The
// SDK only surfaces the error response once the stream is read.
func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
