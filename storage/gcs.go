package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSArchive struct {
	client *storage.Client
	bucket string
}

// NewGCSArchive authenticates with the service account file at credentialsPath,
// resolved against the working directory when relative. An empty path uses
// application default credentials.
func NewGCSArchive(ctx context.Context, bucket, credentialsPath string) (*GCSArchive, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		if !filepath.IsAbs(credentialsPath) {
			wd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			credentialsPath = filepath.Join(wd, credentialsPath)
		}
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCSArchive{client: client, bucket: bucket}, nil
}

func (a *GCSArchive) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	w := a.client.Bucket(a.bucket).Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload copy: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload close: %w", err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", a.bucket, key), nil
}

func (a *GCSArchive) Delete(ctx context.Context, key string) error {
	err := a.client.Bucket(a.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (a *GCSArchive) Close() error {
	return a.client.Close()
}
