// Package gcs stores objects in a Google Cloud Storage bucket. Gateway buckets
// become name prefixes inside the one configured bucket.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"chitieu/internal/gateway"
)

const publicHost = "https://storage.googleapis.com"

type Store struct {
	svc    *storage.Service
	bucket string
}

// New creates a store for bucket. opts usually come from
// googleapi.Credentials.ClientOptions with storage.DevstorageReadWriteScope.
func New(ctx context.Context, bucket string, opts ...option.ClientOption) (*Store, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("missing storage bucket")
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage service: %w", err)
	}
	return &Store{svc: svc, bucket: bucket}, nil
}

func (s *Store) PutObject(ctx context.Context, bucket, key string, data []byte) error {
	name := objectName(bucket, key)
	obj := &storage.Object{
		Name:        name,
		ContentType: contentType(name),
	}
	_, err := s.svc.Objects.Insert(s.bucket, obj).
		Media(bytes.NewReader(data), googleapi.ContentType(obj.ContentType)).
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
			return fmt.Errorf("%w: %w: upload %s: %w", gateway.ErrStorage, gateway.ErrAuth, name, err)
		}
		return fmt.Errorf("%w: upload %s: %w", gateway.ErrStorage, name, err)
	}
	return nil
}

func (s *Store) PublicURL(bucket, key string) string {
	u, err := url.JoinPath(publicHost, append([]string{s.bucket}, strings.Split(objectName(bucket, key), "/")...)...)
	if err != nil {
		return publicHost + "/" + s.bucket + "/" + objectName(bucket, key)
	}
	return u
}

func objectName(bucket, key string) string {
	return strings.TrimPrefix(path.Join(bucket, path.Clean("/"+key)), "/")
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
