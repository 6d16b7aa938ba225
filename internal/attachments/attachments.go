// Package attachments stores uploaded images in an S3-compatible bucket
// and hands back public URLs suitable for embedding in entry markdown.
package attachments

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"muse/api/internal/util"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base URL clients fetch objects from. Defaults to
	// <scheme>://<endpoint>/<bucket>.
	PublicURL string
}

type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
	now       func() time.Time
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
	}

	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}

	return &Store{client: client, bucket: opts.Bucket, publicURL: publicURL, now: time.Now}, nil
}

// Put uploads one image and returns its public URL.
func (s *Store) Put(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	key := ObjectKey(filename, s.now().UTC())
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return s.publicURL + "/" + key, nil
}

// ObjectKey builds a collision-free object name under a year/month prefix,
// keeping the original file extension.
func ObjectKey(filename string, at time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("%04d/%02d/%s%s", at.Year(), int(at.Month()), util.NewID("img"), ext)
}

// MarkdownLink renders an image reference for appending to entry content.
func MarkdownLink(alt, url string) string {
	alt = strings.TrimSpace(alt)
	if alt == "" {
		alt = "image"
	}
	return fmt.Sprintf("![%s](%s)", alt, url)
}
