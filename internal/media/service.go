// Package media stores pronunciation audio clips in S3-compatible object
// storage.
package media

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxAudioSize caps uploaded pronunciation clips at 5 MiB.
const MaxAudioSize = 5 << 20

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Service provides pronunciation audio storage.
type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to object storage and ensures the bucket exists.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

var allowedAudioTypes = map[string]string{
	"audio/mpeg": ".mp3",
	"audio/ogg":  ".ogg",
	"audio/wav":  ".wav",
	"audio/webm": ".webm",
}

// AllowedContentType reports whether the given MIME type is accepted for
// pronunciation clips.
func AllowedContentType(contentType string) bool {
	_, ok := allowedAudioTypes[normalizeContentType(contentType)]
	return ok
}

func normalizeContentType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(strings.ToLower(contentType))
}

func objectKey(termID, contentType string) string {
	return "pronunciations/" + termID + allowedAudioTypes[normalizeContentType(contentType)]
}

// PutPronunciation stores an audio clip for a term, replacing any existing one.
func (s *Service) PutPronunciation(ctx context.Context, termID, contentType string, r io.Reader, size int64) error {
	if !AllowedContentType(contentType) {
		return fmt.Errorf("unsupported audio type %q", contentType)
	}
	if size > MaxAudioSize {
		return fmt.Errorf("audio clip exceeds %d bytes", MaxAudioSize)
	}

	_, err := s.client.PutObject(ctx, s.bucket, objectKey(termID, contentType), r, size, minio.PutObjectOptions{
		ContentType: normalizeContentType(contentType),
	})
	if err != nil {
		return fmt.Errorf("store pronunciation: %w", err)
	}
	return nil
}

// GetPronunciation returns a reader for the term's audio clip along with its
// content type. The caller must close the reader.
func (s *Service) GetPronunciation(ctx context.Context, termID string) (io.ReadCloser, string, error) {
	// The extension is not known up front, so probe the allowed types.
	for contentType := range allowedAudioTypes {
		key := objectKey(termID, contentType)
		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			continue
		}
		stat, err := obj.Stat()
		if err != nil {
			obj.Close()
			continue
		}
		return obj, stat.ContentType, nil
	}
	return nil, "", fmt.Errorf("no pronunciation for term %s", termID)
}

// DeletePronunciation removes any stored audio clip for a term.
func (s *Service) DeletePronunciation(ctx context.Context, termID string) error {
	for contentType := range allowedAudioTypes {
		key := objectKey(termID, contentType)
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove pronunciation: %w", err)
		}
	}
	return nil
}

// PresignedURL returns a short-lived download URL for a term's clip.
func (s *Service) PresignedURL(ctx context.Context, termID, contentType string, expiry time.Duration) (string, error) {
	if !AllowedContentType(contentType) {
		return "", fmt.Errorf("unsupported audio type %q", contentType)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey(termID, contentType), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign pronunciation url: %w", err)
	}
	return u.String(), nil
}
