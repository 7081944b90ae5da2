package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sandeepkv93/reading-diary/internal/config"
)

const (
	maxAvatarSize    = 5 * 1024 * 1024
	presignedURLTTL  = 15 * time.Minute
	avatarPathPrefix = "avatars"
)

var (
	ErrAvatarStorageDisabled = errors.New("avatar storage is disabled")
	ErrFileTooBig            = errors.New("file size exceeds 5MB limit")
	ErrInvalidFileType       = errors.New("invalid file type, only JPEG and PNG images are allowed")
	ErrBucketCreationFailed  = errors.New("failed to create storage bucket")
	ErrUploadFailed          = errors.New("failed to upload file")
	ErrDeleteFailed          = errors.New("failed to delete file")
	ErrURLGenerationFailed   = errors.New("failed to generate presigned URL")
	ErrUnauthorizedAccess    = errors.New("unauthorized access to resource")

	allowedAvatarTypes = map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
	}
)

type StorageService interface {
	UploadAvatar(ctx context.Context, userID uint, file io.Reader, fileSize int64) (string, error)
	DeleteAvatar(ctx context.Context, userID uint, objectKey string) error
	GenerateAvatarURL(ctx context.Context, objectKey string) (string, error)
}

// NewStorageService returns the MinIO backend when AVATAR_STORAGE_ENABLED is set.
func NewStorageService(cfg *config.Config) (StorageService, error) {
	if !cfg.AvatarStorageEnabled {
		return DisabledStorageService{}, nil
	}
	return NewMinIOStorageService(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
}

type DisabledStorageService struct{}

func (DisabledStorageService) UploadAvatar(context.Context, uint, io.Reader, int64) (string, error) {
	return "", ErrAvatarStorageDisabled
}

func (DisabledStorageService) DeleteAvatar(context.Context, uint, string) error {
	return ErrAvatarStorageDisabled
}

func (DisabledStorageService) GenerateAvatarURL(context.Context, string) (string, error) {
	return "", ErrAvatarStorageDisabled
}

type MinIOStorageService struct {
	client     *minio.Client
	bucketName string
	initOnce   sync.Once
	initErr    error
}

// NewMinIOStorageService does not dial; the bucket is checked on first use so
// a slow object store never blocks boot.
func NewMinIOStorageService(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinIOStorageService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStorageService{client: client, bucketName: bucketName}, nil
}

// Probe checks the object store answers; a missing bucket is fine because the
// first upload creates it.
func (s *MinIOStorageService) Probe(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

func (s *MinIOStorageService) lazyInit(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = fmt.Errorf("%w: check bucket existence: %v", ErrBucketCreationFailed, err)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
			s.initErr = fmt.Errorf("%w: create bucket: %v", ErrBucketCreationFailed, err)
		}
	})
	return s.initErr
}

// UploadAvatar sniffs the real content type from the first bytes; the client's
// declared type is ignored.
func (s *MinIOStorageService) UploadAvatar(ctx context.Context, userID uint, file io.Reader, fileSize int64) (string, error) {
	if fileSize > maxAvatarSize {
		return "", ErrFileTooBig
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("%w: read file for content detection: %v", ErrUploadFailed, err)
	}
	head = head[:n]

	contentType := strings.ToLower(http.DetectContentType(head))
	ext, ok := allowedAvatarTypes[contentType]
	if !ok {
		return "", ErrInvalidFileType
	}
	if err := s.lazyInit(ctx); err != nil {
		return "", err
	}

	objectKey := fmt.Sprintf("%s/%d/%s%s", avatarPathPrefix, userID, uuid.NewString(), ext)
	_, err = s.client.PutObject(ctx, s.bucketName, objectKey, io.MultiReader(bytes.NewReader(head), file), fileSize, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"User-ID":     fmt.Sprintf("%d", userID),
			"Uploaded-At": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return objectKey, nil
}

// DeleteAvatar only removes keys under the caller's own prefix.
func (s *MinIOStorageService) DeleteAvatar(ctx context.Context, userID uint, objectKey string) error {
	if strings.TrimSpace(objectKey) == "" {
		return nil
	}
	if strings.Contains(objectKey, "..") || !strings.HasPrefix(objectKey, avatarPrefixFor(userID)) {
		return ErrUnauthorizedAccess
	}
	if err := s.lazyInit(ctx); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

func (s *MinIOStorageService) GenerateAvatarURL(ctx context.Context, objectKey string) (string, error) {
	if strings.TrimSpace(objectKey) == "" {
		return "", fmt.Errorf("%w: empty object key", ErrURLGenerationFailed)
	}
	if err := s.lazyInit(ctx); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectKey, presignedURLTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrURLGenerationFailed, err)
	}
	return u.String(), nil
}

func avatarPrefixFor(userID uint) string {
	return fmt.Sprintf("%s/%d/", avatarPathPrefix, userID)
}
