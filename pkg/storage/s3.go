package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxImageFileSize is the maximum allowed size for image uploads (10MB).
	MaxImageFileSize = 10 * 1024 * 1024
	// MaxVideoFileSize is the maximum allowed size for video uploads (500MB).
	MaxVideoFileSize = 500 * 1024 * 1024
	// FolderMedia is the S3 prefix for ad media.
	FolderMedia = "media"
)

// Media kinds returned by MediaKind.
const (
	KindImage = "image"
	KindVideo = "video"
)

// Allowed media MIME types and extensions.
var (
	AllowedMediaTypes = map[string]string{
		"image/jpeg":      ".jpg",
		"image/jpg":       ".jpg",
		"image/png":       ".png",
		"image/webp":      ".webp",
		"image/gif":       ".gif",
		"video/mp4":       ".mp4",
		"video/webm":      ".webm",
		"video/quicktime": ".mov",
	}
	AllowedMediaExtensions = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".webp": "image/webp",
		".gif":  "image/gif",
		".mp4":  "video/mp4",
		".webm": "video/webm",
		".mov":  "video/quicktime",
	}
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	MediaBucket     string
}

// UploadResult identifies an uploaded media object.
type UploadResult struct {
	URL         string `json:"url"`
	PublicID    string `json:"public_id"`
	ContentType string `json:"content_type"`
	MediaType   string `json:"media_type"`
	Size        int64  `json:"size"`
}

// S3 uploads and removes ad media.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using credentials from .env/config", zap.String("region", cfg.Region), zap.String("media_bucket", cfg.MediaBucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024 // 5MB parts for streaming
	})
	return &S3{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ContentTypeFor returns the allowed MIME type of an upload, preferring the declared type.
// ok is false when neither the type nor the extension is allowed.
func ContentTypeFor(contentType, filename string) (string, bool) {
	if ct := strings.ToLower(strings.TrimSpace(contentType)); ct != "" {
		if _, ok := AllowedMediaTypes[ct]; ok {
			return ct, true
		}
	}
	ext := strings.ToLower(path.Ext(filename))
	if ct, ok := AllowedMediaExtensions[ext]; ok {
		return ct, true
	}
	return "", false
}

// MediaKind returns KindVideo or KindImage for an allowed content type.
func MediaKind(contentType string) string {
	if strings.HasPrefix(contentType, "video/") {
		return KindVideo
	}
	return KindImage
}

// MaxSizeFor returns the size limit for a content type.
func MaxSizeFor(contentType string) int64 {
	if MediaKind(contentType) == KindVideo {
		return MaxVideoFileSize
	}
	return MaxImageFileSize
}

// MediaKey returns the S3 object key: media/{display_id}/{uuid}{ext}. The random part
// keeps re-uploads of the same filename from replacing media already scheduled.
func MediaKey(displayID, filename, contentType string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = AllowedMediaTypes[contentType]
	}
	return path.Join(FolderMedia, displayID, uuid.NewString()+ext)
}

// PublicObjectURL returns the public URL for an object in the media bucket.
func (s *S3) PublicObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.MediaBucket, s.cfg.Region, key)
}

// UploadMedia streams body to the media bucket under a fresh key for displayID.
func (s *S3) UploadMedia(ctx context.Context, displayID, filename, contentType string, body io.Reader, size int64) (*UploadResult, error) {
	key := MediaKey(displayID, filename, contentType)
	var contentLength *int64
	if size > 0 {
		contentLength = &size
	}
	start := time.Now()
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.MediaBucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLength,
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Info("media uploaded", zap.String("key", key), zap.Int64("bytes", size), zap.Duration("took", time.Since(start)))
	return &UploadResult{
		URL:         s.PublicObjectURL(key),
		PublicID:    key,
		ContentType: contentType,
		MediaType:   MediaKind(contentType),
		Size:        size,
	}, nil
}

// DeleteMedia removes an uploaded object by its public id.
func (s *S3) DeleteMedia(ctx context.Context, publicID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.MediaBucket),
		Key:    aws.String(publicID),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PublicIDFromURL returns the object key of a URL produced by PublicObjectURL, or "" when
// the URL points elsewhere.
func (s *S3) PublicIDFromURL(url string) string {
	prefix := s.PublicObjectURL("")
	if !strings.HasPrefix(url, prefix) {
		return ""
	}
	return strings.TrimPrefix(url, prefix)
}
