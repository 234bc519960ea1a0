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
	"go.uber.org/zap"
)

const (
	// FolderUploads is the S3 prefix for original uploaded sources.
	FolderUploads = "uploads"
	// FolderRooms is the S3 prefix under which converted output lives.
	FolderRooms = "rooms"

	// ContentTypeManifest is the MIME type for HLS index manifests.
	ContentTypeManifest = "application/vnd.apple.mpegurl"
	// ContentTypeSegment is the MIME type for MPEG-TS segments.
	ContentTypeSegment = "video/MP2T"
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	VideosBucket         string
	PresignExpireMinutes int
}

// S3 provides blob operations against the videos bucket.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment
// (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
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
	} else if logger != nil {
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

// ConvertedPrefix returns the structured key prefix holding all converted
// output for a room: rooms/{roomId}/converted/.
func ConvertedPrefix(roomID string) string {
	return path.Join(FolderRooms, roomID, "converted") + "/"
}

// ConvertedTimestampPrefix returns the key prefix for one conversion attempt:
// rooms/{roomId}/converted/{timestamp}/.
func ConvertedTimestampPrefix(roomID string, timestamp int64) string {
	return path.Join(FolderRooms, roomID, "converted", fmt.Sprintf("%d", timestamp)) + "/"
}

// ConvertedKey returns the key for one converted output file:
// rooms/{roomId}/converted/{timestamp}/{filename}.
func ConvertedKey(roomID string, timestamp int64, filename string) string {
	return path.Join(FolderRooms, roomID, "converted", fmt.Sprintf("%d", timestamp), path.Base(filename))
}

// UploadKey returns the key for an original uploaded source: uploads/{name}.
func UploadKey(name string) string {
	return path.Join(FolderUploads, path.Base(name))
}

// HLSContentType maps an HLS output filename to its MIME type.
func HLSContentType(filename string) string {
	if strings.HasSuffix(filename, ".m3u8") {
		return ContentTypeManifest
	}
	if strings.HasSuffix(filename, ".ts") {
		return ContentTypeSegment
	}
	return "application/octet-stream"
}

// RoomIDFromKey extracts the room segment from a structured converted key
// (rooms/{roomId}/...). Returns "" when the key is not room-scoped.
func RoomIDFromKey(key string) string {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) >= 2 && parts[0] == FolderRooms && parts[1] != "" {
		return parts[1]
	}
	return ""
}

// Upload streams a reader to the videos bucket under key with contentType.
// Returns the public object URL.
func (s *S3) Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error) {
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.VideosBucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLengthPtr,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.PublicObjectURL(key), nil
}

// DeleteObject removes an object. S3 DeleteObject succeeds for missing keys,
// so repeated deletes are idempotent.
func (s *S3) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.VideosBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// ListKeys returns every object key under prefix, following pagination.
func (s *S3) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.VideosBucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

// GetObjectStream returns the object body and content type for streaming.
// Caller must close the body.
func (s *S3) GetObjectStream(ctx context.Context, key string) (body io.ReadCloser, contentType string, err error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.VideosBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", err
	}
	ct := ""
	if out.ContentType != nil {
		ct = *out.ContentType
	}
	return out.Body, ct, nil
}

// GeneratePresignedUploadURL returns a pre-signed PUT URL for direct browser upload.
func (s *S3) GeneratePresignedUploadURL(ctx context.Context, key, contentType string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.VideosBucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.PresignExpire()
	})
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return req.URL, nil
}

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// PublicObjectURL returns the public URL for an object in the videos bucket.
func (s *S3) PublicObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.VideosBucket, s.cfg.Region, key)
}
