package storage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"gitlab.com/transcodeuz/media-engine/models"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
)

const (
	s3RetryCount = 5
	s3RetryDelay = 5 * time.Second
)

type S3Storage struct {
	log     logger.Logger
	session *session.Session
}

// NewS3Storage ...
func NewS3Storage(log logger.Logger, session *session.Session) *S3Storage {
	return &S3Storage{
		log:     log,
		session: session,
	}
}

func (s *S3Storage) UploadToCloud(ctx context.Context, path string, target *models.CloudStorageConfig) (string, error) {
	key := ObjectKey(target, filepath.Base(path))
	s.log.Info("[UPLOADING] to s3", logger.String("filepath", path), logger.String("key", key))

	contentType, err := getFileContentType(path)
	if err != nil {
		s.log.Error("Error while getting file content type.", logger.Error(err))
		return "", err
	}

	uploader := s3manager.NewUploader(s.session)

	for i := 0; i < s3RetryCount; i++ {
		err = s.upload(ctx, uploader, path, target.Bucket, key, contentType)
		if err == nil {
			return key, nil
		}

		s.log.Warn("upload to s3 failed, retrying", logger.Int("attempt", i+1), logger.Error(err))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s3RetryDelay):
		}
	}

	s.log.Error("Error while uploading the path to S3 bucket", logger.Error(err))
	return "", err
}

func (s *S3Storage) upload(ctx context.Context, uploader *s3manager.Uploader, path, bucket, key, contentType string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	// close file after uploading to CDN.
	defer file.Close()

	res, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return err
	}

	s.log.Info("Object is uploaded", logger.String("location", res.Location))
	return nil
}
