package storage

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"gitlab.com/transcodeuz/media-engine/models"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
)

type MinioStorage struct {
	log         logger.Logger
	minioClient *minio.Client
}

// NewMinioStorage ...
func NewMinioStorage(log logger.Logger, minioClient *minio.Client) *MinioStorage {
	return &MinioStorage{
		log:         log,
		minioClient: minioClient,
	}
}

func (s *MinioStorage) UploadToCloud(ctx context.Context, path string, target *models.CloudStorageConfig) (string, error) {
	key := ObjectKey(target, filepath.Base(path))
	s.log.Info("[UPLOADING] to minio", logger.String("filepath", path), logger.String("key", key))

	contentType, err := getFileContentType(path)
	if err != nil {
		s.log.Error("Error while getting file content type.", logger.Error(err))
		return "", err
	}

	res, err := s.minioClient.FPutObject(ctx, target.Bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.log.Error("Error while uploading to Minio", logger.Error(err))
		return "", err
	}

	s.log.Info("Object is uploaded", logger.Any("response", res))
	return key, nil
}

func getFileContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// Only the first 512 bytes are used to sniff the content type.
	buffer := make([]byte, 512)

	n, err := f.Read(buffer)
	if err != nil {
		return "", err
	}

	return http.DetectContentType(buffer[:n]), nil
}
