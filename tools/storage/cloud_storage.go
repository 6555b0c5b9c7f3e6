package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/minio/minio-go/v7"
	minioCredentials "github.com/minio/minio-go/v7/pkg/credentials"
	"gitlab.com/transcodeuz/media-engine/models"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

// CloudOperationsI - possible actions with storage
type CloudOperationsI interface {
	UploadToCloud(ctx context.Context, filepath string, target *models.CloudStorageConfig) (string, error)
}

// NewCloudStorage picks minio or s3 from the message storage block
func NewCloudStorage(dynCfg *models.CloudStorageConfig, log logger.Logger) (CloudOperationsI, error) {
	switch dynCfg.Type {
	case "minio":
		minioClient, err := minio.New(dynCfg.Endpoint, &minio.Options{
			Creds:  minioCredentials.NewStaticV4(dynCfg.AccessKey, dynCfg.SecretKey, ""),
			Secure: dynCfg.Secure,
			Region: dynCfg.Region,
		})
		if err != nil {
			log.Error("Error while creating minio client: ", logger.Error(err))
			return nil, err
		}

		return NewMinioStorage(log, minioClient), nil
	case "s3":
		awsCfg := &aws.Config{
			Region:      aws.String(dynCfg.Region),
			Credentials: credentials.NewStaticCredentials(dynCfg.AccessKey, dynCfg.SecretKey, ""),
		}
		if dynCfg.Endpoint != "" {
			awsCfg.Endpoint = aws.String(dynCfg.Endpoint)
			awsCfg.S3ForcePathStyle = aws.Bool(true)
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			log.Error("Error while creating aws session: ", logger.Error(err))
			return nil, err
		}

		return NewS3Storage(log, sess), nil
	}

	return nil, fmt.Errorf("unknown storage type %q: %w", dynCfg.Type, transcoder.ErrInvalidParameter)
}

// ObjectKey joins the storage path and the file name
func ObjectKey(target *models.CloudStorageConfig, name string) string {
	if target.Path == "" {
		return name
	}
	return fmt.Sprintf("%s/%s", target.Path, name)
}
