package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioMirror copies dumps to a MinIO/S3 bucket under backups/.
type MinioMirror struct {
	client *minio.Client
	bucket string
}

// NewMinioMirror connects and makes sure the bucket exists.
func NewMinioMirror(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioMirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioMirror{client: client, bucket: bucket}, nil
}

func (m *MinioMirror) Upload(ctx context.Context, name, path string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, "backups/"+name, path, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
