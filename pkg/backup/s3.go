package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config points at an S3-compatible bucket (AWS, MinIO).
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// ObjectClient is the subset of *s3.Client used by S3Uploader.
type ObjectClient interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Uploader copies backup files to and from a bucket. Backups are already
// encrypted, so objects are stored as opaque bytes.
type S3Uploader struct {
	client ObjectClient
	bucket string
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3Uploader builds a client from cfg. Static credentials are used when
// AccessKey is set; otherwise the default AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("backup: s3 bucket is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("backup: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3UploaderWithClient(client, cfg.Bucket), nil
}

// NewS3UploaderWithClient wraps an existing client.
func NewS3UploaderWithClient(client ObjectClient, bucket string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket}
}

// Upload stores the file at path under key.
func (u *S3Uploader) Upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("backup: stat %s: %w", path, err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("backup: upload s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}

// Download writes the object at key to path with mode 0600. path must not
// exist.
func (u *S3Uploader) Download(ctx context.Context, key, path string) error {
	out, err := u.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("backup: download s3://%s/%s: %w", u.bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("backup: create %s: %w", path, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("backup: write %s: %w", path, err)
	}
	return f.Close()
}
