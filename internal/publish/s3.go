package publish

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Static S3 credentials. When unset the default AWS credential chain
// (environment, shared config, instance role) is used.
const (
	EnvS3AccessKey = "THREADER_S3_ACCESS_KEY_ID"
	EnvS3SecretKey = "THREADER_S3_SECRET_ACCESS_KEY"
)

// S3Options configure the S3 client.
type S3Options struct {
	Region string
	// Endpoint overrides the service endpoint for S3-compatible stores
	// (MinIO, Ceph). Path-style addressing is used when set.
	Endpoint string
}

// S3Uploader puts archives into a bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// NewS3Uploader loads the AWS configuration and builds a client for bucket.
func NewS3Uploader(ctx context.Context, bucket string, opts S3Options) (*S3Uploader, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if key, secret := os.Getenv(EnvS3AccessKey), os.Getenv(EnvS3SecretKey); key != "" && secret != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{client: client, bucket: bucket}, nil
}

// Upload puts localPath at key and returns its s3:// URL.
func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/gzip"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to s3://%s/%s: %w", u.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
