package objectstore

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds the configuration for S3-compatible uploads
type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint, e.g. a DigitalOcean Spaces host.
	Endpoint  string
	AccessKey string
	SecretKey string
	// PublicRead makes uploaded objects world-readable.
	PublicRead   bool
	UsePathStyle bool
}

// S3Storage stores blobs in one bucket.
type S3Storage struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3Storage builds a client from the default credential chain, or from
// static keys when both are set.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Storage{client: client, cfg: cfg}, nil
}

func (s *S3Storage) Reader(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get object %s: %w", key, err)
	}
	return object.Body, nil
}

// Writer streams into a multipart upload. The upload result is reported by
// Close.
func (s *S3Storage) Writer(ctx context.Context, key string) (io.WriteCloser, error) {
	uploader := manager.NewUploader(s.client)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}
	if s.cfg.PublicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	}

	reader, writer := io.Pipe()
	input.Body = reader
	w := &writeWaiter{WriteCloser: writer}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		_, err := uploader.Upload(ctx, input)
		if err != nil {
			w.err = fmt.Errorf("unable to upload %s: %w", key, err)
			_ = reader.CloseWithError(err)
		}
	}()

	return w, nil
}

type writeWaiter struct {
	io.WriteCloser
	wg  sync.WaitGroup
	err error
}

func (w *writeWaiter) Close() error {
	if err := w.WriteCloser.Close(); err != nil {
		return err
	}
	w.wg.Wait()
	return w.err
}
