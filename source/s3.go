package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type S3Options struct {
	Bucket    string `env:"BUCKET"`
	Prefix    string `env:"PREFIX"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	PathStyle bool   `env:"PATH_STYLE"`
}

// S3Client is the part of the S3 API used by S3. *s3.Client satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds a client from the default AWS config chain, overridden
// by static credentials and a custom endpoint when set.
func NewS3Client(ctx context.Context, options S3Options) (*s3.Client, error) {
	if options.Bucket == "" {
		return nil, fmt.Errorf("s3 source needs a bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(options.Region),
	}
	if options.AccessKey != "" && options.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(options.AccessKey, options.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if options.Endpoint != "" {
			o.BaseEndpoint = aws.String(options.Endpoint)
			// S3-compatible stores rarely support virtual-hosted buckets
			o.UsePathStyle = true
		}
		if options.PathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// S3 reads bundle files from bucket under prefix.
type S3 struct {
	client S3Client
	bucket string
	prefix string
}

func NewS3(client S3Client, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !validName(name) {
		return nil, fmt.Errorf("opening %q: invalid file name", name)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("fetching %s: %w", name, os.ErrNotExist)
		}
		return nil, fmt.Errorf("fetching %s: %w", name, err)
	}
	return out.Body, nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
