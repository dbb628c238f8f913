package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader is the subset of *s3.Client the service depends on, narrow
// enough to fake in tests without standing up a real S3 client.
type Uploader interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Service is the concrete Service backed by AWS S3.
type S3Service struct {
	client     Uploader
	bucket     string
	publicBase string
	getter     HTTPGetter
}

// S3Config configures an S3Service. PublicBaseURL, when set, is
// prepended to the object key to form the returned public URL (for a
// CloudFront distribution or a bucket website endpoint); when empty,
// the service composes the bucket's virtual-hosted URL,
// https://<bucket>.s3.amazonaws.com/<key>, which names no region.
type S3Config struct {
	Region        string
	Bucket        string
	PublicBaseURL string
}

// NewS3Service loads the default AWS credential chain (environment,
// shared config, EC2/ECS role) via config.LoadDefaultConfig and builds
// an s3.Client from it.
func NewS3Service(ctx context.Context, cfg S3Config, getter HTTPGetter) (*S3Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("thumbnail: loading AWS config: %w", err)
	}
	return &S3Service{
		client:     s3.NewFromConfig(awsCfg),
		bucket:     cfg.Bucket,
		publicBase: cfg.PublicBaseURL,
		getter:     getter,
	}, nil
}

// Store implements Service.
func (s *S3Service) Store(ctx context.Context, articleID int64, sourceURL string) (string, error) {
	body, contentType, err := fetchBody(ctx, s.getter, sourceURL)
	if err != nil {
		return "", err
	}

	key := keyFor(articleID, contentType)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("thumbnail: uploading %q to s3://%s/%s: %w", sourceURL, s.bucket, key, err)
	}

	if s.publicBase != "" {
		return strings.TrimRight(s.publicBase, "/") + "/" + key, nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key), nil
}
