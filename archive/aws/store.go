package aws

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	aws_s3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zuko/billingz/archive"
)

// S3Store archives raw purchase payloads in an S3 bucket.
type S3Store struct {
	client *aws_s3.Client
	bucket string
}

// NewS3Store builds a store against the given bucket. A non-empty endpoint
// targets an S3-compatible service such as LocalStack.
func NewS3Store(accessKey, secretKey, endpoint, region, bucket string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("bucket cannot be empty")
	}

	cfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}
	if endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}

	return &S3Store{
		client: aws_s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

func (s *S3Store) Upload(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if data == nil {
		return errors.New("data cannot be nil")
	}

	input := &aws_s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		return errors.Wrap(err, "failed to upload payload to S3")
	}

	log.Debugf("Archived payload to s3://%s/%s", s.bucket, key)
	return nil
}

func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key cannot be empty")
	}

	input := &aws_s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}

	output, err := s.client.GetObject(ctx, input)
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") {
			return nil, archive.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to download payload from S3")
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read payload data")
	}

	return data, nil
}
