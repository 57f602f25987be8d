package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"go.uber.org/zap"
)

type Option func(*Repository)

func WithRegion(region string) Option {
	return func(r *Repository) {
		r.Region = region
	}
}

func WithBucket(bucket string) Option {
	return func(r *Repository) {
		r.Bucket = bucket
	}
}

func WithPrefix(prefix string) Option {
	return func(r *Repository) {
		r.Prefix = prefix
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

func WithForcePathStyle(forcePathStyle bool) Option {
	return func(r *Repository) {
		r.ForcePathStyle = forcePathStyle
	}
}

func WithEndpoint(endpoint string) Option {
	return func(r *Repository) {
		r.Endpoint = endpoint
	}
}

// WithUploader replaces the session backed uploader.
func WithUploader(uploader s3manageriface.UploaderAPI) Option {
	return func(r *Repository) {
		r.uploader = uploader
	}
}

// Repository uploads archive objects to a bucket.
type Repository struct {
	logger   *zap.Logger
	uploader s3manageriface.UploaderAPI

	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	ForcePathStyle bool
}

func New(opts ...Option) (*Repository, error) {
	r := &Repository{
		logger: zap.NewNop(),
	}

	for _, o := range opts {
		o(r)
	}

	if r.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	if r.uploader == nil {
		awsConfig := &aws.Config{
			Region:           aws.String(r.Region),
			S3ForcePathStyle: aws.Bool(r.ForcePathStyle),
		}
		if r.Endpoint != "" {
			awsConfig.Endpoint = aws.String(r.Endpoint)
		}

		sess, err := session.NewSession(awsConfig)
		if err != nil {
			return nil, err
		}
		r.uploader = s3manager.NewUploader(sess)
	}

	return r, nil
}

func (r *Repository) objectKey(key string) string {
	return path.Join(r.Prefix, key)
}

// Location returns the s3 URL key is written to.
func (r *Repository) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", r.Bucket, r.objectKey(key))
}

func (r *Repository) Write(ctx context.Context, key string, reader io.Reader) error {
	objKey := r.objectKey(key)

	r.logger.Debug(
		"S3 repository write",
		zap.String("key", key),
		zap.String("prefix", r.Prefix),
		zap.String("object_key", objKey),
		zap.String("bucket", r.Bucket),
	)

	// io.ReadSeeker lets the uploader avoid buffering each part
	body, ok := reader.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(reader)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	_, err := r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(objKey),
		Body:   body,
	})
	return err
}
