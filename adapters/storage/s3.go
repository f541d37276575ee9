package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Skryldev/image-loader/config"
	apperrors "github.com/Skryldev/image-loader/errors"
	"github.com/Skryldev/image-loader/utils"
)

// S3API is the subset of *s3.Client the tier uses. Tests substitute a fake.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores encoded entries as objects named <prefix>/<shard>/<key>.
type S3 struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3 wraps an existing client.
func NewS3(client S3API, bucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "s3.open", errors.New("client must not be nil"))
	}
	if bucket == "" {
		return nil, apperrors.New(apperrors.CategoryConfig, "s3.open", errors.New("bucket is required"))
	}
	return &S3{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = 4
			u.LeavePartsOnError = false
		}),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// NewS3FromConfig builds a client from the default AWS credential chain.
// Endpoint and UsePathStyle allow S3-compatible stores.
func NewS3FromConfig(ctx context.Context, cfg config.S3Config) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "s3.open", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.DisableLogOutputChecksumValidationSkipped = true
	})
	return NewS3(client, cfg.Bucket, cfg.Prefix)
}

func (s *S3) objectKey(key string) string {
	return path.Join(s.prefix, shardOf(key), key)
}

func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, apperrors.Wrap(apperrors.CategoryStorage, "s3.get", err)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, apperrors.Transient("s3.get", err)
	}
	return out.Body, true, nil
}

// Put buffers the encoded entry and uploads it in one request; multipart
// kicks in only past the uploader's part size.
func (s *S3) Put(ctx context.Context, key string, write func(io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.put", err)
	}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := write(buf); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "s3.put.write", err)
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(int64(buf.Len())),
	})
	if err != nil {
		return apperrors.Transient("s3.put", err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.delete", err)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return apperrors.Transient("s3.delete", err)
	}
	return nil
}

// Close is a no-op; the SDK client has nothing to release.
func (s *S3) Close() error { return nil }

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

var _ Tier = (*S3)(nil)
