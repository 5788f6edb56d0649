package consumption

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectGetter is the subset of the S3 client used by S3Source
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads the reference workbook from object storage
type S3Source struct {
	Bucket string
	Key    string
	Sheet  string

	client ObjectGetter
}

// IsS3URI reports whether location points at object storage.
func IsS3URI(location string) bool {
	return strings.HasPrefix(location, "s3://")
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid dataset uri %q: %w", uri, err)
	}
	if u.Scheme != "s3" || u.Host == "" || strings.TrimPrefix(u.Path, "/") == "" {
		return "", "", fmt.Errorf("invalid dataset uri %q: expected s3://bucket/key", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// NewS3Source builds a source from an s3:// URI using the default AWS
// credential chain.
func NewS3Source(ctx context.Context, uri string) (*S3Source, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3SourceWithClient(s3.NewFromConfig(cfg), bucket, key), nil
}

// NewS3SourceWithClient builds a source around an existing client
func NewS3SourceWithClient(client ObjectGetter, bucket, key string) *S3Source {
	return &S3Source{Bucket: bucket, Key: key, client: client}
}

// Rows implements Source
func (s *S3Source) Rows(ctx context.Context) ([][]string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			return nil, fmt.Errorf("%w (s3://%s/%s)", ErrDatasetNotFound, s.Bucket, s.Key)
		}
		return nil, fmt.Errorf("failed to fetch s3://%s/%s: %w", s.Bucket, s.Key, err)
	}
	defer out.Body.Close()
	return ReadWorkbook(out.Body, s.Sheet)
}

// Describe implements Source
func (s *S3Source) Describe() string {
	return fmt.Sprintf("s3://%s/%s", s.Bucket, s.Key)
}

// NewSource picks the source for a configured location: an s3:// URI, or a
// path probed before the conventional candidates.
func NewSource(ctx context.Context, location string) (Source, error) {
	if IsS3URI(location) {
		return NewS3Source(ctx, location)
	}
	return NewFileSource(location), nil
}
