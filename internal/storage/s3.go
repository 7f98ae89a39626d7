package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store reads DEM objects from an S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket string
	Region string
	// Anonymous disables request signing, for public buckets such as
	// the LINZ NZ elevation bucket.
	Anonymous bool
}

// NewS3Store creates a store for the given bucket using the default
// AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: loading AWS config: %w", err)
	}
	var clientOpts []func(*s3.Options)
	if cfg.Anonymous {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.Credentials = aws.AnonymousCredentials{}
		})
	}
	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
	}, nil
}

// Bucket returns the configured bucket name.
func (s *S3Store) Bucket() string { return s.bucket }

// List enumerates the bucket with paginated ListObjectsV2 calls.
func (s *S3Store) List(ctx context.Context, opts ListOptions, fn func(ObjectInfo) error) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	p := s3.NewListObjectsV2Paginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("s3: listing %s: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			}
			if !opts.ModifiedAfter.IsZero() && !info.LastModified.After(opts.ModifiedAfter) {
				continue
			}
			if err := fn(info); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadRange issues a ranged GetObject.
func (s *S3Store) ReadRange(ctx context.Context, key string, off, n int64) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+n-1)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: range read %s: %w", key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: reading body of %s: %w", key, err)
	}
	return b, nil
}

// Stat issues a HeadObject.
func (s *S3Store) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("s3: head %s: %w", key, err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}
