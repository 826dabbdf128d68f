// Package s3client reads and writes history files stored in S3-compatible
// object storage, addressed as s3://bucket/key.
package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/kuitang/cmdhist/internal/errs"
	"github.com/kuitang/cmdhist/internal/obs"
)

// Scheme prefixes object locations.
const Scheme = "s3://"

const contentType = "text/plain; charset=utf-8"

// Location names one object.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return Scheme + l.Bucket + "/" + l.Key
}

// IsURL reports whether s names an object rather than a local path.
func IsURL(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURL parses s3://bucket/key. Both parts are required.
func ParseURL(s string) (Location, error) {
	if !IsURL(s) {
		return Location{}, errs.New(errs.InvalidArgument, fmt.Sprintf("%q is not an s3:// URL", s))
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(s, Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return Location{}, errs.New(errs.InvalidArgument, fmt.Sprintf("%q must be s3://bucket/key", s))
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// Client wraps an S3 client.
type Client struct {
	s3Client *s3.Client
}

// Config holds the configuration for creating an S3 client.
type Config struct {
	// Endpoint is the S3 endpoint URL. Leave empty to use AWS S3.
	Endpoint string
	// Region is the AWS region ("auto" for most S3-compatible services).
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle enables path-style addressing (required for some S3-compatible services).
	UsePathStyle bool
}

// New creates a new S3 client with the given configuration. Without static
// keys the SDK's default credential chain is used.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error

	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "failed to load AWS config", err)
	}

	s3Client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &Client{s3Client: s3Client}, nil
}

// NewFromS3Client creates a Client from an existing S3 client.
func NewFromS3Client(s3Client *s3.Client) *Client {
	return &Client{s3Client: s3Client}
}

// Put stores content at loc. Objects are private.
func (c *Client) Put(ctx context.Context, loc Location, content []byte) error {
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(loc.Bucket),
		Key:         aws.String(loc.Key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("failed to write %s", loc), err)
	}
	obs.From(ctx).Debug("s3 put", "pkg", "s3client", "object", loc.String(), "bytes", len(content))
	return nil
}

// Get retrieves the content stored at loc.
// Returns an errs.NotFound error if the key does not exist.
func (c *Client) Get(ctx context.Context, loc Location) ([]byte, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var notFound *types.NotFound
		var noBucket *types.NoSuchBucket
		if errors.As(err, &nsk) || errors.As(err, &notFound) || errors.As(err, &noBucket) {
			return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("%s does not exist", loc), err)
		}
		return nil, errs.Wrap(errs.Unavailable, fmt.Sprintf("failed to read %s", loc), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, fmt.Sprintf("failed to read %s", loc), err)
	}
	obs.From(ctx).Debug("s3 get", "pkg", "s3client", "object", loc.String(), "bytes", len(data))
	return data, nil
}
