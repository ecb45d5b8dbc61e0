// Package objectstore wraps an S3-compatible object store (AWS S3 or MinIO)
// behind the small put/get/exists/delete surface the warehouse needs,
// addressed by s3://bucket/key URIs.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/floelabs/icefloe/pkg/metrics"
	"github.com/floelabs/icefloe/utils/pkg/retry"
)

// ErrNotObjectURI is returned when a URI does not use the s3 scheme.
var ErrNotObjectURI = errors.New("not an s3 object URI")

type Config struct {
	Logger *slog.Logger

	Region   string
	Endpoint string // custom endpoint for S3-compatible services (MinIO)
	// Static credentials. Prefer the default AWS chain (env vars, IAM roles);
	// set these only for local MinIO.
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	Retry retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Client is a thin S3 wrapper. All operations are synchronous and retried on
// transient failures.
type Client struct {
	log *slog.Logger
	cfg Config
	s3  *s3.Client
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &Client{
		log: cfg.Logger,
		cfg: cfg,
		s3:  s3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// IsObjectURI reports whether the given location is an s3:// URI.
func IsObjectURI(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// ParseURI splits an s3://bucket/key URI.
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrNotObjectURI, uri, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrNotObjectURI, uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Put uploads a local file to the given object URI.
func (c *Client) Put(ctx context.Context, localPath, uri string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", localPath, err)
	}
	return c.PutBytes(ctx, data, uri)
}

// PutBytes uploads a byte payload to the given object URI.
func (c *Client) PutBytes(ctx context.Context, data []byte, uri string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}
	c.log.Debug("objectstore: put", "uri", uri, "bytes", len(data))
	start := time.Now()
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return fmt.Errorf("failed to put %s: %w", uri, err)
		}
		return nil
	})
	metrics.RecordObjectStoreOp("put", time.Since(start), err)
	return err
}

// Get downloads the object at the given URI.
func (c *Client) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	var data []byte
	start := time.Now()
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		resp, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to get %s: %w", uri, err)
		}
		defer resp.Body.Close()
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", uri, err)
		}
		return nil
	})
	metrics.RecordObjectStoreOp("get", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Exists reports whether an object exists at the given URI. A non-s3 URI
// reports false rather than erroring, matching the demo reset flow which
// probes arbitrary locations.
func (c *Client) Exists(ctx context.Context, uri string) (bool, error) {
	if !IsObjectURI(uri) {
		return false, nil
	}
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return false, err
	}
	exists := false
	start := time.Now()
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var nf *s3types.NotFound
			if errors.As(err, &nf) {
				exists = false
				return nil
			}
			return fmt.Errorf("failed to head %s: %w", uri, err)
		}
		exists = true
		return nil
	})
	metrics.RecordObjectStoreOp("head", time.Since(start), err)
	return exists, err
}

// Delete removes the object at the given URI. Returns true when a delete
// was issued; deleting a non-s3 URI is a no-op returning false.
func (c *Client) Delete(ctx context.Context, uri string) (bool, error) {
	if !IsObjectURI(uri) {
		return false, nil
	}
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return false, err
	}
	c.log.Debug("objectstore: delete", "uri", uri)
	start := time.Now()
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", uri, err)
		}
		return nil
	})
	metrics.RecordObjectStoreOp("delete", time.Since(start), err)
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnsureBucket creates the bucket if it does not already exist. Safe to run
// repeatedly; used to bootstrap a fresh MinIO instance.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		c.log.Debug("objectstore: bucket already present", "bucket", bucket)
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if c.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(c.cfg.Region),
		}
	}
	_, err = c.s3.CreateBucket(ctx, input)
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		var exists *s3types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	c.log.Info("objectstore: created bucket", "bucket", bucket)
	return nil
}
