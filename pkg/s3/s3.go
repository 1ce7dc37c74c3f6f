// Package s3 stores lease documents in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Alijeyrad/keystone_backend/config"
	"github.com/Alijeyrad/keystone_backend/pkg/blob"
)

// Store implements blob.Store. Objects are private; the returned URL is
// either under PublicBaseURL or a presigned GET.
type Store struct {
	s3         *s3.Client
	presig     *s3.PresignClient
	bucket     string
	publicBase string
	ttl        time.Duration
	timeout    time.Duration
}

var _ blob.Store = (*Store)(nil)

func New(ctx context.Context, cfg config.S3Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket name is required")
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx,
		awscfg.WithRegion(cfg.Region),
		awscfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}

	cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := time.Duration(cfg.PresignTTLSec) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	timeout := time.Duration(cfg.UploadTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Store{
		s3:         cli,
		presig:     s3.NewPresignClient(cli),
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		ttl:        ttl,
		timeout:    timeout,
	}, nil
}

func (c *Store) Put(ctx context.Context, obj blob.Object) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(obj.Key),
		Body:          bytes.NewReader(obj.Body),
		ContentLength: aws.Int64(int64(len(obj.Body))),
		ContentType:   aws.String(obj.MediaType()),
		ACL:           types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", classify(ctx, fmt.Errorf("s3 upload %q: %w", obj.Key, err))
	}
	return c.url(ctx, obj.Key)
}

// Read downloads an object by key with the store's own credentials, so it
// keeps working after any URL handed out for the object has expired.
func (c *Store) Read(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("s3 get %q: %w", key, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("s3 read %q: %w", key, err))
	}
	return data, nil
}

// Link returns a URL for key that a client can download from.
func (c *Store) Link(ctx context.Context, key string) (string, error) {
	return c.url(ctx, key)
}

func (c *Store) url(ctx context.Context, key string) (string, error) {
	if c.publicBase != "" {
		return c.publicBase + "/" + key, nil
	}
	req, err := c.presig.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign %q: %w", key, err)
	}
	return req.URL, nil
}

var authCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"InvalidToken":          true,
}

// classify maps credential rejections to blob.ErrUnauthorized, missing keys
// to blob.ErrNotFound and expired deadlines to blob.ErrTimeout, keeping the
// original error in the chain.
func classify(ctx context.Context, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return errors.Join(blob.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authCodes[apiErr.ErrorCode()] {
		return errors.Join(blob.ErrUnauthorized, err)
	}
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		switch status.HTTPStatusCode() {
		case 401, 403:
			return errors.Join(blob.ErrUnauthorized, err)
		case 404:
			return errors.Join(blob.ErrNotFound, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Join(blob.ErrTimeout, err)
	}
	return err
}
