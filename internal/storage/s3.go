package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"qepo_backend/internal/logger"
	"qepo_backend/internal/model"
)

// S3Config holds configuration for the S3 store.
type S3Config struct {
	Endpoint        string // empty for AWS, set for Supabase Storage, R2 or MinIO
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// PublicURL is the prefix objects are served from, e.g.
	// https://<ref>.supabase.co/storage/v1/object/public
	PublicURL   string
	MaxAttempts int
}

// S3Store implements ObjectStore on aws-sdk-go-v2.
type S3Store struct {
	client    *s3.Client
	publicURL string
}

// NewS3Store builds the process-wide S3 client. Transient upload failures are
// retried by the SDK retryer; callers only retry whole uploads because keys
// are deterministic.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.PublicURL == "" {
		return nil, fmt.Errorf("missing object storage configuration")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), cfg.MaxAttempts)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for storage: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:    client,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}, nil
}

// Upload puts the object. With overwrite false the write is conditional on
// the key being absent.
func (s *S3Store) Upload(ctx context.Context, bucket, key string, data []byte, contentType string, overwrite bool) (string, error) {
	start := time.Now()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(model.AvatarCacheControl),
	}
	if !overwrite {
		input.IfNoneMatch = aws.String("*")
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		var re *awshttp.ResponseError
		if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusPreconditionFailed {
			return "", ErrObjectExists
		}
		return "", fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}

	logger.Ctx(ctx).Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("object uploaded")

	return key, nil
}

func (s *S3Store) GetPublicURL(bucket, path string) string {
	return PublicURL(s.publicURL, bucket, path)
}

// PublicURL joins a public prefix, bucket and object path, escaping each
// path segment.
func PublicURL(prefix, bucket, path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(prefix, "/"), url.PathEscape(bucket), strings.Join(segments, "/"))
}
