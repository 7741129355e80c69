package timeseries

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/couchcryptid/storm-asset-linker/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/sony/gobreaker"
)

// ObjectGetter is the subset of the S3 client used by S3Source.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads time series from s3://<bucket>/<prefix>/<asset id>.csv
// with retries and a circuit breaker.
type S3Source struct {
	client     ObjectGetter
	bucket     string
	prefix     string
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	metrics    *observability.Metrics
}

// NewS3Source loads the default AWS credential chain for region.
func NewS3Source(ctx context.Context, region, bucket, prefix string, m *observability.Metrics) (*S3Source, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3SourceWithClient(s3.NewFromConfig(cfg), bucket, prefix, m), nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client ObjectGetter, bucket, prefix string, m *observability.Metrics) *S3Source {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "s3-timeseries",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &S3Source{
		client:     client,
		bucket:     bucket,
		prefix:     prefix,
		breaker:    cb,
		maxRetries: 3,
		backoff:    200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
		metrics:    m,
	}
}

// Fetch downloads the asset's object. Missing objects are not retried.
func (s *S3Source) Fetch(ctx context.Context, assetID string) ([]byte, error) {
	start := time.Now()
	key := path.Join(s.prefix, ObjectKey(assetID))

	backoff := s.backoff
	for attempt := 0; ; attempt++ {
		data, err := s.fetchOnce(ctx, key)
		if err == nil {
			s.observe(start, "ok")
			return data, nil
		}
		if errors.Is(err, ErrNotFound) {
			s.observe(start, "not_found")
			return nil, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || attempt >= s.maxRetries {
			s.observe(start, "error")
			return nil, err
		}
		if !retry.SleepWithContext(ctx, backoff) {
			s.observe(start, "cancelled")
			return nil, ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, s.maxBackoff)
	}
}

func (s *S3Source) fetchOnce(ctx context.Context, key string) ([]byte, error) {
	var notFound error
	out, err := s.breaker.Execute(func() (interface{}, error) {
		obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var nsk *types.NoSuchKey
			if errors.As(err, &nsk) {
				// Missing objects must not trip the breaker.
				notFound = fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotFound)
				return nil, nil
			}
			return nil, err
		}
		defer obj.Body.Close()
		return io.ReadAll(obj.Body)
	})
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return out.([]byte), nil
}

func (s *S3Source) observe(start time.Time, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.TimeseriesFetchDuration.WithLabelValues("s3", result).Observe(time.Since(start).Seconds())
}
