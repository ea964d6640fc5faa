package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/reproserver/reproserver/pkg/log"
)

// Valid bucket names. Everything reproserver stores falls into one of
// these three.
const (
	BucketExperiments = "experiments"
	BucketInputs      = "inputs"
	BucketOutputs     = "outputs"
)

// Store is the object-store interface the rest of the system uses.
type Store interface {
	// UploadFile stores an object under bucket/key.
	UploadFile(ctx context.Context, bucket, key string, body io.Reader, size int64) error

	// DownloadURL returns a time-limited signed URL reachable from workers.
	DownloadURL(ctx context.Context, bucket, key string) (string, error)

	// ServeURL returns a time-limited signed URL reachable from browsers,
	// with a content disposition for the given filename. The web frontend
	// hands these out when a user downloads a bundle or an output file.
	ServeURL(ctx context.Context, bucket, key, filename, mime string) (string, error)

	// Check reports whether the object store is reachable.
	Check(ctx context.Context) error
}

// Config holds the S3 connection settings.
type Config struct {
	// URL is the endpoint used internally (control plane and workers)
	URL string
	// ClientURL is the endpoint reachable from browsers
	ClientURL string
	AccessKey string
	SecretKey string
	// BucketPrefix is prepended to all bucket names
	BucketPrefix string
}

// S3Store implements Store against an S3-compatible object store.
type S3Store struct {
	client        *s3.Client
	presign       *s3.PresignClient
	clientPresign *s3.PresignClient
	endpoint      string
	bucketPrefix  string
}

// New connects to the object store.
func New(cfg Config) (*S3Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("objectstore: no endpoint configured")
	}
	if cfg.ClientURL == "" {
		cfg.ClientURL = cfg.URL
	}
	log.Info("Logging in to S3")

	awsCfg, err := awsconfig.LoadDefaultConfig(
		context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: %w", err)
	}

	newClient := func(endpoint string) *s3.Client {
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			// MinIO and GCS interop need path-style addressing
			o.UsePathStyle = true
		})
	}
	internal := newClient(cfg.URL)
	client := newClient(cfg.ClientURL)

	return &S3Store{
		client:        internal,
		presign:       s3.NewPresignClient(internal),
		clientPresign: s3.NewPresignClient(client),
		endpoint:      cfg.URL,
		bucketPrefix:  cfg.BucketPrefix,
	}, nil
}

func (s *S3Store) bucketName(name string) (string, error) {
	switch name {
	case BucketExperiments, BucketInputs, BucketOutputs:
		return s.bucketPrefix + name, nil
	default:
		return "", fmt.Errorf("invalid bucket name %s", name)
	}
}

// UploadFile stores an object. A single PutObject is used rather than a
// multipart upload, which doesn't work against GCS's S3 layer.
func (s *S3Store) UploadFile(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	name, err := s.bucketName(bucket)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(name),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// DownloadURL returns a presigned GET on the internal endpoint.
func (s *S3Store) DownloadURL(ctx context.Context, bucket, key string) (string, error) {
	name, err := s.bucketName(bucket)
	if err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(name),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(time.Hour))
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

// ServeURL returns a presigned GET on the client endpoint, served inline
// under the given filename.
func (s *S3Store) ServeURL(ctx context.Context, bucket, key, filename, mime string) (string, error) {
	name, err := s.bucketName(bucket)
	if err != nil {
		return "", err
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	req, err := s.clientPresign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(name),
		Key:                        aws.String(key),
		ResponseContentType:        aws.String(mime),
		ResponseContentDisposition: aws.String("inline; filename=" + filename),
	}, s3.WithPresignExpires(time.Hour))
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, key, err)
	}
	return req.URL, nil
}

// EnsureBuckets creates the buckets that don't exist yet.
func (s *S3Store) EnsureBuckets(ctx context.Context) error {
	for _, name := range []string{BucketExperiments, BucketInputs, BucketOutputs} {
		full, _ := s.bucketName(name)
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(full),
		})
		if err == nil {
			continue
		}
		var nf *s3types.NotFound
		if !errors.As(err, &nf) {
			log.Warn(fmt.Sprintf("Head bucket %s: %v", full, err))
		}
		log.Info(fmt.Sprintf("Creating bucket %s", full))
		if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(full),
		}); err != nil {
			return fmt.Errorf("create bucket %s: %w", full, err)
		}
	}
	return nil
}

// Check probes the object store endpoint with a short timeout.
func (s *S3Store) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.New("S3 unavailable")
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 500 {
		return errors.New("S3 failing")
	}
	return nil
}
