package fiomark

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/tcnksm/go-httpstat"
)

type S3Store struct {
	delegate *s3.Client
	cfg      *S3StoreConfig
}

type S3StoreConfig struct {
	Region   string
	Endpoint string
	Insecure bool
	Timeout  time.Duration
}

func NewS3Store(ctx context.Context, storeConfig *S3StoreConfig) (*S3Store, error) {
	var opts []func(*config.LoadOptions) error

	// custom endpoints (MinIO, Ceph RGW, ...) replace the AWS resolver
	if storeConfig.Endpoint != "" {
		customResolver := aws.EndpointResolverFunc(func(service, region string) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL: storeConfig.Endpoint,
			}, nil
		})
		opts = append(opts, config.WithEndpointResolver(customResolver))
	}

	// gets the AWS credentials from the environment, the default file or the instance profile
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load AWS SDK config")
	}

	if storeConfig.Region != "" {
		cfg.Region = storeConfig.Region
	}

	timeout := storeConfig.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	cfg.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: storeConfig.Insecure},
		},
	}

	// custom endpoints don't generally work with the bucket in the host prefix
	usePathStyle := func(options *s3.Options) {
		options.UsePathStyle = storeConfig.Endpoint != ""
	}

	return &S3Store{
		delegate: s3.NewFromConfig(cfg, usePathStyle),
		cfg:      storeConfig,
	}, nil
}

func (c *S3Store) CreateBucket(ctx context.Context, bucketName string) (Timing, error) {
	var result httpstat.Result
	start := time.Now()

	_, err := c.delegate.CreateBucket(httpstat.WithHTTPStat(ctx, &result), &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})

	return TimingFromStat(&result, time.Since(start)), errors.Wrapf(err, "creating bucket %s", bucketName)
}

func (c *S3Store) PutObject(ctx context.Context, bucketName string, key string, reader *bytes.Reader, contentType string) (Timing, error) {
	var result httpstat.Result
	start := time.Now()

	_, err := c.delegate.PutObject(httpstat.WithHTTPStat(ctx, &result), &s3.PutObjectInput{
		Bucket:      aws.String(bucketName),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(contentType),
	})

	return TimingFromStat(&result, time.Since(start)), errors.Wrapf(err, "putting object %s/%s", bucketName, key)
}

func (c *S3Store) GetObject(ctx context.Context, bucketName string, key string) (Timing, io.ReadCloser, error) {
	var result httpstat.Result
	start := time.Now()

	resp, err := c.delegate.GetObject(httpstat.WithHTTPStat(ctx, &result), &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
	})
	timing := TimingFromStat(&result, time.Since(start))
	if err != nil {
		return timing, nil, errors.Wrapf(err, "getting object %s/%s", bucketName, key)
	}

	return timing, resp.Body, nil
}

func (c *S3Store) DeleteObject(ctx context.Context, bucketName string, key string) (Timing, error) {
	var result httpstat.Result
	start := time.Now()

	_, err := c.delegate.DeleteObject(httpstat.WithHTTPStat(ctx, &result), &s3.DeleteObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
	})
	return TimingFromStat(&result, time.Since(start)), errors.Wrapf(err, "deleting object %s/%s", bucketName, key)
}
