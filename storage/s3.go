package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"hlsvault/config"
	"hlsvault/logger"
)

// S3 talks to AWS S3 or any S3-compatible server such as MinIO.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	region   string
}

// NewS3 builds one shared client. When PublicEndpoint is set, presigned URLs
// are signed for that host instead of the internal endpoint, so links handed
// to players resolve from outside the cluster.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3, error) {
	client := s3.New(s3Options(cfg, cfg.Endpoint))

	presignClient := client
	if cfg.PublicEndpoint != "" && cfg.PublicEndpoint != cfg.Endpoint {
		presignClient = s3.New(s3Options(cfg, cfg.PublicEndpoint))
	}

	logger.Debugf("s3 backend ready (endpoint=%q, region=%s, pathStyle=%v)", cfg.Endpoint, cfg.Region, cfg.UsePathStyle)
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(presignClient),
		region:   cfg.Region,
	}, nil
}

func s3Options(cfg config.S3Config, endpoint string) s3.Options {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	// Without keys the client signs anonymously, which public buckets accept.
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	if endpoint != "" {
		if !strings.Contains(endpoint, "://") {
			endpoint = "http://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return opts
}

func (s *S3) EnsureBucket(ctx context.Context, bucket string, publicRead bool) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if !isS3NotFound(err) {
		return opError("ensure-bucket", bucket, "", err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			// Lost a creation race with another caller; that caller owns the policy.
			return nil
		}
		return opError("create-bucket", bucket, "", err)
	}
	logger.Infof("created bucket %s", bucket)

	if !publicRead {
		return nil
	}
	policy, err := publicReadPolicy(bucket)
	if err != nil {
		return opError("set-policy", bucket, "", err)
	}
	if _, err := s.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(policy),
	}); err != nil {
		return opError("set-policy", bucket, "", err)
	}
	logger.Infof("attached public-read policy to bucket %s", bucket)
	return nil
}

type policyStatement struct {
	Action    []string            `json:"Action"`
	Effect    string              `json:"Effect"`
	Principal map[string][]string `json:"Principal"`
	Resource  []string            `json:"Resource"`
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

// publicReadPolicy allows anonymous GetObject on every key and nothing else.
func publicReadPolicy(bucket string) (string, error) {
	p := bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Action:    []string{"s3:GetObject"},
			Effect:    "Allow",
			Principal: map[string][]string{"AWS": {"*"}},
			Resource:  []string{fmt.Sprintf("arn:aws:s3:::%s/*", bucket)},
		}},
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *S3) PutObject(ctx context.Context, bucket, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return opError("put", bucket, key, err)
	}
	defer f.Close()

	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return opError("put", bucket, key, err)
	}
	logger.Debugf("uploaded %s to s3://%s/%s", localPath, bucket, key)
	return nil
}

func (s *S3) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, opError("get", bucket, key, classifyS3(err))
	}
	return out.Body, nil
}

func (s *S3) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return opError("delete", bucket, key, err)
	}
	return nil
}

func (s *S3) StatObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, opError("stat", bucket, key, classifyS3(err))
	}
	return ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *S3) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL(ttl)))
	if err != nil {
		return "", opError("presign", bucket, key, err)
	}
	return req.URL, nil
}

// classifyS3 maps missing-object API errors onto ErrNotFound and keeps the
// original error in the chain.
func classifyS3(err error) error {
	if isS3NotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &notFound) || errors.As(err, &noBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}
