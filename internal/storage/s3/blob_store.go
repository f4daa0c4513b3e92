// Package s3 provides a BlobStore for S3-compatible object storage such as
// Huawei OBS or MinIO.
package s3

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultRegion = "us-east-1"

// Config captures the parameters required to reach the bucket.
type Config struct {
	AccessKey string
	SecretKey string
	// Endpoint is the service host, e.g. obs.cn-south-1.myhuaweicloud.com.
	Endpoint string
	Region   string
	Bucket   string
	// Folder prefixes every object key, e.g. "csrc_gov/".
	Folder string
	// Scheme used for API calls; durable paths always use http.
	Scheme string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

// BlobStore uploads artifacts with PutObject.
type BlobStore struct {
	client putObjectAPI
	bucket string
	folder string
	base   string
}

// New creates an S3-backed blob store with static credentials.
func New(ctx context.Context, cfg Config) (*BlobStore, error) {
	if cfg.Bucket == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("bucket and endpoint are required")
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(scheme + "://" + cfg.Endpoint)
	})
	return newWithClient(client, cfg), nil
}

func newWithClient(client putObjectAPI, cfg Config) *BlobStore {
	folder := strings.TrimPrefix(cfg.Folder, "/")
	if folder != "" && !strings.HasSuffix(folder, "/") {
		folder += "/"
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		folder: folder,
		base:   fmt.Sprintf("http://%s.%s/%s", cfg.Bucket, cfg.Endpoint, folder),
	}
}

// PutFile uploads localPath as folder+object and returns its public path.
func (s *BlobStore) PutFile(ctx context.Context, object, localPath, contentType string) (string, error) {
	if strings.TrimSpace(object) == "" {
		return "", fmt.Errorf("object name is required")
	}
	f, err := os.Open(localPath) // #nosec G304 -- path from the stage cache dir
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close() //nolint:errcheck // read-only
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}
	input := &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.folder + object),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", object, err)
	}
	return s.base + object, nil
}

// ObjectName strips the bucket base from a path produced by PutFile.
func (s *BlobStore) ObjectName(durablePath string) (string, bool) {
	name, ok := strings.CutPrefix(durablePath, s.base)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
