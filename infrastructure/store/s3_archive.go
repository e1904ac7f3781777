package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/ahrav/go-rubric/internal/domain"
	"github.com/ahrav/go-rubric/internal/ports"
)

var _ ports.GradeArchive = (*S3Archive)(nil)

// S3ArchiveConfig locates the archive bucket. AccessKey and SecretKey are
// optional; without them the default AWS credential chain is used.
type S3ArchiveConfig struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Archive writes one immutable JSON object per grading run.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archive loads AWS configuration and builds the archive. A custom
// Endpoint switches to path-style addressing for MinIO and other
// S3-compatible stores.
func NewS3Archive(ctx context.Context, cfg S3ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ArchiveFromClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3ArchiveFromClient wraps an existing S3 client.
func NewS3ArchiveFromClient(client *s3.Client, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

// Put implements ports.GradeArchive. Objects are keyed
// {prefix}{submissionID}/{uuid}.json and referenced as s3://bucket/key.
func (a *S3Archive) Put(ctx context.Context, submissionID string, grade domain.AggregatedGrade) (string, error) {
	body, err := json.Marshal(grade)
	if err != nil {
		return "", fmt.Errorf("s3 archive: encode grade: %w", err)
	}

	key := a.prefix + path.Join(submissionID, uuid.NewString()+".json")
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"submission-id": submissionID},
	})
	if err != nil {
		return "", fmt.Errorf("s3 archive: put %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// Get reads back a snapshot written by Put.
func (a *S3Archive) Get(ctx context.Context, ref string) (domain.AggregatedGrade, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return domain.AggregatedGrade{}, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.AggregatedGrade{}, fmt.Errorf("s3 archive: get %s: %w", ref, err)
	}
	defer out.Body.Close()

	var grade domain.AggregatedGrade
	if err := json.NewDecoder(out.Body).Decode(&grade); err != nil {
		return domain.AggregatedGrade{}, fmt.Errorf("s3 archive: decode %s: %w", ref, err)
	}
	return grade, nil
}

func parseS3Ref(ref string) (string, string, error) {
	const p = "s3://"
	if !strings.HasPrefix(ref, p) {
		return "", "", fmt.Errorf("bad s3 ref (missing s3://): %q", ref)
	}
	s := strings.TrimPrefix(ref, p)
	slash := strings.IndexByte(s, '/')
	if slash <= 0 || slash == len(s)-1 {
		return "", "", fmt.Errorf("bad s3 ref (need bucket/key): %q", ref)
	}
	return s[:slash], s[slash+1:], nil
}
