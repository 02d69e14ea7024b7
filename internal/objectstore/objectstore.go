// Package objectstore moves document payloads between the per-environment
// S3 buckets during promotion and removes them again during rollback.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nimbusworks/envlift/internal/environment"
)

// Store is the payload surface the promotion flow needs. Copy duplicates an
// object into the target environment's bucket, Delete removes a copy during
// rollback, Exists answers preview checks.
type Store interface {
	Copy(ctx context.Context, source environment.Environment, sourceKey string, target environment.Environment, targetKey string) error
	Delete(ctx context.Context, env environment.Environment, key string) error
	Exists(ctx context.Context, env environment.Environment, key string) (bool, error)
}

// S3Store maps each environment to its own bucket. Credentials and region
// come from the usual AWS environment (AWS_REGION, AWS_PROFILE, key pairs).
type S3Store struct {
	buckets map[environment.Environment]string
	client  *s3.Client
}

func NewS3Store(ctx context.Context, buckets map[environment.Environment]string) (*S3Store, error) {
	if len(buckets) == 0 {
		return nil, fmt.Errorf("at least one environment bucket required")
	}
	for env, bucket := range buckets {
		if !env.Valid() {
			return nil, fmt.Errorf("bucket for unknown environment %q", env)
		}
		if bucket == "" {
			return nil, fmt.Errorf("empty bucket for environment %s", env)
		}
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Store{buckets: buckets, client: s3.NewFromConfig(cfg)}, nil
}

func (s *S3Store) bucketFor(env environment.Environment) (string, error) {
	bucket, ok := s.buckets[env]
	if !ok {
		return "", fmt.Errorf("no bucket configured for environment %s", env)
	}
	return bucket, nil
}

func (s *S3Store) Copy(ctx context.Context, source environment.Environment, sourceKey string, target environment.Environment, targetKey string) error {
	sourceBucket, err := s.bucketFor(source)
	if err != nil {
		return err
	}
	targetBucket, err := s.bucketFor(target)
	if err != nil {
		return err
	}
	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:               aws.String(targetBucket),
		Key:                  aws.String(targetKey),
		CopySource:           aws.String(url.PathEscape(sourceBucket + "/" + sourceKey)),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("copy s3://%s/%s to s3://%s/%s: %w", sourceBucket, sourceKey, targetBucket, targetKey, err)
	}
	return nil
}

// Delete is idempotent: S3 treats deleting a missing key as success, which is
// exactly what a retried rollback needs.
func (s *S3Store) Delete(ctx context.Context, env environment.Environment, key string) error {
	bucket, err := s.bucketFor(env)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, env environment.Environment, key string) (bool, error) {
	bucket, err := s.bucketFor(env)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}
	return true, nil
}
