package promotion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nimbusworks/envlift/internal/models"
)

// RunArchiver keeps a durable copy of completed runs outside the database.
// ArchiveRun returns the location the copy was written to.
type RunArchiver interface {
	ArchiveRun(ctx context.Context, run *models.EnvironmentPromotion) (string, error)
}

// S3RunArchiver writes run JSON to S3 paths like:
//
//	s3://<bucket>/<prefix>/promotions/YYYY/MM/DD/<promotionID>.json
type S3RunArchiver struct {
	bucket   string
	prefix   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3RunArchiver creates an S3RunArchiver. Region and credentials come from
// the usual SDK environment (AWS_REGION, AWS_PROFILE, key pairs). The prefix
// may be empty.
func NewS3RunArchiver(ctx context.Context, bucket string, prefix string) (*S3RunArchiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	return &S3RunArchiver{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

// ArchiveRun uploads the full run record, keyed by its start date so a
// retention sweep can drop whole day prefixes.
func (s *S3RunArchiver) ArchiveRun(ctx context.Context, run *models.EnvironmentPromotion) (string, error) {
	if run == nil {
		return "", fmt.Errorf("nil run")
	}
	body, err := json.Marshal(run)
	if err != nil {
		return "", fmt.Errorf("marshal promotion %s: %w", run.ID, err)
	}

	ts := run.StartedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	year, month, day := ts.Date()
	objectKey := path.Join(s.prefix, "promotions",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", run.ID),
	)

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(objectKey),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return objectKey, nil
}

var _ RunArchiver = (*S3RunArchiver)(nil)
