package resultstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/scheduler"
)

// Store persists generation artifacts: the blob goes to S3-compatible object
// storage, the metadata row to the database. Implements the scheduler's
// ResultStore.
type Store struct {
	s3Client *s3.Client
	presign  *s3.PresignClient
	db       *gorm.DB
	config   *Config
}

// NewStore creates an object-storage backed artifact store.
func NewStore(cfg *Config, db *gorm.DB) (*Store, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("artifact store is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible endpoints (MinIO etc) need path-style URLs.
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	store := &Store{
		s3Client: s3Client,
		presign:  s3.NewPresignClient(s3Client),
		db:       db,
		config:   cfg,
	}

	if _, err := s3Client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(cfg.BucketName),
	}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}

	log.Infof("[ResultStore] initialized for bucket %s", cfg.BucketName)
	return store, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

// Save uploads the image and records the artifact row. The upload happens
// first so a DB failure leaves at worst an orphaned object, never a row
// pointing at a missing blob.
func (s *Store) Save(ctx context.Context, job *models.GenerationJob, img *scheduler.GeneratedImage) (*models.Artifact, error) {
	objectKey := s.config.ObjectKey(job.JobUUID, extensionFor(img.ContentType), time.Now())

	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.BucketName),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(img.Data),
		ContentType:   aws.String(img.ContentType),
		ContentLength: aws.Int64(int64(len(img.Data))),
		Metadata: map[string]string{
			"job-uuid": job.JobUUID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload artifact for job %s: %w", job.JobUUID, err)
	}

	artifact := &models.Artifact{
		JobID:       job.ID,
		UserID:      job.UserID,
		ObjectKey:   objectKey,
		BucketName:  s.config.BucketName,
		ContentType: img.ContentType,
		SizeBytes:   int64(len(img.Data)),
	}
	if err := s.db.Create(artifact).Error; err != nil {
		return nil, fmt.Errorf("failed to record artifact for job %s: %w", job.JobUUID, err)
	}

	log.Infof("[ResultStore] stored artifact s3://%s/%s (%d bytes)",
		s.config.BucketName, objectKey, len(img.Data))
	return artifact, nil
}

// URL returns a presigned download link for an artifact.
func (s *Store) URL(ctx context.Context, artifact *models.Artifact, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(artifact.BucketName),
		Key:    aws.String(artifact.ObjectKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign artifact %d: %w", artifact.ID, err)
	}
	return req.URL, nil
}

// LocalStore writes artifacts to the filesystem for development runs without
// object storage. Download URLs are served by the artifact file handler.
type LocalStore struct {
	baseDir string
	db      *gorm.DB
}

func NewLocalStore(baseDir string, db *gorm.DB) *LocalStore {
	return &LocalStore{baseDir: baseDir, db: db}
}

func (s *LocalStore) Save(_ context.Context, job *models.GenerationJob, img *scheduler.GeneratedImage) (*models.Artifact, error) {
	now := time.Now()
	rel := fmt.Sprintf("artifacts/%04d/%02d/%s.%s", now.Year(), int(now.Month()), job.JobUUID, extensionFor(img.ContentType))
	full := filepath.Join(s.baseDir, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(full, img.Data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write artifact for job %s: %w", job.JobUUID, err)
	}

	artifact := &models.Artifact{
		JobID:       job.ID,
		UserID:      job.UserID,
		ObjectKey:   rel,
		BucketName:  "local",
		ContentType: img.ContentType,
		SizeBytes:   int64(len(img.Data)),
	}
	if err := s.db.Create(artifact).Error; err != nil {
		return nil, fmt.Errorf("failed to record artifact for job %s: %w", job.JobUUID, err)
	}
	return artifact, nil
}

// Path returns the filesystem location of a locally stored artifact.
func (s *LocalStore) Path(artifact *models.Artifact) string {
	return filepath.Join(s.baseDir, artifact.ObjectKey)
}
