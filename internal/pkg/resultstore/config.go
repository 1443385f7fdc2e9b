package resultstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/env"
)

// Config holds the artifact object-storage configuration.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads object-storage configuration from environment variables.
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnv("ARTIFACT_STORE_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the artifact store is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the artifact store is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the artifact store is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if the object-storage artifact store is configured.
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// ObjectKey generates the object key for a finished job's artifact.
// Format: artifacts/YYYY/MM/<job uuid>.<ext>
func (c *Config) ObjectKey(jobUUID, ext string, at time.Time) string {
	return fmt.Sprintf("artifacts/%04d/%02d/%s.%s", at.Year(), int(at.Month()), jobUUID, ext)
}
