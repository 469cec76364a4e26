package media

import (
	"errors"
	"time"

	"github.com/StyleLoft/StyleLoft/internal/pkg/env"
)

// Config holds video storage configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	URLTTL          time.Duration
	Enabled         bool
}

// LoadConfig loads video storage configuration from environment variables
func LoadConfig() (*Config, error) {
	ttl := 15 * time.Minute
	if v, err := time.ParseDuration(env.GetEnv("VIDEO_S3_URL_TTL", "15m")); err == nil && v > 0 {
		ttl = v
	}

	config := &Config{
		AccessKeyID:     env.GetEnv("VIDEO_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("VIDEO_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("VIDEO_S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("VIDEO_S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("VIDEO_S3_ENDPOINT_URL", ""),
		URLTTL:          ttl,
		Enabled:         env.GetEnv("VIDEO_S3_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("VIDEO_S3_ACCESS_KEY_ID is required when video storage is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("VIDEO_S3_SECRET_ACCESS_KEY is required when video storage is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("VIDEO_S3_BUCKET_NAME is required when video storage is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if video storage is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}
