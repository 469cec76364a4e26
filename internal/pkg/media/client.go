// Package media resolves stored video objects to short-lived presigned
// playback URLs. The object key itself never leaves the server; only the
// expiring URL does.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"
)

// Client wraps the S3 presign client with playback-specific functionality
type Client struct {
	presigner *s3.PresignClient
	s3Client  *s3.Client
	config    *Config
}

// NewClient creates a new video storage client
func NewClient(cfg *Config) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("video storage is disabled")
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
			// S3-compatible stores want path-style URLs.
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	log.Infof("[Media] Initialized video storage client for bucket: %s", cfg.BucketName)
	return &Client{
		presigner: s3.NewPresignClient(s3Client),
		s3Client:  s3Client,
		config:    cfg,
	}, nil
}

// PlaybackURL is a time-limited link to one stored video object.
type PlaybackURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PresignPlayback returns a presigned GET URL for a stored object.
func (c *Client) PresignPlayback(ctx context.Context, objectKey string) (*PlaybackURL, error) {
	if objectKey == "" {
		return nil, errors.New("object key is required")
	}

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.config.BucketName),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(c.config.URLTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to presign playback URL: %w", err)
	}

	return &PlaybackURL{
		URL:       req.URL,
		ExpiresAt: time.Now().Add(c.config.URLTTL),
	}, nil
}

var (
	globalClient *Client
	clientOnce   sync.Once
	clientErr    error
)

// GetClient returns the shared storage client, initializing it on first use.
// Returns an error when video storage is disabled or misconfigured.
func GetClient() (*Client, error) {
	clientOnce.Do(func() {
		cfg, err := LoadConfig()
		if err != nil {
			clientErr = err
			return
		}
		if !cfg.IsEnabled() {
			clientErr = errors.New("video storage is disabled")
			return
		}
		globalClient, clientErr = NewClient(cfg)
	})
	if clientErr != nil {
		return nil, clientErr
	}
	return globalClient, nil
}

// ObjectExists checks whether a stored video object is present in the
// bucket. A missing object and a failed check are distinct outcomes.
func (c *Client) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.config.BucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object %s: %w", objectKey, err)
	}
	return true, nil
}
