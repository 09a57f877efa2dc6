package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/crate-audio/crate/pkg/logger"
)

var log = logger.Get("Storage")

type (
	Config struct {
		Region        string `yaml:"region" env:"STORAGE_AWS_REGION" env-default:"us-east-1"`
		Bucket        string `yaml:"bucket" env:"STORAGE_BUCKET"`
		KeyPrefix     string `yaml:"key_prefix" env:"STORAGE_KEY_PREFIX" env-default:"crate"`
		PublicBaseURL string `yaml:"public_base_url" env:"STORAGE_PUBLIC_BASE_URL"`
	}

	// Uploader pushes processed artefacts (audio, waveforms, stems)
	// to the configured S3 bucket and reports their public URLs.
	Uploader struct {
		config   Config
		uploader *s3manager.Uploader
	}
)

func NewUploader(config Config) (*Uploader, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(config.Region)})
	if err != nil {
		return nil, fmt.Errorf("failed to construct AWS session: %w", err)
	}

	return &Uploader{config: config, uploader: s3manager.NewUploader(sess)}, nil
}

// Upload pushes the local file to the bucket under the key given
// (prefixed with the configured key prefix) and returns the public URL
// the artefact will be served from.
func (u *Uploader) Upload(ctx context.Context, localPath string, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for upload: %w", localPath, err)
	}
	defer file.Close()

	fullKey := u.config.KeyPrefix + "/" + strings.TrimPrefix(key, "/")
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.config.Bucket),
		Key:         aws.String(fullKey),
		Body:        file,
		ContentType: aws.String(contentType),
	}); err != nil {
		return "", fmt.Errorf("failed to upload %s to bucket %s: %w", localPath, u.config.Bucket, err)
	}

	publicURL := u.PublicURL(fullKey)
	log.Debugf("Uploaded %s to %s\n", localPath, publicURL)
	return publicURL, nil
}

// PublicURL maps an object key to the URL it is publicly served from.
// When no CDN base URL is configured, the bucket's regional S3 URL is
// used.
func (u *Uploader) PublicURL(fullKey string) string {
	if u.config.PublicBaseURL != "" {
		return strings.TrimSuffix(u.config.PublicBaseURL, "/") + "/" + fullKey
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.config.Bucket, u.config.Region, fullKey)
}
