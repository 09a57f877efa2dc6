package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/crate-audio/crate/pkg/logger"
)

var log = logger.Get("Downloader")

type (
	Config struct {
		OutputDir        string        `yaml:"output_dir" env:"DOWNLOAD_OUTPUT_DIR" env-default:"/tmp/crate/downloads"`
		AttemptTimeout   time.Duration `yaml:"attempt_timeout" env:"DOWNLOAD_ATTEMPT_TIMEOUT" env-default:"3m"`
		RetriesPerTarget int           `yaml:"retries_per_target" env:"DOWNLOAD_RETRIES" env-default:"2"`
		RetryBackoff     time.Duration `yaml:"retry_backoff" env:"DOWNLOAD_RETRY_BACKOFF" env-default:"5s"`

		YtDlp         YtDlpConfig         `yaml:"yt_dlp"`
		ExtractionAPI ExtractionAPIConfig `yaml:"extraction_api"`
	}

	// Strategy is one way of turning a source URL into a local media
	// file. Strategies are attempted in order; a ContentError from any
	// strategy aborts the whole download.
	Strategy interface {
		Name() string
		Download(ctx context.Context, sourceURL string, outputDir string) (*MediaDescriptor, error)
	}

	Downloader struct {
		config     Config
		strategies []Strategy
	}
)

// New constructs a downloader with the default strategy order: yt-dlp
// first, the hosted extraction API as fallback. The extraction API
// strategy is only registered when a base URL is configured.
func New(config Config) *Downloader {
	strategies := []Strategy{newYtDlpStrategy(config.YtDlp)}
	if config.ExtractionAPI.BaseURL != "" {
		strategies = append(strategies, newExtractionAPIStrategy(config.ExtractionAPI))
	}

	return &Downloader{config: config, strategies: strategies}
}

// NewWithStrategies constructs a downloader over an explicit strategy
// order.
func NewWithStrategies(config Config, strategies ...Strategy) *Downloader {
	return &Downloader{config: config, strategies: strategies}
}

// Download resolves the source URL to a local media file, walking the
// configured strategies in order with bounded retries per strategy.
// A ContentError from any strategy is returned immediately: no other
// strategy can rescue content which is gone. The successful
// descriptor's video ID is checked against the ID embedded in the
// source URL (when the URL carries one) to catch strategies resolving
// the wrong video.
func (d *Downloader) Download(ctx context.Context, sourceURL string) (*MediaDescriptor, error) {
	platform, err := DetectPlatform(sourceURL)
	if err != nil {
		return nil, err
	}
	expectedID := ExtractVideoID(platform, sourceURL)

	var failures []error
	for _, strategy := range d.strategies {
		descriptor, err := d.attemptStrategy(ctx, strategy, sourceURL)
		if err != nil {
			if IsContentError(err) {
				return nil, err
			}

			log.Warnf("Strategy %s failed for %s: %v\n", strategy.Name(), sourceURL, err)
			failures = append(failures, err)
			continue
		}

		if expectedID != "" && descriptor.ID != expectedID {
			failures = append(failures, &StrategyError{
				Strategy: strategy.Name(),
				cause:    fmt.Errorf("resolved video %s but the source URL names video %s", descriptor.ID, expectedID),
			})
			continue
		}

		return descriptor, nil
	}

	return nil, &AllStrategiesFailedError{Errors: failures}
}

func (d *Downloader) attemptStrategy(ctx context.Context, strategy Strategy, sourceURL string) (*MediaDescriptor, error) {
	var lastErr error
	for attempt := 0; attempt <= d.config.RetriesPerTarget; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.config.RetryBackoff * time.Duration(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.config.AttemptTimeout)
		descriptor, err := strategy.Download(attemptCtx, sourceURL, d.config.OutputDir)
		cancel()

		if err == nil {
			return descriptor, nil
		} else if IsContentError(err) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}
