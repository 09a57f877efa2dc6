package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

type (
	YtDlpConfig struct {
		BinaryPath  string `yaml:"binary_path" env:"YTDLP_BINARY_PATH" env-default:"yt-dlp"`
		ProxyURL    string `yaml:"proxy_url" env:"YTDLP_PROXY_URL"`
		CookiesPath string `yaml:"cookies_path" env:"YTDLP_COOKIES_PATH"`
	}

	// ytDlpMetadata is the subset of yt-dlp's single-line JSON dump
	// that the downloader cares about.
	ytDlpMetadata struct {
		ID       string  `json:"id"`
		Title    string  `json:"title"`
		Uploader string  `json:"uploader_id"`
		Channel  string  `json:"channel_id"`
		Duration float64 `json:"duration"`
	}

	// ytDlpStrategy shells out to the yt-dlp binary, downloading the
	// video and capturing its metadata dump in one invocation.
	ytDlpStrategy struct {
		config YtDlpConfig
	}
)

func newYtDlpStrategy(config YtDlpConfig) *ytDlpStrategy {
	return &ytDlpStrategy{config: config}
}

func (strategy *ytDlpStrategy) Name() string { return "yt-dlp" }

func (strategy *ytDlpStrategy) Download(ctx context.Context, sourceURL string, outputDir string) (*MediaDescriptor, error) {
	platform, err := DetectPlatform(sourceURL)
	if err != nil {
		return nil, err
	}

	outputTemplate := filepath.Join(outputDir, "%(id)s.%(ext)s")
	args := []string{
		"--no-playlist",
		"--no-simulate",
		"-j",
		"-o", outputTemplate,
	}
	if strategy.config.ProxyURL != "" {
		args = append(args, "--proxy", strategy.config.ProxyURL)
	}
	if strategy.config.CookiesPath != "" {
		args = append(args, "--cookies", strategy.config.CookiesPath)
	}
	args = append(args, sourceURL)

	cmd := exec.CommandContext(ctx, strategy.config.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if contentErr := classifyYtDlpFailure(stderr.String()); contentErr != nil {
			return nil, contentErr
		}

		return nil, &StrategyError{Strategy: strategy.Name(), cause: fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))}
	}

	var metadata ytDlpMetadata
	if err := json.Unmarshal(stdout.Bytes(), &metadata); err != nil {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: fmt.Errorf("metadata dump could not be unmarshalled: %w", err)}
	}

	if metadata.ID == "" {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: fmt.Errorf("metadata dump is missing the video ID")}
	}

	matches, err := filepath.Glob(filepath.Join(outputDir, metadata.ID+".*"))
	if err != nil || len(matches) == 0 {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: fmt.Errorf("downloaded file for video %s could not be located in %s", metadata.ID, outputDir)}
	}

	return &MediaDescriptor{
		Platform:        platform,
		ID:              metadata.ID,
		Title:           metadata.Title,
		CreatorUsername: metadata.Uploader,
		CreatorID:       metadata.Channel,
		DurationSeconds: metadata.Duration,
		FilePath:        matches[0],
	}, nil
}

// classifyYtDlpFailure scans yt-dlp's stderr for messages which mean
// the content itself is gone or locked, as opposed to a transient
// tooling failure. Returns nil when the failure is not content-bound.
func classifyYtDlpFailure(stderr string) *ContentError {
	lowered := strings.ToLower(stderr)
	for _, marker := range []string{
		"video unavailable",
		"private video",
		"this post is private",
		"account is private",
		"video has been removed",
		"content isn't available",
		"requested content is not available",
		"unsupported url",
	} {
		if strings.Contains(lowered, marker) {
			return &ContentError{strings.TrimSpace(stderr)}
		}
	}

	return nil
}
