package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/crate-audio/crate/pkg/httputil"
)

type (
	ExtractionAPIConfig struct {
		BaseURL string `yaml:"base_url" env:"EXTRACTION_API_BASE_URL"`
		APIKey  string `yaml:"api_key" env:"EXTRACTION_API_KEY"`
	}

	extractionResponse struct {
		Status   string  `json:"status"`
		Error    string  `json:"error"`
		MediaURL string  `json:"media_url"`
		VideoID  string  `json:"video_id"`
		Title    string  `json:"title"`
		Author   string  `json:"author"`
		AuthorID string  `json:"author_id"`
		Duration float64 `json:"duration"`
	}

	// extractionAPIStrategy asks a hosted extraction service to
	// resolve the source URL into a direct media URL, then downloads
	// that media itself. Used as the fallback when yt-dlp is blocked.
	extractionAPIStrategy struct {
		config ExtractionAPIConfig
		http   *httputil.RetryClient
	}
)

func newExtractionAPIStrategy(config ExtractionAPIConfig) *extractionAPIStrategy {
	return &extractionAPIStrategy{
		config: config,
		http: httputil.NewRetryClient(
			&http.Client{Timeout: time.Minute * 2},
			httputil.DefaultRetryConfig(),
		),
	}
}

func (strategy *extractionAPIStrategy) Name() string { return "extraction-api" }

func (strategy *extractionAPIStrategy) Download(ctx context.Context, sourceURL string, outputDir string) (*MediaDescriptor, error) {
	platform, err := DetectPlatform(sourceURL)
	if err != nil {
		return nil, err
	}

	extraction, err := strategy.resolve(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	outputPath := filepath.Join(outputDir, extraction.VideoID+".mp4")
	if err := strategy.downloadFile(ctx, extraction.MediaURL, outputPath); err != nil {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: err}
	}

	return &MediaDescriptor{
		Platform:        platform,
		ID:              extraction.VideoID,
		Title:           extraction.Title,
		CreatorUsername: extraction.Author,
		CreatorID:       extraction.AuthorID,
		DurationSeconds: extraction.Duration,
		FilePath:        outputPath,
	}, nil
}

func (strategy *extractionAPIStrategy) resolve(ctx context.Context, sourceURL string) (*extractionResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/extract?url=%s", strategy.config.BaseURL, url.QueryEscape(sourceURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: err}
	}
	req.Header.Set("X-Api-Key", strategy.config.APIKey)

	resp, err := strategy.http.Do(req)
	if err != nil {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: fmt.Errorf("extraction request returned HTTP %d", resp.StatusCode)}
	}

	var extraction extractionResponse
	if err := json.Unmarshal(body, &extraction); err != nil {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: fmt.Errorf("extraction response could not be unmarshalled: %w", err)}
	}

	// The extraction service reports content problems in-band with an
	// OK status so that its own 4xx/5xx codes stay tooling-related.
	if extraction.Status == "content_unavailable" {
		return nil, &ContentError{extraction.Error}
	} else if extraction.Status != "ok" {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: fmt.Errorf("extraction reported status %q: %s", extraction.Status, extraction.Error)}
	}

	if extraction.MediaURL == "" || extraction.VideoID == "" {
		return nil, &StrategyError{Strategy: strategy.Name(), cause: fmt.Errorf("extraction response is missing the media URL or video ID")}
	}

	return &extraction, nil
}

func (strategy *extractionAPIStrategy) downloadFile(ctx context.Context, mediaURL string, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return err
	}

	resp, err := strategy.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media download returned HTTP %d", resp.StatusCode)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("media download was interrupted: %w", err)
	}

	return nil
}
