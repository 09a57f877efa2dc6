package stems

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crate-audio/crate/pkg/httputil"
	"github.com/crate-audio/crate/pkg/logger"
)

var log = logger.Get("Stems")

// ErrSeparationFailed indicates the separation service accepted the
// job but reported a terminal failure while running it.
var ErrSeparationFailed = errors.New("stem separation job failed")

type (
	Config struct {
		BaseURL      string        `yaml:"base_url" env:"STEMS_API_BASE_URL"`
		APIKey       string        `yaml:"api_key" env:"STEMS_API_KEY"`
		PollInterval time.Duration `yaml:"poll_interval" env:"STEMS_POLL_INTERVAL" env-default:"5s"`
		JobTimeout   time.Duration `yaml:"job_timeout" env:"STEMS_JOB_TIMEOUT" env-default:"10m"`
	}

	// StemResult is one separated instrument track, addressed by the
	// URL the separation service hosts it at.
	StemResult struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}

	jobResponse struct {
		JobID  string       `json:"job_id"`
		Status string       `json:"status"`
		Error  string       `json:"error"`
		Stems  []StemResult `json:"stems"`
	}

	// Client drives an asynchronous stem-separation service: submit
	// the audio URL, then poll the job until it settles.
	Client struct {
		config Config
		http   *httputil.RetryClient
	}
)

func NewClient(config Config) *Client {
	return &Client{
		config: config,
		http: httputil.NewRetryClient(
			&http.Client{Timeout: time.Second * 30},
			httputil.DefaultRetryConfig(),
		),
	}
}

func (c *Client) Enabled() bool { return c.config.BaseURL != "" }

// Separate submits the audio at the URL given for stem separation and
// blocks until the job settles, the configured job timeout elapses, or
// the context is cancelled.
func (c *Client) Separate(ctx context.Context, audioURL string) ([]StemResult, error) {
	jobID, err := c.startJob(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	log.Debugf("Stem separation job %s started for %s\n", jobID, audioURL)

	deadline := time.NewTimer(c.config.JobTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("stem separation job %s did not settle within %s", jobID, c.config.JobTimeout)
		case <-ticker.C:
			job, err := c.pollJob(ctx, jobID)
			if err != nil {
				return nil, err
			}

			switch job.Status {
			case "succeeded":
				return job.Stems, nil
			case "failed":
				return nil, fmt.Errorf("%w: %s", ErrSeparationFailed, job.Error)
			}
		}
	}
}

func (c *Client) startJob(ctx context.Context, audioURL string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"audio_url": audioURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	job, err := c.doJobRequest(req)
	if err != nil {
		return "", fmt.Errorf("failed to start stem separation job: %w", err)
	}

	if job.JobID == "" {
		return "", errors.New("stem separation service did not return a job ID")
	}

	return job.JobID, nil
}

func (c *Client) pollJob(ctx context.Context, jobID string) (*jobResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	job, err := c.doJobRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll stem separation job %s: %w", jobID, err)
	}

	return job, nil
}

func (c *Client) doJobRequest(req *http.Request) (*jobResponse, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("separation service returned HTTP %d", resp.StatusCode)
	}

	var job jobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("separation response could not be unmarshalled: %w", err)
	}

	return &job, nil
}
