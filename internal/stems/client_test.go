package stems

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		PollInterval: time.Millisecond * 10,
		JobTimeout:   time.Second * 2,
	}
}

func Test_Separate_PollsUntilSucceeded(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{"job_id": "job-1", "status": "queued"}`)
			return
		}

		assert.Equal(t, "/v1/jobs/job-1", r.URL.Path)
		polls++
		if polls < 3 {
			fmt.Fprint(w, `{"job_id": "job-1", "status": "running"}`)
			return
		}

		fmt.Fprint(w, `{"job_id": "job-1", "status": "succeeded", "stems": [
			{"name": "vocals", "url": "https://cdn.example/vocals.mp3"},
			{"name": "drums", "url": "https://cdn.example/drums.mp3"}
		]}`)
	}))
	defer srv.Close()

	results, err := NewClient(testConfig(srv.URL)).Separate(context.Background(), "https://cdn.example/audio.mp3")
	assert.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "vocals", results[0].Name)
	assert.GreaterOrEqual(t, polls, 3)
}

func Test_Separate_FailedJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"job_id": "job-2", "status": "queued"}`)
			return
		}

		fmt.Fprint(w, `{"job_id": "job-2", "status": "failed", "error": "audio too short"}`)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Separate(context.Background(), "https://cdn.example/audio.mp3")
	assert.ErrorIs(t, err, ErrSeparationFailed)
	assert.Contains(t, err.Error(), "audio too short")
}

func Test_Separate_JobTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"job_id": "job-3", "status": "queued"}`)
			return
		}

		fmt.Fprint(w, `{"job_id": "job-3", "status": "running"}`)
	}))
	defer srv.Close()

	config := testConfig(srv.URL)
	config.JobTimeout = time.Millisecond * 50

	_, err := NewClient(config).Separate(context.Background(), "https://cdn.example/audio.mp3")
	assert.ErrorContains(t, err, "did not settle")
}

func Test_Separate_MissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status": "queued"}`)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Separate(context.Background(), "https://cdn.example/audio.mp3")
	assert.ErrorContains(t, err, "job ID")
}
