package downloader_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crate-audio/crate/internal/downloader"
	"github.com/stretchr/testify/assert"
)

type stubStrategy struct {
	name    string
	results []func() (*downloader.MediaDescriptor, error)
	calls   int
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) Download(ctx context.Context, sourceURL string, outputDir string) (*downloader.MediaDescriptor, error) {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx]()
}

func success(id string) func() (*downloader.MediaDescriptor, error) {
	return func() (*downloader.MediaDescriptor, error) {
		return &downloader.MediaDescriptor{Platform: downloader.PlatformTikTok, ID: id}, nil
	}
}

func failure(err error) func() (*downloader.MediaDescriptor, error) {
	return func() (*downloader.MediaDescriptor, error) { return nil, err }
}

func testConfig() downloader.Config {
	return downloader.Config{
		AttemptTimeout:   time.Second,
		RetriesPerTarget: 1,
		RetryBackoff:     time.Millisecond,
	}
}

const tiktokURL = "https://www.tiktok.com/@lofigirl/video/7309"

func Test_Download_FirstStrategySucceeds(t *testing.T) {
	primary := &stubStrategy{name: "primary", results: []func() (*downloader.MediaDescriptor, error){success("7309")}}
	fallback := &stubStrategy{name: "fallback", results: []func() (*downloader.MediaDescriptor, error){success("7309")}}

	d := downloader.NewWithStrategies(testConfig(), primary, fallback)
	descriptor, err := d.Download(context.Background(), tiktokURL)

	assert.NoError(t, err)
	assert.Equal(t, "7309", descriptor.ID)
	assert.Zero(t, fallback.calls)
}

func Test_Download_FallsBackOnStrategyFailure(t *testing.T) {
	primary := &stubStrategy{name: "primary", results: []func() (*downloader.MediaDescriptor, error){failure(errors.New("blocked"))}}
	fallback := &stubStrategy{name: "fallback", results: []func() (*downloader.MediaDescriptor, error){success("7309")}}

	d := downloader.NewWithStrategies(testConfig(), primary, fallback)
	descriptor, err := d.Download(context.Background(), tiktokURL)

	assert.NoError(t, err)
	assert.Equal(t, "7309", descriptor.ID)
	assert.Equal(t, 2, primary.calls, "primary should exhaust its retries before falling back")
}

func Test_Download_ContentErrorAbortsImmediately(t *testing.T) {
	contentErr := &downloader.ContentError{}
	primary := &stubStrategy{name: "primary", results: []func() (*downloader.MediaDescriptor, error){failure(contentErr)}}
	fallback := &stubStrategy{name: "fallback", results: []func() (*downloader.MediaDescriptor, error){success("7309")}}

	d := downloader.NewWithStrategies(testConfig(), primary, fallback)
	_, err := d.Download(context.Background(), tiktokURL)

	assert.True(t, downloader.IsContentError(err))
	assert.Equal(t, 1, primary.calls, "content errors should not be retried")
	assert.Zero(t, fallback.calls, "content errors should not fall back")
}

func Test_Download_MismatchedVideoIDFallsBack(t *testing.T) {
	primary := &stubStrategy{name: "primary", results: []func() (*downloader.MediaDescriptor, error){success("9999")}}
	fallback := &stubStrategy{name: "fallback", results: []func() (*downloader.MediaDescriptor, error){success("7309")}}

	d := downloader.NewWithStrategies(testConfig(), primary, fallback)
	descriptor, err := d.Download(context.Background(), tiktokURL)

	assert.NoError(t, err)
	assert.Equal(t, "7309", descriptor.ID)
	assert.Equal(t, 1, fallback.calls)
}

func Test_Download_AllStrategiesFailed(t *testing.T) {
	primary := &stubStrategy{name: "primary", results: []func() (*downloader.MediaDescriptor, error){failure(errors.New("blocked"))}}

	d := downloader.NewWithStrategies(testConfig(), primary)
	_, err := d.Download(context.Background(), tiktokURL)

	var allFailed *downloader.AllStrategiesFailedError
	assert.ErrorAs(t, err, &allFailed)
}

func Test_Download_NoStrategiesConfigured(t *testing.T) {
	d := downloader.NewWithStrategies(testConfig())
	_, err := d.Download(context.Background(), tiktokURL)

	var allFailed *downloader.AllStrategiesFailedError
	assert.ErrorAs(t, err, &allFailed)
	assert.NotEmpty(t, err.Error())
}

func Test_Download_UnsupportedPlatform(t *testing.T) {
	d := downloader.NewWithStrategies(testConfig(), &stubStrategy{name: "primary", results: []func() (*downloader.MediaDescriptor, error){success("1")}})
	_, err := d.Download(context.Background(), "https://example.com/watch?v=123")

	assert.True(t, downloader.IsContentError(err))
}

func Test_DetectPlatform(t *testing.T) {
	tests := []struct {
		url      string
		expected downloader.Platform
	}{
		{"https://www.tiktok.com/@user/video/123", downloader.PlatformTikTok},
		{"https://vm.tiktok.com/ZM8abcdef/", downloader.PlatformTikTok},
		{"https://www.instagram.com/reel/Cxyz_123/", downloader.PlatformInstagram},
	}

	for _, test := range tests {
		platform, err := downloader.DetectPlatform(test.url)
		assert.NoError(t, err)
		assert.Equal(t, test.expected, platform)
	}
}

func Test_ExtractVideoID(t *testing.T) {
	assert.Equal(t, "7309", downloader.ExtractVideoID(downloader.PlatformTikTok, "https://www.tiktok.com/@user/video/7309"))
	assert.Equal(t, "Cxyz_123", downloader.ExtractVideoID(downloader.PlatformInstagram, "https://www.instagram.com/reel/Cxyz_123/"))
	assert.Empty(t, downloader.ExtractVideoID(downloader.PlatformTikTok, "https://vm.tiktok.com/ZM8abcdef/"))
}
