// ingest service tests cover the pipeline from a queued source URL
// through to a saved sample. The download, formatting, storage and
// enrichment integrations are all mocked; only the queue/worker
// behavior and the trouble handling run for real.
package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/crate-audio/crate/internal/creator"
	"github.com/crate-audio/crate/internal/downloader"
	"github.com/crate-audio/crate/internal/event"
	"github.com/crate-audio/crate/internal/ingest"
	"github.com/crate-audio/crate/internal/sample"
	"github.com/crate-audio/crate/internal/stems"
	"github.com/crate-audio/crate/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var errExpected = errors.New("test: expected error")

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type mockDownloader struct{ mock.Mock }

func (m *mockDownloader) Download(ctx context.Context, sourceURL string) (*downloader.MediaDescriptor, error) {
	args := m.Called(ctx, sourceURL)
	if d := args.Get(0); d != nil {
		return d.(*downloader.MediaDescriptor), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockFormatter struct{ mock.Mock }

func (m *mockFormatter) Extract(ctx context.Context, inputPath string, baseName string) (string, error) {
	args := m.Called(ctx, inputPath, baseName)
	return args.String(0), args.Error(1)
}

func (m *mockFormatter) RenderWaveform(ctx context.Context, audioPath string, baseName string) (string, error) {
	args := m.Called(ctx, audioPath, baseName)
	return args.String(0), args.Error(1)
}

type mockUploader struct{ mock.Mock }

func (m *mockUploader) Upload(ctx context.Context, localPath string, key string) (string, error) {
	args := m.Called(ctx, localPath, key)
	return args.String(0), args.Error(1)
}

type mockCreators struct{ mock.Mock }

func (m *mockCreators) GetOrFetchCreator(ctx context.Context, username string) (*creator.Creator, error) {
	args := m.Called(ctx, username)
	if c := args.Get(0); c != nil {
		return c.(*creator.Creator), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCreators) GetOrFetchCreatorByPlatformID(ctx context.Context, platformID string) (*creator.Creator, error) {
	args := m.Called(ctx, platformID)
	if c := args.Get(0); c != nil {
		return c.(*creator.Creator), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockEnrichment struct{ mock.Mock }

func (m *mockEnrichment) TranscriptionEnabled() bool { return m.Called().Bool(0) }
func (m *mockEnrichment) Transcribe(ctx context.Context, audioPath string) (string, error) {
	args := m.Called(ctx, audioPath)
	return args.String(0), args.Error(1)
}
func (m *mockEnrichment) SeparationEnabled() bool { return m.Called().Bool(0) }
func (m *mockEnrichment) Separate(ctx context.Context, audioURL string) ([]stems.StemResult, error) {
	args := m.Called(ctx, audioURL)
	if s := args.Get(0); s != nil {
		return s.([]stems.StemResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockData struct {
	mock.Mock
	mu    sync.Mutex
	saved []*sample.Sample
}

func (m *mockData) SaveSample(s *sample.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(s)
	if args.Error(0) == nil {
		s.ID = uuid.New()
		m.saved = append(m.saved, s)
	}
	return args.Error(0)
}

type testHarness struct {
	downloads  *mockDownloader
	formats    *mockFormatter
	uploader   *mockUploader
	creators   *mockCreators
	enrichment *mockEnrichment
	data       *mockData
	bus        event.EventCoordinator
}

func newHarness() *testHarness {
	return &testHarness{
		downloads:  new(mockDownloader),
		formats:    new(mockFormatter),
		uploader:   new(mockUploader),
		creators:   new(mockCreators),
		enrichment: new(mockEnrichment),
		data:       new(mockData),
		bus:        event.New(),
	}
}

type Service interface {
	QueueIngest(sourceURL string, collectionID *uuid.UUID) (uuid.UUID, error)
	GetIngest(itemID uuid.UUID) *ingest.IngestItem
	GetAllIngests() []*ingest.IngestItem
	ResolveTroubledIngest(itemID uuid.UUID, method ingest.ResolutionType, context map[string]string) error
}

func startService(t *testing.T, h *testHarness) Service {
	srv, err := ingest.New(
		ingest.Config{IngestionParallelism: 1, KeepLocalFiles: true},
		h.bus, h.downloads, h.formats, h.uploader, h.creators, h.enrichment, h.data,
	)
	assert.Nil(t, err)

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, srv.Run(ctx))
	}()

	t.Cleanup(func() {
		fmt.Println("Waiting for service to close...")
		cancel()
		wg.Wait()
	})

	return srv
}

const sourceURL = "https://www.tiktok.com/@lofigirl/video/7309"

func happyPathDescriptor() *downloader.MediaDescriptor {
	return &downloader.MediaDescriptor{
		Platform:        downloader.PlatformTikTok,
		ID:              "7309",
		Title:           "late night loop",
		CreatorUsername: "lofigirl",
		DurationSeconds: 31.2,
		FilePath:        "/tmp/7309.mp4",
	}
}

func Test_QueuedItem_CorrectlySaved(t *testing.T) {
	h := newHarness()
	linkedCreator := &creator.Creator{ID: uuid.New(), Username: "lofigirl"}

	h.downloads.On("Download", mock.Anything, sourceURL).Return(happyPathDescriptor(), nil).Once()
	h.formats.On("Extract", mock.Anything, "/tmp/7309.mp4", "7309").Return("/tmp/7309.mp3", nil).Once()
	h.formats.On("RenderWaveform", mock.Anything, "/tmp/7309.mp3", "7309").Return("/tmp/7309.png", nil).Once()
	h.uploader.On("Upload", mock.Anything, "/tmp/7309.mp3", "audio/7309.mp3").Return("https://cdn.example/audio/7309.mp3", nil).Once()
	h.uploader.On("Upload", mock.Anything, "/tmp/7309.png", "waveforms/7309.png").Return("https://cdn.example/waveforms/7309.png", nil).Once()
	h.creators.On("GetOrFetchCreator", mock.Anything, "lofigirl").Return(linkedCreator, nil).Once()
	h.enrichment.On("TranscriptionEnabled").Return(true)
	h.enrichment.On("Transcribe", mock.Anything, "/tmp/7309.mp3").Return("one two three", nil).Once()
	h.enrichment.On("SeparationEnabled").Return(true)
	h.enrichment.On("Separate", mock.Anything, "https://cdn.example/audio/7309.mp3").
		Return([]stems.StemResult{{Name: "drums", URL: "https://cdn.example/stems/drums.mp3"}}, nil).Once()
	h.data.On("SaveSample", mock.Anything).Return(nil).Once()

	receivedNewSample := false
	receivedIngestComplete := false
	h.bus.RegisterHandlerFunction(event.NewSampleEvent, func(_ event.Event, _ event.Payload) { receivedNewSample = true })
	h.bus.RegisterHandlerFunction(event.IngestCompleteEvent, func(_ event.Event, _ event.Payload) { receivedIngestComplete = true })

	srv := startService(t, h)
	collectionID := uuid.New()
	_, err := srv.QueueIngest(sourceURL, &collectionID)
	assert.Nil(t, err)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		assert.True(c, receivedNewSample, "never received new sample message on event bus")
		assert.True(c, receivedIngestComplete, "never received ingestion completion message on event bus")
		assert.Empty(c, srv.GetAllIngests(), "completed item should leave the queue")

		h.data.mu.Lock()
		defer h.data.mu.Unlock()
		if assert.Len(c, h.data.saved, 1) {
			saved := h.data.saved[0]
			assert.Equal(c, "tiktok", saved.Platform)
			assert.Equal(c, "7309", saved.PlatformID)
			assert.Equal(c, sample.Ready, saved.Status)
			assert.Equal(c, "https://cdn.example/audio/7309.mp3", saved.AudioURL)
			assert.Equal(c, "one two three", saved.Transcript)
			assert.Equal(c, &linkedCreator.ID, saved.CreatorID)
			assert.Equal(c, &collectionID, saved.CollectionID)
		}
	}, time.Second*2, time.Millisecond*50)
}

func Test_DownloadFailure_RaisesTrouble_RetryResolutionSucceeds(t *testing.T) {
	h := newHarness()

	h.downloads.On("Download", mock.Anything, sourceURL).Return(nil, errExpected).Once()
	h.downloads.On("Download", mock.Anything, sourceURL).Return(happyPathDescriptor(), nil).Once()
	h.formats.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return("/tmp/7309.mp3", nil)
	h.formats.On("RenderWaveform", mock.Anything, mock.Anything, mock.Anything).Return("", errExpected)
	h.uploader.On("Upload", mock.Anything, "/tmp/7309.mp3", mock.Anything).Return("https://cdn.example/audio/7309.mp3", nil)
	h.creators.On("GetOrFetchCreator", mock.Anything, "lofigirl").Return(nil, creator.ErrCreatorUnavailable)
	h.enrichment.On("TranscriptionEnabled").Return(false)
	h.enrichment.On("SeparationEnabled").Return(false)
	h.data.On("SaveSample", mock.Anything).Return(nil).Once()

	srv := startService(t, h)
	itemID, err := srv.QueueIngest(sourceURL, nil)
	assert.Nil(t, err)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		item := srv.GetIngest(itemID)
		if assert.NotNil(c, item) && assert.Equal(c, ingest.Troubled, item.State) {
			assert.Equal(c, ingest.GenericFailure, item.Trouble.Type())
		}
	}, time.Second*2, time.Millisecond*50)

	assert.Nil(t, srv.ResolveTroubledIngest(itemID, ingest.Retry, nil))

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		assert.Empty(c, srv.GetAllIngests())
		h.data.mu.Lock()
		defer h.data.mu.Unlock()
		if assert.Len(c, h.data.saved, 1) {
			assert.Nil(c, h.data.saved[0].CreatorID, "sample should be saved unlinked when the creator cannot be resolved")
		}
	}, time.Second*2, time.Millisecond*50)
}

func Test_ContentFailure_OnlyAbortAllowed(t *testing.T) {
	h := newHarness()

	h.downloads.On("Download", mock.Anything, sourceURL).Return(nil, &downloader.ContentError{}).Once()

	srv := startService(t, h)
	itemID, err := srv.QueueIngest(sourceURL, nil)
	assert.Nil(t, err)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		item := srv.GetIngest(itemID)
		if assert.NotNil(c, item) && assert.NotNil(c, item.Trouble) {
			assert.Equal(c, ingest.ContentFailure, item.Trouble.Type())
			assert.Equal(c, []ingest.ResolutionType{ingest.Abort}, item.Trouble.AllowedResolutionTypes())
		}
	}, time.Second*2, time.Millisecond*50)

	assert.ErrorIs(t, srv.ResolveTroubledIngest(itemID, ingest.Retry, nil), ingest.ErrResolutionIncompatible)

	receivedIngestComplete := false
	h.bus.RegisterHandlerFunction(event.IngestCompleteEvent, func(_ event.Event, _ event.Payload) { receivedIngestComplete = true })

	assert.Nil(t, srv.ResolveTroubledIngest(itemID, ingest.Abort, nil))
	assert.Empty(t, srv.GetAllIngests())
	assert.True(t, receivedIngestComplete, "aborting an item should emit a completion message")
}

func Test_PlatformIDResolution_OverridesReportedID(t *testing.T) {
	h := newHarness()

	strategyErr := &downloader.AllStrategiesFailedError{Errors: []error{errExpected}}
	h.downloads.On("Download", mock.Anything, sourceURL).Return(nil, strategyErr).Once()

	descriptor := happyPathDescriptor()
	descriptor.ID = "wrong-id"
	h.downloads.On("Download", mock.Anything, sourceURL).Return(descriptor, nil).Once()
	h.formats.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return("/tmp/out.mp3", nil)
	h.formats.On("RenderWaveform", mock.Anything, mock.Anything, mock.Anything).Return("", errExpected)
	h.uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("https://cdn.example/audio/out.mp3", nil)
	h.creators.On("GetOrFetchCreator", mock.Anything, mock.Anything).Return(nil, creator.ErrCreatorUnavailable)
	h.enrichment.On("TranscriptionEnabled").Return(false)
	h.enrichment.On("SeparationEnabled").Return(false)
	h.data.On("SaveSample", mock.Anything).Return(nil).Once()

	srv := startService(t, h)
	itemID, err := srv.QueueIngest(sourceURL, nil)
	assert.Nil(t, err)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		item := srv.GetIngest(itemID)
		if assert.NotNil(c, item) && assert.NotNil(c, item.Trouble) {
			assert.Equal(c, ingest.DownloadFailure, item.Trouble.Type())
		}
	}, time.Second*2, time.Millisecond*50)

	assert.ErrorIs(t,
		srv.ResolveTroubledIngest(itemID, ingest.SpecifyPlatformID, map[string]string{}),
		ingest.ErrResolutionIncomplete)
	assert.Nil(t, srv.ResolveTroubledIngest(itemID, ingest.SpecifyPlatformID, map[string]string{"platform_id": "7309"}))

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		h.data.mu.Lock()
		defer h.data.mu.Unlock()
		if assert.Len(c, h.data.saved, 1) {
			assert.Equal(c, "7309", h.data.saved[0].PlatformID)
		}
	}, time.Second*2, time.Millisecond*50)
}

func Test_ResolveTroubledIngest_UnknownItem(t *testing.T) {
	h := newHarness()
	srv := startService(t, h)

	assert.ErrorIs(t, srv.ResolveTroubledIngest(uuid.New(), ingest.Abort, nil), ingest.ErrIngestNotFound)
}
