package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/crate-audio/crate/internal/api"
	"github.com/crate-audio/crate/internal/collection"
	"github.com/crate-audio/crate/internal/creator"
	"github.com/crate-audio/crate/internal/database"
	"github.com/crate-audio/crate/internal/downloader"
	"github.com/crate-audio/crate/internal/event"
	"github.com/crate-audio/crate/internal/ffmpeg"
	"github.com/crate-audio/crate/internal/http/profileapi"
	"github.com/crate-audio/crate/internal/ingest"
	"github.com/crate-audio/crate/internal/stems"
	"github.com/crate-audio/crate/internal/storage"
	"github.com/crate-audio/crate/internal/transcribe"
	"github.com/crate-audio/crate/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// mediaFormatter joins the audio extraction and waveform rendering
	// halves of the ffmpeg package behind the single surface the
	// ingestion service consumes.
	mediaFormatter struct {
		*ffmpeg.AudioExtractor
		waveforms *ffmpeg.WaveformRenderer
	}

	// enrichmentProviders bundles the optional transcript and stem
	// separation clients. Either may be disabled by configuration.
	enrichmentProviders struct {
		transcriber *transcribe.Transcriber
		separator   *stems.Client
	}
)

func (formatter *mediaFormatter) RenderWaveform(ctx context.Context, audioPath string, baseName string) (string, error) {
	return formatter.waveforms.Render(ctx, audioPath, baseName)
}

func (providers *enrichmentProviders) TranscriptionEnabled() bool { return providers.transcriber.Enabled() }
func (providers *enrichmentProviders) Transcribe(ctx context.Context, audioPath string) (string, error) {
	return providers.transcriber.Transcribe(ctx, audioPath)
}
func (providers *enrichmentProviders) SeparationEnabled() bool { return providers.separator.Enabled() }
func (providers *enrichmentProviders) Separate(ctx context.Context, audioURL string) ([]stems.StemResult, error) {
	return providers.separator.Separate(ctx, audioURL)
}

// crateImpl is the top-level object for the server, responsible for
// initialising the stores, services and event handling, and running
// them until stopped.
type crateImpl struct {
	eventBus event.EventCoordinator
	config   CrateConfig
}

func New(config CrateConfig) *crateImpl {
	return &crateImpl{
		eventBus: event.New(),
		config:   config,
	}
}

// Run brings up the database connection, stores and services, and does
// not return until Crate is stopped. To stop Crate, cancel the provided
// context; errors from which Crate cannot recover will also stop it.
func (crate *crateImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(crate.config.Database); err != nil {
		return err
	}

	store, err := newStoreOrchestrator(db)
	if err != nil {
		return fmt.Errorf("failed to construct data store: %w", err)
	}

	creatorService := creator.New(crate.config.Creators, profileapi.NewClient(crate.config.ProfileAPI), store)

	uploader, err := storage.NewUploader(crate.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to construct artefact uploader: %w", err)
	}

	formatter := &mediaFormatter{
		AudioExtractor: ffmpeg.NewAudioExtractor(crate.config.Format),
		waveforms:      ffmpeg.NewWaveformRenderer(crate.config.Waveform),
	}
	enrichment := &enrichmentProviders{
		transcriber: transcribe.New(crate.config.Transcription),
		separator:   stems.NewClient(crate.config.Stems),
	}

	ingestService, err := ingest.New(
		crate.config.IngestService,
		crate.eventBus,
		downloader.New(crate.config.Downloads),
		formatter,
		uploader,
		creatorService,
		enrichment,
		store,
	)
	if err != nil {
		return fmt.Errorf("failed to construct ingestion service: %w", err)
	}

	collectionService := collection.New(crate.eventBus, store, ingestService)
	restGateway := api.NewRestGateway(&crate.config.RestConfig, crate.eventBus, ingestService, creatorService, store)

	wg := &sync.WaitGroup{}
	crate.spawnAsyncService(ctx, wg, ingestService, "ingest-service", crashHandler)
	crate.spawnAsyncService(ctx, wg, collectionService, "collection-service", crashHandler)
	crate.spawnAsyncService(ctx, wg, restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Crate services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService runs the provided service as its own go-routine,
// ensuring the service waitgroup is updated correctly and that a panic
// or error return brings the rest of the server down.
func (crate *crateImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
