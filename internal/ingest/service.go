package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/crate-audio/crate/internal/creator"
	"github.com/crate-audio/crate/internal/downloader"
	"github.com/crate-audio/crate/internal/event"
	"github.com/crate-audio/crate/internal/sample"
	"github.com/crate-audio/crate/internal/stems"
	"github.com/crate-audio/crate/pkg/logger"
	"github.com/crate-audio/crate/pkg/worker"
	"github.com/google/uuid"
)

var log = logger.Get("IngestServ")

type (
	videoDownloader interface {
		Download(ctx context.Context, sourceURL string) (*downloader.MediaDescriptor, error)
	}

	// audioFormatter covers the local ffmpeg work: stripping the audio
	// track and rendering its waveform image.
	audioFormatter interface {
		Extract(ctx context.Context, inputPath string, baseName string) (string, error)
		RenderWaveform(ctx context.Context, audioPath string, baseName string) (string, error)
	}

	artefactStore interface {
		Upload(ctx context.Context, localPath string, key string) (string, error)
	}

	creatorProvider interface {
		GetOrFetchCreator(ctx context.Context, username string) (*creator.Creator, error)
		GetOrFetchCreatorByPlatformID(ctx context.Context, platformID string) (*creator.Creator, error)
	}

	enrichmentProvider interface {
		TranscriptionEnabled() bool
		Transcribe(ctx context.Context, audioPath string) (string, error)
		SeparationEnabled() bool
		Separate(ctx context.Context, audioURL string) ([]stems.StemResult, error)
	}

	DataStore interface {
		SaveSample(*sample.Sample) error
	}

	// ingestService is responsible for managing the processing of
	// submitted source videos in to stored samples. Each queued item is:
	// - Downloaded from its platform using the configured strategies
	// - Stripped to its audio track and uploaded to object storage
	// - Linked to its (cached or freshly fetched) creator profile
	// - Enriched with a transcript and separated stem tracks
	// - Saved to the database as a sample
	ingestService struct {
		*sync.Mutex

		eventBus   event.EventCoordinator
		downloads  videoDownloader
		formats    audioFormatter
		store      artefactStore
		creators   creatorProvider
		enrichment enrichmentProvider
		data       DataStore

		config     Config
		items      []*IngestItem
		workerPool *worker.WorkerPool
		runCtx     context.Context
	}
)

// New creates a new ingest service and populates its worker pool with
// the configured number of pipeline workers. The workers do not begin
// processing until 'Run' is called.
func New(
	config Config,
	eventBus event.EventCoordinator,
	downloads videoDownloader,
	formats audioFormatter,
	store artefactStore,
	creators creatorProvider,
	enrichment enrichmentProvider,
	data DataStore,
) (*ingestService, error) {
	if config.IngestionParallelism < 1 {
		return nil, fmt.Errorf("ingestion parallelism must be at least 1, got %d", config.IngestionParallelism)
	}

	service := &ingestService{
		Mutex:      &sync.Mutex{},
		eventBus:   eventBus,
		downloads:  downloads,
		formats:    formats,
		store:      store,
		creators:   creators,
		enrichment: enrichment,
		data:       data,
		config:     config,
		items:      make([]*IngestItem, 0),
		workerPool: worker.NewWorkerPool(),
	}

	for i := 0; i < config.IngestionParallelism; i++ {
		label := fmt.Sprintf("ingest-worker-%d", i)
		service.workerPool.PushWorker(worker.NewWorker(label, service.PerformItemIngest))
	}

	return service, nil
}

// Run starts the services worker pool and blocks until the context
// provided is cancelled. Items queued while the service is running are
// picked up by the sleeping workers.
func (service *ingestService) Run(ctx context.Context) error {
	service.runCtx = ctx
	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start ingest worker pool: %w", err)
	}
	defer service.workerPool.Close()

	<-ctx.Done()
	return nil
}

// QueueIngest adds a new item to the services queue and wakes the
// worker pool. The optional collection ID is recorded on the item (and
// the sample it produces) so that batch submissions can track their
// items.
func (service *ingestService) QueueIngest(sourceURL string, collectionID *uuid.UUID) (uuid.UUID, error) {
	if sourceURL == "" {
		return uuid.Nil, fmt.Errorf("cannot queue ingestion with an empty source URL")
	}

	service.Lock()
	defer service.Unlock()

	item := &IngestItem{
		ID:           uuid.New(),
		SourceURL:    sourceURL,
		CollectionID: collectionID,
		State:        Idle,
	}

	service.items = append(service.items, item)
	service.wakeupWorkerPool()
	return item.ID, nil
}

// PerformItemIngest is the worker function for the ingest service,
// called by the services worker pool.
// This function will claim the first IDLE item it finds and attempt to
// ingest it. If the ingestion fails with a Trouble, then it will be
// set on the item and it's state set to TROUBLED.
func (service *ingestService) PerformItemIngest(w worker.Worker) (bool, error) {
	item := service.claimIdleItem()
	if item == nil {
		return false, nil
	}

	ctx := service.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	if err := item.ingest(ctx, service.eventBus, service.downloads, service.formats, service.store, service.creators, service.enrichment, service.data, service.config.KeepLocalFiles); err != nil {
		if trbl, ok := err.(Trouble); ok {
			log.Emit(logger.ERROR, "Ingestion of item %s raised trouble: %v (%s)\n", item, trbl, trbl.Type())
			item.Trouble = &trbl
			item.State = Troubled
			service.eventBus.Dispatch(event.IngestUpdateEvent, item.ID)
		} else {
			return false, err
		}
	} else {
		item.State = Complete
		service.eventBus.Dispatch(event.IngestCompleteEvent, item.ID)
		service.RemoveIngest(item.ID)
	}

	return true, nil
}

// ResolveTroubledIngest accepts the ID of a troubled ingest item, and
// the resolution to apply to it. Retry resolutions return the item to
// the queue; abort resolutions discard it; a platform ID resolution
// retries with the user-provided video ID pinned.
func (service *ingestService) ResolveTroubledIngest(itemID uuid.UUID, method ResolutionType, context map[string]string) error {
	service.Lock()
	defer service.Unlock()

	item := service.GetIngest(itemID)
	if item == nil {
		return ErrIngestNotFound
	}
	if item.State != Troubled || item.Trouble == nil {
		return ErrNoTrouble
	}

	resolution, err := item.Trouble.GenerateResolution(method, context)
	if err != nil {
		return err
	}

	switch res := resolution.(type) {
	case *AbortResolution:
		item.State = Complete
		service.eventBus.Dispatch(event.IngestCompleteEvent, item.ID)
		service.removeIngestLocked(itemID)
	case *RetryResolution:
		item.Trouble = nil
		item.State = Idle
		service.wakeupWorkerPool()
	case *PlatformIDResolution:
		item.Trouble = nil
		item.OverridePlatformID = &res.platformID
		item.State = Idle
		service.wakeupWorkerPool()
	default:
		return ErrResolutionContextIncompatible
	}

	return nil
}

// RemoveIngest looks for an item with the ID provided in the services
// state, and removes it if it's found.
// This method *fails* if the item is currently 'INGESTING' as
// interrupting the ingestion is not possible.
// This method does not error if the itemID does not exist.
//
// Note: This function takes ownership of the mutex and releases it on return
func (service *ingestService) RemoveIngest(itemID uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	return service.removeIngestLocked(itemID)
}

func (service *ingestService) removeIngestLocked(itemID uuid.UUID) error {
	for k, v := range service.items {
		if v.ID == itemID {
			if v.State == Ingesting {
				return fmt.Errorf("cannot remove item %v as a worker is currently ingesting it", itemID)
			}

			service.items = append(service.items[:k], service.items[k+1:]...)
			return nil
		}
	}

	return nil
}

// GetIngest accepts the ID of an ingest item and attempts to find it
// in the services queue. If it cannot be found, nil is returned.
func (service *ingestService) GetIngest(itemID uuid.UUID) *IngestItem {
	for _, item := range service.items {
		if item.ID == itemID {
			return item
		}
	}

	return nil
}

// GetAllIngests returns the IngestItems being processed by this
// service.
func (service *ingestService) GetAllIngests() []*IngestItem {
	return service.items
}

// claimIdleItem will try and find an IDLE item in the ingest service,
// and set it's state to 'INGESTING' to prevent another worker from
// claiming it once the mutex lock is released.
//
// Note: This function takes ownership of the mutex, and releases it when returning
func (service *ingestService) claimIdleItem() *IngestItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == Idle {
			item.State = Ingesting
			return item
		}
	}

	return nil
}

func (service *ingestService) wakeupWorkerPool() {
	service.workerPool.WakeupWorkers()
}
