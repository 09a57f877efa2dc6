package api

import (
	"github.com/crate-audio/crate/internal/api/ingests"
	"github.com/crate-audio/crate/internal/collection"
	"github.com/crate-audio/crate/internal/event"
	"github.com/crate-audio/crate/internal/http/websocket"
	"github.com/crate-audio/crate/internal/sample"
	"github.com/google/uuid"
)

const (
	TitleCollectionUpdate   = "COLLECTION_UPDATE"
	TitleCollectionComplete = "COLLECTION_COMPLETE"
	TitleIngestUpdate       = "INGEST_UPDATE"
	TitleIngestComplete     = "INGEST_COMPLETE"
	TitleNewSample          = "NEW_SAMPLE"
)

type (
	CollectionUpdate struct {
		CollectionID uuid.UUID              `json:"collection_id"`
		Collection   *collection.Collection `json:"collection"`
	}

	IngestUpdate struct {
		IngestID uuid.UUID          `json:"ingest_id"`
		Ingest   *ingests.IngestDto `json:"ingest"`
	}

	NewSample struct {
		SampleID uuid.UUID      `json:"sample_id"`
		Sample   *sample.Sample `json:"sample"`
	}

	collectionStore interface {
		GetCollection(id uuid.UUID) (*collection.Collection, error)
	}

	sampleStore interface {
		GetSample(id uuid.UUID) (*sample.Sample, error)
	}

	// broadcaster fans out event bus activity to every connected
	// websocket client, hydrating payload IDs into full resources
	// before sending.
	broadcaster struct {
		socketHub       *websocket.SocketHub
		ingestService   ingests.IngestService
		collectionStore collectionStore
		sampleStore     sampleStore
	}
)

func newBroadcaster(
	socketHub *websocket.SocketHub,
	eventBus event.EventHandler,
	ingestService ingests.IngestService,
	collectionStore collectionStore,
	sampleStore sampleStore,
) *broadcaster {
	hub := &broadcaster{socketHub, ingestService, collectionStore, sampleStore}

	eventBus.RegisterAsyncHandlerFunction(event.CollectionUpdateEvent, hub.handleCollectionEvent)
	eventBus.RegisterAsyncHandlerFunction(event.CollectionCompleteEvent, hub.handleCollectionEvent)
	eventBus.RegisterAsyncHandlerFunction(event.IngestUpdateEvent, hub.handleIngestEvent)
	eventBus.RegisterAsyncHandlerFunction(event.IngestCompleteEvent, hub.handleIngestEvent)
	eventBus.RegisterAsyncHandlerFunction(event.NewSampleEvent, hub.handleSampleEvent)

	return hub
}

func (hub *broadcaster) handleCollectionEvent(ev event.Event, payload event.Payload) {
	id, ok := payload.(uuid.UUID)
	if !ok {
		return
	}

	title := TitleCollectionUpdate
	if ev == event.CollectionCompleteEvent {
		title = TitleCollectionComplete
	}

	fetched, err := hub.collectionStore.GetCollection(id)
	if err != nil {
		log.Warnf("Unable to broadcast update for collection %s: %v\n", id, err)
		return
	}

	hub.broadcast(title, CollectionUpdate{CollectionID: id, Collection: fetched})
}

func (hub *broadcaster) handleIngestEvent(ev event.Event, payload event.Payload) {
	id, ok := payload.(uuid.UUID)
	if !ok {
		return
	}

	title := TitleIngestUpdate
	if ev == event.IngestCompleteEvent {
		title = TitleIngestComplete
	}

	// A completed ingestion is removed from the service, so a nil item
	// here simply means the DTO is absent from the broadcast.
	var dto *ingests.IngestDto
	if item := hub.ingestService.GetIngest(id); item != nil {
		dto = ingests.NewDto(item)
	}

	hub.broadcast(title, IngestUpdate{IngestID: id, Ingest: dto})
}

func (hub *broadcaster) handleSampleEvent(_ event.Event, payload event.Payload) {
	id, ok := payload.(uuid.UUID)
	if !ok {
		return
	}

	fetched, err := hub.sampleStore.GetSample(id)
	if err != nil {
		log.Warnf("Unable to broadcast new sample %s: %v\n", id, err)
		return
	}

	hub.broadcast(TitleNewSample, NewSample{SampleID: id, Sample: fetched})
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}
