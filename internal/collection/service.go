package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/crate-audio/crate/internal/event"
	"github.com/crate-audio/crate/internal/ingest"
	"github.com/crate-audio/crate/pkg/logger"
	"github.com/google/uuid"
)

var log = logger.Get("CollectServ")

type (
	// dataStore is the transactional surface the service drives
	// collection transitions through. Implementations must perform
	// each transition (and any refund it implies) atomically.
	dataStore interface {
		GetCollection(id uuid.UUID) (*Collection, error)
		GetCollectionItemAtPosition(collectionID uuid.UUID, position int) (*Item, error)
		MarkCollectionRunning(id uuid.UUID) (*Collection, error)
		AdvanceCollectionCursor(id uuid.UUID, position int) (*Collection, error)
		CompleteCollection(id uuid.UUID) (*Collection, error)
		FailCollectionAndRefund(id uuid.UUID, message string) (*Collection, error)
	}

	ingestQueue interface {
		QueueIngest(sourceURL string, collectionID *uuid.UUID) (uuid.UUID, error)
		GetIngest(itemID uuid.UUID) *ingest.IngestItem
		ResolveTroubledIngest(itemID uuid.UUID, method ingest.ResolutionType, context map[string]string) error
	}

	pendingItem struct {
		collectionID uuid.UUID
		position     int
	}

	// service drives submitted collections through the ingestion
	// pipeline one item at a time. Each collection has at most one
	// in-flight ingest item; the next is only submitted once the
	// pipeline reports the previous one consumed. Cross-collection
	// parallelism comes from the ingest services worker pool.
	service struct {
		*sync.Mutex

		eventBus event.EventCoordinator
		data     dataStore
		ingests  ingestQueue

		// pending maps in-flight ingest item IDs to the collection
		// position they carry.
		pending map[uuid.UUID]pendingItem
	}
)

func New(eventBus event.EventCoordinator, data dataStore, ingests ingestQueue) *service {
	return &service{
		Mutex:    &sync.Mutex{},
		eventBus: eventBus,
		data:     data,
		ingests:  ingests,
		pending:  make(map[uuid.UUID]pendingItem),
	}
}

// Run subscribes to collection submissions and ingest pipeline
// messages, blocking until the context provided is cancelled. All
// event handling happens on this goroutine; the store serializes
// concurrent transitions for the same collection regardless.
func (service *service) Run(ctx context.Context) error {
	// The channel is buffered because handling one message can
	// dispatch another (aborting a content-failed item emits its
	// completion); an unbuffered channel would deadlock this loop.
	messages := make(event.HandlerChannel, 128)
	service.eventBus.RegisterHandlerChannel(messages,
		event.CollectionSubmittedEvent, event.IngestUpdateEvent, event.IngestCompleteEvent)

	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-messages:
			id, ok := message.Payload.(uuid.UUID)
			if !ok {
				log.Warnf("Discarding message %v with non-UUID payload\n", message.Event)
				continue
			}

			switch message.Event {
			case event.CollectionSubmittedEvent:
				service.handleSubmission(id)
			case event.IngestCompleteEvent:
				service.handleIngestComplete(id)
			case event.IngestUpdateEvent:
				service.handleIngestUpdate(id)
			}
		}
	}
}

// handleSubmission begins processing of a pending collection. A
// duplicate submission message for a collection which is already
// running (and has an in-flight item) is ignored.
func (service *service) handleSubmission(collectionID uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	for _, pending := range service.pending {
		if pending.collectionID == collectionID {
			log.Warnf("Ignoring submission for collection %s which already has an in-flight item\n", collectionID)
			return
		}
	}

	running, err := service.data.MarkCollectionRunning(collectionID)
	if err != nil {
		log.Errorf("Submission of collection %s failed: %v\n", collectionID, err)
		return
	}

	log.Infof("Collection %s is now running (cursor=%d total=%d)\n", collectionID, running.CurrentCursor, running.TotalVideoCount)
	service.submitNextItem(running)
}

// submitNextItem hands the item under the collections cursor to the
// ingestion pipeline, or completes the collection when the cursor has
// consumed every item.
//
// Note: callers must hold the mutex.
func (service *service) submitNextItem(c *Collection) {
	item, err := service.data.GetCollectionItemAtPosition(c.ID, c.CurrentCursor)
	if errors.Is(err, ErrItemNotFound) {
		if _, err := service.data.CompleteCollection(c.ID); err != nil {
			log.Errorf("Completion of collection %s failed: %v\n", c.ID, err)
			return
		}

		log.Infof("Collection %s has completed\n", c.ID)
		service.eventBus.Dispatch(event.CollectionCompleteEvent, c.ID)
		return
	} else if err != nil {
		service.failCollection(c.ID, fmt.Sprintf("item lookup at position %d failed: %s", c.CurrentCursor, err.Error()))
		return
	}

	ingestID, err := service.ingests.QueueIngest(item.SourceURL, &c.ID)
	if err != nil {
		service.failCollection(c.ID, fmt.Sprintf("item at position %d could not be queued: %s", item.Position, err.Error()))
		return
	}

	service.pending[ingestID] = pendingItem{collectionID: c.ID, position: item.Position}
	service.eventBus.Dispatch(event.CollectionUpdateEvent, c.ID)
}

// handleIngestComplete consumes a pipeline completion for an item this
// service submitted: the collections cursor moves past the item and
// the next one is submitted. Completions for items this service does
// not know (e.g. direct single-video submissions) are ignored.
func (service *service) handleIngestComplete(ingestID uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	pending, ok := service.pending[ingestID]
	if !ok {
		return
	}
	delete(service.pending, ingestID)

	advanced, err := service.data.AdvanceCollectionCursor(pending.collectionID, pending.position)
	if err != nil {
		log.Errorf("Cursor advance for collection %s past position %d failed: %v\n", pending.collectionID, pending.position, err)
		return
	}

	service.eventBus.Dispatch(event.CollectionUpdateEvent, advanced.ID)
	service.submitNextItem(advanced)
}

// handleIngestUpdate inspects a troubled pipeline item belonging to a
// collection. Content failures are skipped (the item is aborted, which
// advances the cursor through the completion message it emits); any
// other trouble fails the whole collection and refunds the unconsumed
// remainder.
func (service *service) handleIngestUpdate(ingestID uuid.UUID) {
	service.Lock()
	pending, ok := service.pending[ingestID]
	service.Unlock()
	if !ok {
		return
	}

	item := service.ingests.GetIngest(ingestID)
	if item == nil || item.Trouble == nil {
		return
	}

	if item.Trouble.Type() == ingest.ContentFailure {
		log.Warnf("Skipping unavailable content at position %d of collection %s: %s\n", pending.position, pending.collectionID, item.Trouble.Error())
		if err := service.ingests.ResolveTroubledIngest(ingestID, ingest.Abort, nil); err != nil {
			log.Errorf("Abort of content-failed item %s failed: %v\n", ingestID, err)
		}
		return
	}

	message := fmt.Sprintf("item at position %d failed: %s", pending.position, item.Trouble.Error())
	service.Lock()
	delete(service.pending, ingestID)
	service.failCollection(pending.collectionID, message)
	service.Unlock()

	if err := service.ingests.ResolveTroubledIngest(ingestID, ingest.Abort, nil); err != nil {
		log.Errorf("Abort of failed item %s failed: %v\n", ingestID, err)
	}
}

// failCollection moves the collection to its error state; the store
// refunds the unconsumed remainder in the same transaction.
//
// Note: callers must hold the mutex.
func (service *service) failCollection(collectionID uuid.UUID, message string) {
	if _, err := service.data.FailCollectionAndRefund(collectionID, message); err != nil {
		log.Errorf("Failure transition for collection %s did not apply: %v\n", collectionID, err)
		return
	}

	log.Errorf("Collection %s has failed: %s\n", collectionID, message)
	service.eventBus.Dispatch(event.CollectionUpdateEvent, collectionID)
}
