package collection_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/crate-audio/crate/internal/collection"
	"github.com/crate-audio/crate/internal/event"
	"github.com/crate-audio/crate/internal/ingest"
	"github.com/crate-audio/crate/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

// fakeStore is an in-memory stand-in for the transactional collection
// store. It applies the same transition rules, minus the SQL.
type fakeStore struct {
	mu          sync.Mutex
	collections map[uuid.UUID]*collection.Collection
	items       map[uuid.UUID][]*collection.Item
	refunded    map[uuid.UUID]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collections: make(map[uuid.UUID]*collection.Collection),
		items:       make(map[uuid.UUID][]*collection.Item),
		refunded:    make(map[uuid.UUID]int),
	}
}

func (f *fakeStore) addCollection(urls ...string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New()
	f.collections[id] = &collection.Collection{
		ID:              id,
		OwnerID:         uuid.New(),
		Status:          collection.Pending,
		TotalVideoCount: len(urls),
	}
	for pos, url := range urls {
		f.items[id] = append(f.items[id], &collection.Item{
			ID:           uuid.New(),
			CollectionID: id,
			Position:     pos,
			SourceURL:    url,
		})
	}

	return id
}

func (f *fakeStore) GetCollection(id uuid.UUID) (*collection.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.collections[id]
	if !ok {
		return nil, collection.ErrCollectionNotFound
	}

	snapshot := *c
	return &snapshot, nil
}

func (f *fakeStore) GetCollectionItemAtPosition(collectionID uuid.UUID, position int) (*collection.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, item := range f.items[collectionID] {
		if item.Position == position {
			return item, nil
		}
	}

	return nil, collection.ErrItemNotFound
}

func (f *fakeStore) MarkCollectionRunning(id uuid.UUID) (*collection.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.collections[id]
	if !ok {
		return nil, collection.ErrCollectionNotFound
	}
	if c.Status != collection.Pending && c.Status != collection.Running {
		return nil, collection.ErrIllegalTransition
	}

	c.Status = collection.Running
	snapshot := *c
	return &snapshot, nil
}

func (f *fakeStore) AdvanceCollectionCursor(id uuid.UUID, position int) (*collection.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.collections[id]
	if !ok {
		return nil, collection.ErrCollectionNotFound
	}
	if c.Status != collection.Running {
		return nil, collection.ErrIllegalTransition
	}

	if position >= c.CurrentCursor {
		c.CurrentCursor = position + 1
		c.ProcessedCount++
	}

	snapshot := *c
	return &snapshot, nil
}

func (f *fakeStore) CompleteCollection(id uuid.UUID) (*collection.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.collections[id]
	if c.Status != collection.Running || c.CurrentCursor < c.TotalVideoCount {
		return nil, collection.ErrIllegalTransition
	}

	c.Status = collection.Completed
	snapshot := *c
	return &snapshot, nil
}

func (f *fakeStore) FailCollectionAndRefund(id uuid.UUID, message string) (*collection.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.collections[id]
	if c.Status == collection.Errored {
		snapshot := *c
		return &snapshot, nil
	}

	refund := c.RefundDue()
	c.Status = collection.Errored
	c.ErrorMessage = &message
	c.CreditsRefunded += refund
	f.refunded[id] += refund
	snapshot := *c
	return &snapshot, nil
}

func (f *fakeStore) ResetCollection(id uuid.UUID) (*collection.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.collections[id]
	if !ok {
		return nil, collection.ErrCollectionNotFound
	}
	if c.Status != collection.Errored && c.Status != collection.Running {
		return nil, collection.ErrIllegalTransition
	}

	refund := c.RefundDue()
	c.Status = collection.Pending
	c.ProcessedCount = 0
	c.CurrentCursor = 0
	c.CreditsRefunded += refund
	c.ErrorMessage = nil
	f.refunded[id] += refund
	snapshot := *c
	return &snapshot, nil
}

// fakeIngests simulates the ingestion pipeline: each queued item is
// held until the test settles it with a success or a trouble.
type fakeIngests struct {
	mu    sync.Mutex
	bus   event.EventCoordinator
	items map[uuid.UUID]*ingest.IngestItem
	order []string
}

func newFakeIngests(bus event.EventCoordinator) *fakeIngests {
	return &fakeIngests{bus: bus, items: make(map[uuid.UUID]*ingest.IngestItem)}
}

func (f *fakeIngests) QueueIngest(sourceURL string, collectionID *uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New()
	f.items[id] = &ingest.IngestItem{ID: id, SourceURL: sourceURL, CollectionID: collectionID, State: ingest.Idle}
	f.order = append(f.order, sourceURL)
	return id, nil
}

func (f *fakeIngests) GetIngest(itemID uuid.UUID) *ingest.IngestItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[itemID]
}

func (f *fakeIngests) ResolveTroubledIngest(itemID uuid.UUID, method ingest.ResolutionType, _ map[string]string) error {
	f.mu.Lock()
	item, ok := f.items[itemID]
	if !ok {
		f.mu.Unlock()
		return ingest.ErrIngestNotFound
	}
	if method == ingest.Abort {
		delete(f.items, itemID)
	}
	f.mu.Unlock()

	if method == ingest.Abort {
		f.bus.Dispatch(event.IngestCompleteEvent, item.ID)
	}
	return nil
}

// inFlight returns the ID of the single idle item in the queue, or nil
// when the queue is empty.
func (f *fakeIngests) inFlight() *uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, item := range f.items {
		if item.State == ingest.Idle {
			return &id
		}
	}

	return nil
}

func (f *fakeIngests) succeed(itemID uuid.UUID) {
	f.mu.Lock()
	delete(f.items, itemID)
	f.mu.Unlock()

	f.bus.Dispatch(event.IngestCompleteEvent, itemID)
}

func (f *fakeIngests) trouble(itemID uuid.UUID, trbl ingest.Trouble) {
	f.mu.Lock()
	item := f.items[itemID]
	item.State = ingest.Troubled
	item.Trouble = &trbl
	f.mu.Unlock()

	f.bus.Dispatch(event.IngestUpdateEvent, itemID)
}

func (f *fakeIngests) queuedOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.order...)
}

func startService(t *testing.T, bus event.EventCoordinator, store *fakeStore, ingests *fakeIngests) {
	srv := collection.New(bus, store, ingests)

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, srv.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

// waitForInFlight blocks until the pipeline holds an idle item, then
// returns its ID.
func waitForInFlight(t *testing.T, ingests *fakeIngests) uuid.UUID {
	var id *uuid.UUID
	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		id = ingests.inFlight()
		assert.NotNil(c, id)
	}, time.Second*2, time.Millisecond*20)

	return *id
}

func Test_Collection_ItemsProcessedSequentially(t *testing.T) {
	bus := event.New()
	store := newFakeStore()
	ingests := newFakeIngests(bus)
	collectionID := store.addCollection("https://t/1", "https://t/2", "https://t/3")

	startService(t, bus, store, ingests)
	bus.Dispatch(event.CollectionSubmittedEvent, collectionID)

	for i := 0; i < 3; i++ {
		itemID := waitForInFlight(t, ingests)
		assert.Len(t, ingests.queuedOrder(), i+1, "next item must not be queued before the previous settles")
		ingests.succeed(itemID)
	}

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		final, err := store.GetCollection(collectionID)
		assert.Nil(c, err)
		assert.Equal(c, collection.Completed, final.Status)
		assert.Equal(c, 3, final.ProcessedCount)
	}, time.Second*2, time.Millisecond*20)

	assert.Equal(t, []string{"https://t/1", "https://t/2", "https://t/3"}, ingests.queuedOrder())
	assert.Zero(t, store.refunded[collectionID])
}

func Test_Collection_ContentFailureSkipsItem(t *testing.T) {
	bus := event.New()
	store := newFakeStore()
	ingests := newFakeIngests(bus)
	collectionID := store.addCollection("https://t/1", "https://t/2")

	startService(t, bus, store, ingests)
	bus.Dispatch(event.CollectionSubmittedEvent, collectionID)

	first := waitForInFlight(t, ingests)
	ingests.trouble(first, ingest.NewTrouble(errors.New("video removed"), ingest.ContentFailure))

	// The skipped item should be consumed and the next submitted.
	second := waitForInFlight(t, ingests)
	ingests.succeed(second)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		final, err := store.GetCollection(collectionID)
		assert.Nil(c, err)
		assert.Equal(c, collection.Completed, final.Status)
		assert.Equal(c, 2, final.ProcessedCount, "skipped items still count as consumed")
	}, time.Second*2, time.Millisecond*20)

	assert.Zero(t, store.refunded[collectionID], "skipping content must not refund")
}

func Test_Collection_PipelineFailureRefundsRemainder(t *testing.T) {
	bus := event.New()
	store := newFakeStore()
	ingests := newFakeIngests(bus)
	collectionID := store.addCollection("https://t/1", "https://t/2", "https://t/3", "https://t/4")

	startService(t, bus, store, ingests)
	bus.Dispatch(event.CollectionSubmittedEvent, collectionID)

	first := waitForInFlight(t, ingests)
	ingests.succeed(first)

	second := waitForInFlight(t, ingests)
	ingests.trouble(second, ingest.NewTrouble(errors.New("bucket unreachable"), ingest.StorageFailure))

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		final, err := store.GetCollection(collectionID)
		assert.Nil(c, err)
		assert.Equal(c, collection.Errored, final.Status)
		if assert.NotNil(c, final.ErrorMessage) {
			assert.Contains(c, *final.ErrorMessage, "position 1")
		}
	}, time.Second*2, time.Millisecond*20)

	assert.Equal(t, 3, store.refunded[collectionID], "the unconsumed remainder must be refunded exactly once")
	assert.Len(t, ingests.queuedOrder(), 2, "no further items may be submitted after failure")
}

func Test_Collection_ResetRefundsRemainderAndZeroesProgress(t *testing.T) {
	store := newFakeStore()
	sources := make([]string, 10)
	for i := range sources {
		sources[i] = fmt.Sprintf("https://t/%d", i)
	}
	collectionID := store.addCollection(sources...)

	_, err := store.MarkCollectionRunning(collectionID)
	assert.Nil(t, err)
	for i := 0; i < 4; i++ {
		_, err := store.AdvanceCollectionCursor(collectionID, i)
		assert.Nil(t, err)
	}

	reset, err := store.ResetCollection(collectionID)
	assert.Nil(t, err)
	assert.Equal(t, collection.Pending, reset.Status)
	assert.Zero(t, reset.ProcessedCount)
	assert.Zero(t, reset.CurrentCursor)
	assert.Nil(t, reset.ErrorMessage)
	assert.Equal(t, 6, store.refunded[collectionID], "reset must refund exactly the unconsumed remainder")
}

func Test_Collection_ResetAfterFailureDoesNotDoubleRefund(t *testing.T) {
	store := newFakeStore()
	sources := make([]string, 10)
	for i := range sources {
		sources[i] = fmt.Sprintf("https://t/%d", i)
	}
	collectionID := store.addCollection(sources...)

	_, err := store.MarkCollectionRunning(collectionID)
	assert.Nil(t, err)
	for i := 0; i < 4; i++ {
		_, err := store.AdvanceCollectionCursor(collectionID, i)
		assert.Nil(t, err)
	}

	_, err = store.FailCollectionAndRefund(collectionID, "bucket unreachable")
	assert.Nil(t, err)
	assert.Equal(t, 6, store.refunded[collectionID])

	reset, err := store.ResetCollection(collectionID)
	assert.Nil(t, err)
	assert.Equal(t, collection.Pending, reset.Status)
	assert.Zero(t, reset.ProcessedCount)
	assert.Equal(t, 6, store.refunded[collectionID], "reset must not pay out what the failure already refunded")

	// A stale failure landing after the reset can never push the
	// total refund past what the owner was debited.
	_, err = store.FailCollectionAndRefund(collectionID, "stale failure")
	assert.Nil(t, err)
	assert.LessOrEqual(t, store.refunded[collectionID], 10)
}

func Test_Collection_ResetAfterCompletionRefused(t *testing.T) {
	store := newFakeStore()
	collectionID := store.addCollection("https://t/1", "https://t/2")

	_, err := store.MarkCollectionRunning(collectionID)
	assert.Nil(t, err)
	for i := 0; i < 2; i++ {
		_, err := store.AdvanceCollectionCursor(collectionID, i)
		assert.Nil(t, err)
	}
	_, err = store.CompleteCollection(collectionID)
	assert.Nil(t, err)

	_, err = store.ResetCollection(collectionID)
	assert.ErrorIs(t, err, collection.ErrIllegalTransition)
	assert.Zero(t, store.refunded[collectionID], "resetting a completed collection must never refund")
}

func Test_Collection_ResetReprocessesFromFirstItem(t *testing.T) {
	bus := event.New()
	store := newFakeStore()
	ingests := newFakeIngests(bus)
	collectionID := store.addCollection("https://t/1", "https://t/2")

	startService(t, bus, store, ingests)
	bus.Dispatch(event.CollectionSubmittedEvent, collectionID)

	first := waitForInFlight(t, ingests)
	ingests.succeed(first)

	second := waitForInFlight(t, ingests)
	ingests.trouble(second, ingest.NewTrouble(errors.New("bucket unreachable"), ingest.StorageFailure))

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		failed, err := store.GetCollection(collectionID)
		assert.Nil(c, err)
		assert.Equal(c, collection.Errored, failed.Status)
	}, time.Second*2, time.Millisecond*20)
	assert.Equal(t, 1, store.refunded[collectionID])

	_, err := store.ResetCollection(collectionID)
	assert.Nil(t, err)
	bus.Dispatch(event.CollectionSubmittedEvent, collectionID)

	for i := 0; i < 2; i++ {
		itemID := waitForInFlight(t, ingests)
		ingests.succeed(itemID)
	}

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		final, err := store.GetCollection(collectionID)
		assert.Nil(c, err)
		assert.Equal(c, collection.Completed, final.Status)
		assert.Equal(c, 2, final.ProcessedCount)
	}, time.Second*2, time.Millisecond*20)

	assert.Equal(t, []string{"https://t/1", "https://t/2", "https://t/1", "https://t/2"}, ingests.queuedOrder(),
		"a reset collection must restart from its first item")
	assert.Equal(t, 1, store.refunded[collectionID], "reset must not refund what the failure already refunded")
}

func Test_Collection_DuplicateSubmissionIgnored(t *testing.T) {
	bus := event.New()
	store := newFakeStore()
	ingests := newFakeIngests(bus)
	collectionID := store.addCollection("https://t/1")

	startService(t, bus, store, ingests)
	bus.Dispatch(event.CollectionSubmittedEvent, collectionID)
	_ = waitForInFlight(t, ingests)

	bus.Dispatch(event.CollectionSubmittedEvent, collectionID)
	time.Sleep(time.Millisecond * 100)
	assert.Len(t, ingests.queuedOrder(), 1, "re-submission while an item is in flight must not queue a duplicate")
}
