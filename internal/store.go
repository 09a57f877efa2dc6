package internal

import (
	"fmt"

	"github.com/crate-audio/crate/internal/collection"
	"github.com/crate-audio/crate/internal/creator"
	"github.com/crate-audio/crate/internal/database"
	"github.com/crate-audio/crate/internal/sample"
	"github.com/crate-audio/crate/internal/user"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type (
	// storeOrchestrator is responsible for managing all of Crate's
	// resources, especially highly-relational data. You can think of
	// all the data stores below this layer being 'dumb', and this
	// store linking them together and providing the database instance
	//
	// If consumers need to be able to access data stores directly,
	// they're welcome to do so - however caution should be taken as
	// stores have no obligation to take care of relational data
	// (which is the orchestrator's job)
	storeOrchestrator struct {
		db              database.Manager
		UserStore       *user.Store
		CreatorStore    *creator.Store
		CollectionStore *collection.Store
		SampleStore     *sample.Store
	}
)

func newStoreOrchestrator(db database.Manager) (*storeOrchestrator, error) {
	if db.GetSqlxDb() == nil {
		return nil, fmt.Errorf("cannot construct data store with a disconnected database")
	}

	return &storeOrchestrator{
		db:              db,
		UserStore:       user.NewStore(),
		CreatorStore:    &creator.Store{},
		CollectionStore: collection.NewStore(),
		SampleStore:     sample.NewStore(),
	}, nil
}

// Users

func (store *storeOrchestrator) CreateUser(username []byte, rawPassword []byte, initialCredits int, isAdmin bool) error {
	return store.UserStore.Create(store.db.GetSqlxDb(), username, rawPassword, initialCredits, isAdmin)
}

func (store *storeOrchestrator) ListUsers() ([]*user.User, error) {
	return store.UserStore.List(store.db.GetSqlxDb())
}

func (store *storeOrchestrator) GetUserWithUsernameAndPassword(username []byte, rawPassword []byte) (*user.User, error) {
	return store.UserStore.GetWithUsernameAndPassword(store.db.GetSqlxDb(), username, rawPassword)
}

func (store *storeOrchestrator) GetUserWithID(id uuid.UUID) (*user.User, error) {
	return store.UserStore.GetWithID(store.db.GetSqlxDb(), id)
}

func (store *storeOrchestrator) RecordUserLogin(userID uuid.UUID) error {
	return store.UserStore.RecordLogin(store.db.GetSqlxDb(), userID)
}

func (store *storeOrchestrator) RecordUserRefresh(userID uuid.UUID) error {
	return store.UserStore.RecordRefresh(store.db.GetSqlxDb(), userID)
}

// Creators

func (store *storeOrchestrator) GetCreatorByUsername(username string) (*creator.Creator, error) {
	return store.CreatorStore.GetByUsername(store.db.GetSqlxDb(), username)
}

func (store *storeOrchestrator) GetCreatorByPlatformID(platformID string) (*creator.Creator, error) {
	return store.CreatorStore.GetByPlatformID(store.db.GetSqlxDb(), platformID)
}

func (store *storeOrchestrator) GetCreator(id uuid.UUID) (*creator.Creator, error) {
	return store.CreatorStore.GetByID(store.db.GetSqlxDb(), id)
}

func (store *storeOrchestrator) ListCreators() ([]*creator.Creator, error) {
	return store.CreatorStore.List(store.db.GetSqlxDb())
}

func (store *storeOrchestrator) SaveCreator(c *creator.Creator) error {
	return store.CreatorStore.Save(store.db.GetSqlxDb(), c)
}

// Samples

func (store *storeOrchestrator) SaveSample(s *sample.Sample) error {
	return store.SampleStore.Save(store.db.GetSqlxDb(), s)
}

func (store *storeOrchestrator) GetSample(id uuid.UUID) (*sample.Sample, error) {
	return store.SampleStore.Get(store.db.GetSqlxDb(), id)
}

func (store *storeOrchestrator) ListSamples(filter sample.ListFilter) ([]*sample.Sample, error) {
	return store.SampleStore.List(store.db.GetSqlxDb(), filter)
}

func (store *storeOrchestrator) DeleteSample(id uuid.UUID) error {
	return store.SampleStore.Delete(store.db.GetSqlxDb(), id)
}

func (store *storeOrchestrator) RecordSamplePlay(id uuid.UUID) error {
	return store.SampleStore.RecordPlay(store.db.GetSqlxDb(), id)
}

// Collections
//
// All collection transitions which touch credits run inside a single
// transaction so that a crash between the state change and the credit
// movement cannot leave the two out of step.

// CreateCollectionWithItems persists a new collection and debits the
// owner one credit per video atomically. An insufficient balance rolls
// the whole submission back.
func (store *storeOrchestrator) CreateCollectionWithItems(ownerID uuid.UUID, sourceURLs []string) (*collection.Collection, error) {
	newCollection := &collection.Collection{OwnerID: ownerID}
	err := store.db.WrapTx(func(tx *sqlx.Tx) error {
		if err := store.UserStore.Debit(tx, ownerID, len(sourceURLs)); err != nil {
			return err
		}

		return store.CollectionStore.Create(tx, newCollection, sourceURLs)
	})
	if err != nil {
		return nil, err
	}

	return newCollection, nil
}

func (store *storeOrchestrator) GetCollection(id uuid.UUID) (*collection.Collection, error) {
	return store.CollectionStore.Get(store.db.GetSqlxDb(), id)
}

func (store *storeOrchestrator) ListCollectionsForOwner(ownerID uuid.UUID) ([]*collection.Collection, error) {
	return store.CollectionStore.ListForOwner(store.db.GetSqlxDb(), ownerID)
}

func (store *storeOrchestrator) GetCollectionItemAtPosition(collectionID uuid.UUID, position int) (*collection.Item, error) {
	return store.CollectionStore.GetItemAtPosition(store.db.GetSqlxDb(), collectionID, position)
}

func (store *storeOrchestrator) MarkCollectionRunning(id uuid.UUID) (*collection.Collection, error) {
	var result *collection.Collection
	err := store.db.WrapTx(func(tx *sqlx.Tx) error {
		updated, err := store.CollectionStore.MarkRunning(tx, id)
		result = updated
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (store *storeOrchestrator) AdvanceCollectionCursor(id uuid.UUID, position int) (*collection.Collection, error) {
	var result *collection.Collection
	err := store.db.WrapTx(func(tx *sqlx.Tx) error {
		updated, err := store.CollectionStore.AdvanceCursor(tx, id, position)
		result = updated
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (store *storeOrchestrator) CompleteCollection(id uuid.UUID) (*collection.Collection, error) {
	var result *collection.Collection
	err := store.db.WrapTx(func(tx *sqlx.Tx) error {
		updated, err := store.CollectionStore.Complete(tx, id)
		result = updated
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// FailCollectionAndRefund fails the collection and refunds the
// unconsumed remainder to its owner in one transaction. The store
// reports a zero refund for a collection which already failed, which
// is what makes a duplicate failure message harmless.
func (store *storeOrchestrator) FailCollectionAndRefund(id uuid.UUID, message string) (*collection.Collection, error) {
	var result *collection.Collection
	err := store.db.WrapTx(func(tx *sqlx.Tx) error {
		failed, refund, err := store.CollectionStore.Fail(tx, id, message)
		if err != nil {
			return err
		}

		result = failed
		return store.UserStore.Refund(tx, failed.OwnerID, refund)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ResetCollection returns an errored (or stuck running) collection to
// pending with its progress zeroed, refunding the unconsumed remainder
// to the owner. Credits already refunded when the collection failed
// are not paid out a second time.
func (store *storeOrchestrator) ResetCollection(id uuid.UUID) (*collection.Collection, error) {
	var result *collection.Collection
	err := store.db.WrapTx(func(tx *sqlx.Tx) error {
		reset, refund, err := store.CollectionStore.Reset(tx, id)
		if err != nil {
			return err
		}

		result = reset
		return store.UserStore.Refund(tx, reset.OwnerID, refund)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
