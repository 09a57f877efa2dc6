package collection

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/crate-audio/crate/internal/database"
	"github.com/google/uuid"
)

var (
	ErrCollectionNotFound = errors.New("collection could not be found")
	ErrItemNotFound       = errors.New("collection item could not be found")

	// ErrIllegalTransition indicates that the requested state change
	// is not legal from the collection's current status. The caller
	// reloaded a stale view of the collection, or two actors raced.
	ErrIllegalTransition = errors.New("collection status transition is not legal")
)

type Store struct{}

func NewStore() *Store { return &Store{} }

// lockCollection takes a transaction-scoped advisory lock on the
// collection ID, then loads the row FOR UPDATE. All mutating store
// methods funnel through here so that concurrent transitions for the
// same collection serialize rather than interleave.
func (store *Store) lockCollection(db database.Queryable, id uuid.UUID) (*Collection, error) {
	if _, err := db.Exec(`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, id); err != nil {
		return nil, fmt.Errorf("failed to acquire collection lock: %w", err)
	}

	var result Collection
	err := db.Get(&result, `SELECT * FROM collections WHERE id=$1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCollectionNotFound
	} else if err != nil {
		return nil, err
	}

	return &result, nil
}

// Create persists the collection and its items in position order.
// Must run inside the same transaction as the owner's credit debit so
// that a failed debit rolls the collection back too.
func (store *Store) Create(db database.Queryable, collection *Collection, sourceURLs []string) error {
	if collection.ID == uuid.Nil {
		collection.ID = uuid.New()
	}
	collection.Status = Pending
	collection.TotalVideoCount = len(sourceURLs)

	if err := db.Get(collection, `
		INSERT INTO collections(id, owner_id, status, total_video_count)
		VALUES ($1, $2, $3, $4)
		RETURNING *`,
		collection.ID, collection.OwnerID, collection.Status, collection.TotalVideoCount,
	); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for position, sourceURL := range sourceURLs {
		if _, err := db.Exec(`
			INSERT INTO collection_items(id, collection_id, position, source_url)
			VALUES ($1, $2, $3, $4)`,
			uuid.New(), collection.ID, position, sourceURL,
		); err != nil {
			return fmt.Errorf("failed to create collection item #%d: %w", position, err)
		}
	}

	return nil
}

func (store *Store) Get(db database.Queryable, id uuid.UUID) (*Collection, error) {
	var result Collection
	err := db.Get(&result, `SELECT * FROM collections WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCollectionNotFound
	} else if err != nil {
		return nil, err
	}

	return &result, nil
}

func (store *Store) ListForOwner(db database.Queryable, ownerID uuid.UUID) ([]*Collection, error) {
	var results []*Collection
	if err := db.Select(&results, `SELECT * FROM collections WHERE owner_id=$1 ORDER BY created_at DESC`, ownerID); err != nil {
		return nil, err
	}

	return results, nil
}

// GetItemAtPosition returns the item at the position given, or
// ErrItemNotFound when the position is past the end of the collection.
func (store *Store) GetItemAtPosition(db database.Queryable, collectionID uuid.UUID, position int) (*Item, error) {
	var result Item
	err := db.Get(&result, `SELECT * FROM collection_items WHERE collection_id=$1 AND position=$2`, collectionID, position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	} else if err != nil {
		return nil, err
	}

	return &result, nil
}

func (store *Store) GetItem(db database.Queryable, itemID uuid.UUID) (*Item, error) {
	var result Item
	err := db.Get(&result, `SELECT * FROM collection_items WHERE id=$1`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	} else if err != nil {
		return nil, err
	}

	return &result, nil
}

// MarkRunning transitions a pending collection to running and stamps
// started_at. Legal from pending only; a collection already running is
// returned unchanged so that duplicate submission events are harmless.
func (store *Store) MarkRunning(db database.Queryable, id uuid.UUID) (*Collection, error) {
	current, err := store.lockCollection(db, id)
	if err != nil {
		return nil, err
	}

	switch current.Status {
	case Running:
		return current, nil
	case Pending:
	default:
		return nil, fmt.Errorf("cannot start collection in status %s: %w", current.Status, ErrIllegalTransition)
	}

	var result Collection
	if err := db.Get(&result, `
		UPDATE collections
		SET status=$2, started_at=$3, updated_at=current_timestamp
		WHERE id=$1
		RETURNING *`,
		id, Running, time.Now(),
	); err != nil {
		return nil, err
	}

	return &result, nil
}

// AdvanceCursor records that the item at position `position` has been
// consumed (processed or skipped) and moves the cursor past it. The
// cursor only ever moves forward: an advance for an already-consumed
// position is a no-op, which makes duplicate pipeline completion
// events safe.
func (store *Store) AdvanceCursor(db database.Queryable, id uuid.UUID, position int) (*Collection, error) {
	current, err := store.lockCollection(db, id)
	if err != nil {
		return nil, err
	}

	if current.Status != Running {
		return nil, fmt.Errorf("cannot advance collection in status %s: %w", current.Status, ErrIllegalTransition)
	}

	if position < current.CurrentCursor {
		return current, nil
	}

	var result Collection
	if err := db.Get(&result, `
		UPDATE collections
		SET current_cursor=$2, processed_count=processed_count+1, updated_at=current_timestamp
		WHERE id=$1
		RETURNING *`,
		id, position+1,
	); err != nil {
		return nil, err
	}

	return &result, nil
}

// Complete transitions a running collection whose cursor has reached
// the end to completed. This state is terminal.
func (store *Store) Complete(db database.Queryable, id uuid.UUID) (*Collection, error) {
	current, err := store.lockCollection(db, id)
	if err != nil {
		return nil, err
	}

	if current.Status != Running {
		return nil, fmt.Errorf("cannot complete collection in status %s: %w", current.Status, ErrIllegalTransition)
	}

	if current.CurrentCursor < current.TotalVideoCount {
		return nil, fmt.Errorf("cannot complete collection with %d unconsumed items: %w", current.TotalVideoCount-current.CurrentCursor, ErrIllegalTransition)
	}

	var result Collection
	if err := db.Get(&result, `
		UPDATE collections
		SET status=$2, completed_at=$3, updated_at=current_timestamp
		WHERE id=$1
		RETURNING *`,
		id, Completed, time.Now(),
	); err != nil {
		return nil, err
	}

	return &result, nil
}

// Fail transitions a running or pending collection to the error state
// and reports how many credits should be refunded: the unconsumed
// remainder, less anything this collection has already refunded. The
// caller must perform the refund inside the same transaction. A
// collection already in the error state refunds zero.
func (store *Store) Fail(db database.Queryable, id uuid.UUID, message string) (*Collection, int, error) {
	current, err := store.lockCollection(db, id)
	if err != nil {
		return nil, 0, err
	}

	switch current.Status {
	case Errored:
		return current, 0, nil
	case Pending, Running:
	default:
		return nil, 0, fmt.Errorf("cannot fail collection in status %s: %w", current.Status, ErrIllegalTransition)
	}

	refund := current.RefundDue()
	var result Collection
	if err := db.Get(&result, `
		UPDATE collections
		SET status=$2, error_message=$3, credits_refunded=credits_refunded+$4, updated_at=current_timestamp
		WHERE id=$1
		RETURNING *`,
		id, Errored, message, refund,
	); err != nil {
		return nil, 0, err
	}

	return &result, refund, nil
}

// Reset returns an errored or stuck running collection to pending so
// that it can be re-submitted from the beginning, and reports how many
// credits must be refunded to the owner: the unconsumed remainder,
// less anything already refunded when the collection failed. The
// caller must perform the refund inside the same transaction. The
// counters and cursor are zeroed so the next run starts from the first
// item; the refunded ledger is kept, so a stale failure arriving after
// the reset cannot pay the remainder out twice. Resetting a completed
// collection is refused.
func (store *Store) Reset(db database.Queryable, id uuid.UUID) (*Collection, int, error) {
	current, err := store.lockCollection(db, id)
	if err != nil {
		return nil, 0, err
	}

	switch current.Status {
	case Errored, Running:
	default:
		return nil, 0, fmt.Errorf("cannot reset collection in status %s: %w", current.Status, ErrIllegalTransition)
	}

	refund := current.RefundDue()
	var result Collection
	if err := db.Get(&result, `
		UPDATE collections
		SET status=$2, processed_count=0, current_cursor=0, credits_refunded=credits_refunded+$3,
			error_message=NULL, started_at=NULL, completed_at=NULL, updated_at=current_timestamp
		WHERE id=$1
		RETURNING *`,
		id, Pending, refund,
	); err != nil {
		return nil, 0, err
	}

	return &result, refund, nil
}
