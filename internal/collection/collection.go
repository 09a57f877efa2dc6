package collection

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	// Pending collections have been persisted and debited, but no
	// item has been handed to the ingestion pipeline yet.
	Pending Status = "pending"
	// Running collections have at least one item submitted for
	// ingestion. Items are processed strictly in position order.
	Running Status = "running"
	// Completed collections have processed (or skipped) every item.
	// This state is terminal.
	Completed Status = "completed"
	// Errored collections hit an unrecoverable failure. The credits
	// for the unprocessed remainder have been refunded. An admin may
	// reset the collection back to pending.
	Errored Status = "error"
)

func (s Status) String() string { return string(s) }

type (
	// Item is one video inside a collection, addressed by its
	// position. Positions are contiguous from zero and fixed at
	// submission time.
	Item struct {
		ID           uuid.UUID `db:"id" json:"id"`
		CollectionID uuid.UUID `db:"collection_id" json:"collection_id"`
		Position     int       `db:"position" json:"position"`
		SourceURL    string    `db:"source_url" json:"source_url"`
		CreatedAt    time.Time `db:"created_at" json:"created_at"`
	}

	// Collection is a batch of videos submitted together by a user.
	// The user is debited one credit per video up-front; credits for
	// videos never processed are refunded if the collection fails or
	// is reset.
	Collection struct {
		ID              uuid.UUID  `db:"id" json:"id"`
		OwnerID         uuid.UUID  `db:"owner_id" json:"owner_id"`
		Status          Status     `db:"status" json:"status"`
		TotalVideoCount int        `db:"total_video_count" json:"total_video_count"`
		ProcessedCount  int        `db:"processed_count" json:"processed_count"`
		CurrentCursor   int        `db:"current_cursor" json:"current_cursor"`
		CreditsRefunded int        `db:"credits_refunded" json:"credits_refunded"`
		ErrorMessage    *string    `db:"error_message" json:"error_message"`
		StartedAt       *time.Time `db:"started_at" json:"started_at"`
		CompletedAt     *time.Time `db:"completed_at" json:"completed_at"`
		CreatedAt       time.Time  `db:"created_at" json:"created_at"`
		UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	}
)

// RemainingCount is the number of items which have not yet been
// processed or skipped.
func (c *Collection) RemainingCount() int {
	remaining := c.TotalVideoCount - c.ProcessedCount
	if remaining < 0 {
		return 0
	}

	return remaining
}

// RefundDue is the number of credits to return to the owner when the
// collection fails or is reset: the unconsumed remainder, less
// whatever has already been refunded for this collection. The refunded
// ledger only ever grows, so two transitions racing over the same
// remainder can never both pay it out.
func (c *Collection) RefundDue() int {
	due := c.RemainingCount() - c.CreditsRefunded
	if due < 0 {
		return 0
	}

	return due
}
