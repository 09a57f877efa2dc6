package collection_test

import (
	"reflect"
	"testing"

	"github.com/crate-audio/crate/internal/collection"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/stretchr/testify/assert"
)

func Test_RefundDue_UnconsumedRemainder(t *testing.T) {
	c := &collection.Collection{
		Status:          collection.Running,
		TotalVideoCount: 10,
		ProcessedCount:  4,
	}

	assert.Equal(t, 6, c.RemainingCount())
	assert.Equal(t, 6, c.RefundDue())
}

func Test_RefundDue_AccountsForPriorRefund(t *testing.T) {
	// The failure transition already paid the remainder out; a
	// subsequent reset has nothing further to refund.
	c := &collection.Collection{
		Status:          collection.Errored,
		TotalVideoCount: 10,
		ProcessedCount:  4,
		CreditsRefunded: 6,
	}

	assert.Equal(t, 0, c.RefundDue())
}

func Test_RefundDue_FullyProcessedLeavesNothing(t *testing.T) {
	c := &collection.Collection{
		Status:          collection.Completed,
		TotalVideoCount: 10,
		ProcessedCount:  10,
	}

	assert.Equal(t, 0, c.RefundDue())
}

func Test_RefundDue_NeverNegative(t *testing.T) {
	c := &collection.Collection{
		TotalVideoCount: 10,
		ProcessedCount:  8,
		CreditsRefunded: 6,
	}

	assert.Equal(t, 0, c.RefundDue())
}

// The columns of the collections and collection_items tables. Reads
// use `SELECT *`, so every column must have a matching destination
// field or scanning fails at runtime, and every tagged field needs a
// backing column or it silently reads as zero. Keep these lists in
// step with the schema migrations.
var (
	collectionColumns = []string{
		"id", "owner_id", "status", "total_video_count", "processed_count",
		"current_cursor", "credits_refunded", "error_message", "started_at",
		"completed_at", "created_at", "updated_at",
	}
	itemColumns = []string{"id", "collection_id", "position", "source_url", "created_at"}
)

func Test_Collection_ScansEveryColumn(t *testing.T) {
	mapper := reflectx.NewMapper("db")

	collectionFields := mapper.TypeMap(reflect.TypeOf(collection.Collection{}))
	for _, column := range collectionColumns {
		assert.Contains(t, collectionFields.Names, column, "collections column %q has no destination field", column)
	}
	assert.Len(t, collectionFields.Names, len(collectionColumns))

	itemFields := mapper.TypeMap(reflect.TypeOf(collection.Item{}))
	for _, column := range itemColumns {
		assert.Contains(t, itemFields.Names, column, "collection_items column %q has no destination field", column)
	}
	assert.Len(t, itemFields.Names, len(itemColumns))
}
