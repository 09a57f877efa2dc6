package sample_test

import (
	"reflect"
	"testing"

	"github.com/crate-audio/crate/internal/sample"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/stretchr/testify/assert"
)

// The columns of the samples table. Reads use `SELECT *`, so every
// column must have a matching destination field on Sample or scanning
// fails at runtime. Keep this list in step with the schema migrations.
var sampleColumns = []string{
	"id", "source_url", "platform", "platform_id", "creator_id", "collection_id",
	"status", "title", "duration_seconds", "audio_url", "waveform_url", "stems",
	"transcript", "tags", "play_count", "like_count", "created_at", "updated_at",
	"deleted_at",
}

func Test_Sample_ScansEveryColumn(t *testing.T) {
	mapper := reflectx.NewMapper("db")
	fields := mapper.TypeMap(reflect.TypeOf(sample.Sample{}))

	for _, column := range sampleColumns {
		assert.Contains(t, fields.Names, column, "samples column %q has no destination field on Sample", column)
	}
}
