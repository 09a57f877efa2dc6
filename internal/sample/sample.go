package sample

import (
	"time"

	"github.com/crate-audio/crate/internal/database"
	"github.com/google/uuid"
)

type Status string

const (
	// Processing samples have a row in the store but their audio is
	// still travelling through the ingestion pipeline.
	Processing Status = "processing"
	// Ready samples have audio uploaded and all enrichment complete.
	Ready Status = "ready"
	// Failed samples hit an unrecoverable enrichment error after the
	// row was created. Their audio may be partially available.
	Failed Status = "failed"
)

type (
	// Stem is a single separated instrument track belonging to a
	// sample, stored alongside its siblings in a JSONB column.
	Stem struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}

	// Sample is an audio clip extracted from a downloaded video,
	// together with its enrichment (transcript, stems, waveform).
	Sample struct {
		ID              uuid.UUID                     `db:"id" json:"id"`
		SourceURL       string                        `db:"source_url" json:"source_url"`
		Platform        string                        `db:"platform" json:"platform"`
		PlatformID      string                        `db:"platform_id" json:"platform_id"`
		CreatorID       *uuid.UUID                    `db:"creator_id" json:"creator_id"`
		CollectionID    *uuid.UUID                    `db:"collection_id" json:"collection_id"`
		Status          Status                        `db:"status" json:"status"`
		Title           string                        `db:"title" json:"title"`
		DurationSeconds float64                       `db:"duration_seconds" json:"duration_seconds"`
		AudioURL        string                        `db:"audio_url" json:"audio_url"`
		WaveformURL     string                        `db:"waveform_url" json:"waveform_url"`
		Stems           database.JsonColumn[[]Stem]   `db:"stems" json:"stems"`
		Transcript      string                        `db:"transcript" json:"transcript"`
		Tags            database.JsonColumn[[]string] `db:"tags" json:"tags"`
		PlayCount       int64                         `db:"play_count" json:"play_count"`
		LikeCount       int64                         `db:"like_count" json:"like_count"`
		DeletedAt       *time.Time                    `db:"deleted_at" json:"-"`
		CreatedAt       time.Time                     `db:"created_at" json:"created_at"`
		UpdatedAt       time.Time                     `db:"updated_at" json:"updated_at"`
	}
)
