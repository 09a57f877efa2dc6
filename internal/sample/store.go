package sample

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/crate-audio/crate/internal/database"
	"github.com/google/uuid"
)

var ErrSampleNotFound = errors.New("sample could not be found")

type (
	// ListFilter narrows the result set of a sample listing. Zero
	// values mean "no restriction" for that field.
	ListFilter struct {
		CreatorID    *uuid.UUID
		CollectionID *uuid.UUID
		Status       *Status
		TitleSearch  string
		Limit        int
		Offset       int
	}

	Store struct{}
)

func NewStore() *Store { return &Store{} }

// Save persists the sample provided. Samples are keyed on their
// platform unique ID; saving a sample whose platform ID already exists
// updates the existing row in place and the ID of the sample provided
// is overwritten with the existing row's ID.
func (store *Store) Save(db database.Queryable, s *Sample) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	var updatedSample Sample
	if err := db.Get(&updatedSample, `
		INSERT INTO samples(id, source_url, platform, platform_id, creator_id, collection_id, status,
			title, duration_seconds, audio_url, waveform_url, stems, transcript, tags, play_count,
			like_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, current_timestamp, current_timestamp)
		ON CONFLICT(platform_id) DO UPDATE
			SET (status, title, duration_seconds, audio_url, waveform_url, stems, transcript, tags,
				play_count, like_count, deleted_at, updated_at) =
			(EXCLUDED.status, EXCLUDED.title, EXCLUDED.duration_seconds, EXCLUDED.audio_url,
				EXCLUDED.waveform_url, EXCLUDED.stems, EXCLUDED.transcript, EXCLUDED.tags,
				EXCLUDED.play_count, EXCLUDED.like_count, NULL, current_timestamp)
		RETURNING id, created_at, updated_at`,
		s.ID, s.SourceURL, s.Platform, s.PlatformID, s.CreatorID, s.CollectionID, s.Status,
		s.Title, s.DurationSeconds, s.AudioURL, s.WaveformURL, s.Stems, s.Transcript, s.Tags,
		s.PlayCount, s.LikeCount,
	); err != nil {
		return fmt.Errorf("failed to save sample: %w", err)
	}

	s.ID = updatedSample.ID
	s.CreatedAt = updatedSample.CreatedAt
	s.UpdatedAt = updatedSample.UpdatedAt
	return nil
}

func (store *Store) Get(db database.Queryable, id uuid.UUID) (*Sample, error) {
	var result Sample
	err := db.Get(&result, `SELECT * FROM samples WHERE id=$1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSampleNotFound
	} else if err != nil {
		return nil, err
	}

	return &result, nil
}

func (store *Store) GetByPlatformID(db database.Queryable, platformID string) (*Sample, error) {
	var result Sample
	err := db.Get(&result, `SELECT * FROM samples WHERE platform_id=$1 AND deleted_at IS NULL`, platformID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSampleNotFound
	} else if err != nil {
		return nil, err
	}

	return &result, nil
}

// List returns the samples matching the filter provided, most recent
// first. Soft-deleted samples are never returned.
func (store *Store) List(db database.Queryable, filter ListFilter) ([]*Sample, error) {
	builder := squirrel.
		Select("*").
		From("samples").
		Where("deleted_at IS NULL").
		OrderBy("created_at DESC").
		PlaceholderFormat(squirrel.Dollar)

	if filter.CreatorID != nil {
		builder = builder.Where(squirrel.Eq{"creator_id": *filter.CreatorID})
	}
	if filter.CollectionID != nil {
		builder = builder.Where(squirrel.Eq{"collection_id": *filter.CollectionID})
	}
	if filter.Status != nil {
		builder = builder.Where(squirrel.Eq{"status": *filter.Status})
	}
	if filter.TitleSearch != "" {
		builder = builder.Where(squirrel.ILike{"title": "%" + filter.TitleSearch + "%"})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct sample listing query: %w", err)
	}

	var results []*Sample
	if err := db.Select(&results, query, args...); err != nil {
		return nil, err
	}

	return results, nil
}

// Delete soft-deletes the sample with the ID given. The row is
// retained so that re-submitting the same source video can revive it
// rather than duplicate it.
func (store *Store) Delete(db database.Queryable, id uuid.UUID) error {
	result, err := db.Exec(`UPDATE samples SET deleted_at=$1 WHERE id=$2 AND deleted_at IS NULL`, time.Now(), id)
	if err != nil {
		return err
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrSampleNotFound
	}

	return nil
}

// RecordPlay bumps the play counter for the sample given. Failures are
// non-fatal for the caller so only the error is surfaced.
func (store *Store) RecordPlay(db database.Queryable, id uuid.UUID) error {
	_, err := db.Exec(`UPDATE samples SET play_count=play_count+1 WHERE id=$1 AND deleted_at IS NULL`, id)
	return err
}
