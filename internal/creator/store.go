package creator

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/crate-audio/crate/internal/database"
	"github.com/google/uuid"
)

var ErrCreatorNotFound = errors.New("creator does not exist")

type (
	// Creator is the locally cached form of a social platform account
	// which published one or more of the samples known to Crate. The
	// profile stats are a snapshot taken at LastFetchedAt and are
	// refreshed by the fetch service when they exceed the cache TTL.
	Creator struct {
		ID             uuid.UUID `db:"id"`
		Platform       string    `db:"platform"`
		PlatformID     string    `db:"platform_id"`
		Username       string    `db:"username"`
		DisplayName    string    `db:"display_name"`
		AvatarURL      string    `db:"avatar_url"`
		Verified       bool      `db:"verified"`
		FollowerCount  int64     `db:"follower_count"`
		FollowingCount int64     `db:"following_count"`
		LikeCount      int64     `db:"like_count"`
		LastFetchedAt  time.Time `db:"last_fetched_at"`
		CreatedAt      time.Time `db:"created_at"`
		UpdatedAt      time.Time `db:"updated_at"`
	}

	Store struct{}
)

// Save upserts the provided Creator to the database. Existing rows to
// update are found using the platform ID as this is expected to be a
// stable identifier.
//
// NOTE: the ID of the creator may be UPDATED to match an existing DB
// entry (if any).
func (store *Store) Save(db database.Queryable, creator *Creator) error {
	var existingID uuid.UUID
	err := db.QueryRowx(`
		INSERT INTO creators(id, platform, platform_id, username, display_name, avatar_url, verified,
			follower_count, following_count, like_count, last_fetched_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, current_timestamp, current_timestamp)
		ON CONFLICT(platform_id) DO UPDATE SET
			username=EXCLUDED.username,
			display_name=EXCLUDED.display_name,
			avatar_url=EXCLUDED.avatar_url,
			verified=EXCLUDED.verified,
			follower_count=EXCLUDED.follower_count,
			following_count=EXCLUDED.following_count,
			like_count=EXCLUDED.like_count,
			last_fetched_at=EXCLUDED.last_fetched_at,
			updated_at=current_timestamp
		RETURNING id
	`, creator.ID, creator.Platform, creator.PlatformID, creator.Username, creator.DisplayName,
		creator.AvatarURL, creator.Verified, creator.FollowerCount, creator.FollowingCount,
		creator.LikeCount, creator.LastFetchedAt,
	).Scan(&existingID)
	if err != nil {
		return fmt.Errorf("failed to upsert creator %s: %w", creator.Username, err)
	}

	creator.ID = existingID
	return nil
}

// GetByUsername searches for an existing creator with the normalized
// username provided.
func (store *Store) GetByUsername(db database.Queryable, username string) (*Creator, error) {
	return store.getCreator(db, squirrel.Eq{"username": username})
}

// GetByPlatformID searches for an existing creator with the platform
// unique ID provided.
func (store *Store) GetByPlatformID(db database.Queryable, platformID string) (*Creator, error) {
	return store.getCreator(db, squirrel.Eq{"platform_id": platformID})
}

// GetByID searches for an existing creator with the Crate PK ID provided.
func (store *Store) GetByID(db database.Queryable, id uuid.UUID) (*Creator, error) {
	return store.getCreator(db, squirrel.Eq{"id": id})
}

func (store *Store) getCreator(db database.Queryable, where squirrel.Eq) (*Creator, error) {
	query, args, err := squirrel.
		Select("*").
		From("creators").
		Where(where).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct select creator query: %w", err)
	}

	var result Creator
	if err := db.Get(&result, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCreatorNotFound
		}

		return nil, err
	}

	return &result, nil
}

func (store *Store) List(db database.Queryable) ([]*Creator, error) {
	var results []*Creator
	if err := db.Select(&results, `SELECT * FROM creators ORDER BY follower_count DESC`); err != nil {
		return nil, err
	}

	return results, nil
}
