package creator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/crate-audio/crate/internal/http/profileapi"
	"github.com/crate-audio/crate/pkg/logger"
)

var log = logger.Get("CreatorServ")

// ErrCreatorUnavailable indicates that a creator could not be found in
// the local cache AND the upstream profile API failed to provide one.
var ErrCreatorUnavailable = errors.New("creator profile is not cached and could not be fetched")

type (
	Config struct {
		// CacheTTL controls how long a cached creator profile is
		// considered fresh. Stale profiles are re-fetched on access,
		// falling back to the stale copy if the upstream fails.
		CacheTTL time.Duration `yaml:"cache_ttl" env:"CREATOR_CACHE_TTL" env-default:"24h"`
		Platform string        `yaml:"platform" env:"CREATOR_PLATFORM" env-default:"tiktok"`
	}

	profileSearcher interface {
		SearchForProfile(ctx context.Context, platform string, username string) (*profileapi.Profile, error)
		GetProfile(ctx context.Context, platformID string) (*profileapi.Profile, error)
	}

	dataStore interface {
		GetCreatorByUsername(username string) (*Creator, error)
		GetCreatorByPlatformID(platformID string) (*Creator, error)
		SaveCreator(creator *Creator) error
	}

	// Service is the cache-aside layer over the creator store and the
	// upstream profile API. All lookups go through here; callers never
	// talk to the profile API directly.
	Service struct {
		config   Config
		searcher profileSearcher
		store    dataStore
	}
)

func New(config Config, searcher profileSearcher, store dataStore) *Service {
	return &Service{config: config, searcher: searcher, store: store}
}

// GetOrFetchCreator returns the creator profile for the username given,
// consulting the local cache first. A cached profile younger than the
// configured TTL is returned as-is. Stale or missing profiles trigger
// an upstream fetch; if that fetch fails, the stale profile (if any) is
// returned rather than an error.
func (service *Service) GetOrFetchCreator(ctx context.Context, username string) (*Creator, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return nil, ErrCreatorUnavailable
	}

	cached, err := service.store.GetCreatorByUsername(username)
	if err != nil && !errors.Is(err, ErrCreatorNotFound) {
		return nil, err
	}

	if cached != nil && time.Since(cached.LastFetchedAt) < service.config.CacheTTL {
		return cached, nil
	}

	fetched, fetchErr := service.fetchAndCache(ctx, username)
	if fetchErr != nil {
		if cached != nil {
			log.Warnf("Upstream fetch for creator %s failed (%v), serving stale profile last fetched at %s\n", username, fetchErr, cached.LastFetchedAt)
			return cached, nil
		}

		log.Errorf("Upstream fetch for creator %s failed (%v) and no cached profile exists\n", username, fetchErr)
		return nil, ErrCreatorUnavailable
	}

	return fetched, nil
}

// GetOrFetchCreatorByPlatformID is the same cache-aside lookup keyed on
// the platform's unique account ID instead of the username. Used when
// downloaded media carries the author ID but the username is absent or
// unreliable.
func (service *Service) GetOrFetchCreatorByPlatformID(ctx context.Context, platformID string) (*Creator, error) {
	cached, err := service.store.GetCreatorByPlatformID(platformID)
	if err != nil && !errors.Is(err, ErrCreatorNotFound) {
		return nil, err
	}

	if cached != nil && time.Since(cached.LastFetchedAt) < service.config.CacheTTL {
		return cached, nil
	}

	profile, fetchErr := service.searcher.GetProfile(ctx, platformID)
	if fetchErr != nil {
		if cached != nil {
			log.Warnf("Upstream fetch for creator ID %s failed (%v), serving stale profile\n", platformID, fetchErr)
			return cached, nil
		}

		return nil, ErrCreatorUnavailable
	}

	return service.cacheProfile(profile)
}

func (service *Service) fetchAndCache(ctx context.Context, username string) (*Creator, error) {
	profile, err := service.searcher.SearchForProfile(ctx, service.config.Platform, username)
	if err != nil {
		return nil, err
	}

	return service.cacheProfile(profile)
}

func (service *Service) cacheProfile(profile *profileapi.Profile) (*Creator, error) {
	creator := &Creator{
		Platform:       service.config.Platform,
		PlatformID:     profile.ID,
		Username:       NormalizeUsername(profile.Username),
		DisplayName:    profile.DisplayName,
		AvatarURL:      profile.AvatarURL,
		Verified:       profile.Verified,
		FollowerCount:  profile.FollowerCount,
		FollowingCount: profile.FollowingCount,
		LikeCount:      profile.LikeCount,
		LastFetchedAt:  time.Now(),
	}

	if err := service.store.SaveCreator(creator); err != nil {
		return nil, err
	}

	return creator, nil
}

// NormalizeUsername lower-cases the username and strips a leading '@',
// matching how usernames are keyed in the creator store.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
