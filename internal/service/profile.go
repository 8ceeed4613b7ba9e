package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"qepo_backend/internal/cache"
	"qepo_backend/internal/logger"
	"qepo_backend/internal/metrics"
	"qepo_backend/internal/model"
	"qepo_backend/internal/repository"
	"qepo_backend/internal/storage"
	"qepo_backend/internal/validation"
)

const (
	DefaultStorageTimeout = 30 * time.Second
	DefaultPictureBucket  = "profile-pictures"

	profileFillTimeout = 5 * time.Second
)

type ProfileConfig struct {
	Bucket         string
	StorageTimeout time.Duration
}

// ProfileService reads and mutates profiles. Reads go through the cache;
// every write invalidates it.
type ProfileService struct {
	profiles repository.ProfileRepository
	cache    cache.ProfileCache
	store    storage.ObjectStore
	cfg      ProfileConfig
	now      func() time.Time

	fills singleflight.Group
	// writes counts local invalidations; it is part of the fill key so a
	// read that starts after a write never joins a fill from before it.
	writes atomic.Uint64
}

func NewProfileService(profiles repository.ProfileRepository, profileCache cache.ProfileCache, store storage.ObjectStore, cfg ProfileConfig) *ProfileService {
	if profileCache == nil {
		profileCache = cache.NopProfileCache{}
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultPictureBucket
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = DefaultStorageTimeout
	}
	return &ProfileService{
		profiles: profiles,
		cache:    profileCache,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
	}
}

// GetProfile returns the caller's profile, filling the cache on a miss.
// Concurrent misses for one user share a single database read. The fill is
// tagged with the cache version seen before the read, so it is dropped if
// the profile was invalidated meanwhile.
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	if p, err := s.cache.Get(ctx, userID); err == nil {
		return p, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Ctx(ctx).Warn().Err(err).Msg("profile cache read failed")
	}

	version, verr := s.cache.Version(ctx, userID)
	if verr != nil {
		logger.Ctx(ctx).Warn().Err(verr).Msg("profile cache version read failed")
	}
	key := fmt.Sprintf("%s:%d:%d", userID, s.writes.Load(), version)

	// The shared read outlives any one caller; each caller waits on its own ctx.
	ch := s.fills.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), profileFillTimeout)
		defer cancel()
		return s.fill(fctx, userID, version, verr == nil)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p := *res.Val.(*model.Profile)
		return &p, nil
	}
}

func (s *ProfileService) fill(ctx context.Context, userID string, version int64, cacheable bool) (*model.Profile, error) {
	p, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := s.cache.Fill(ctx, p, version); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("profile cache fill failed")
		}
	}
	return p, nil
}

// GetByUsername looks a profile up by username, case-insensitively.
func (s *ProfileService) GetByUsername(ctx context.Context, username string) (*model.Profile, error) {
	username = validation.NormalizeUsername(username)
	if !validation.IsValidUsername(username) {
		return nil, model.ErrProfileNotFound
	}
	return s.profiles.FindByUsername(ctx, username)
}

// UpdateProfile applies a username and/or bio change. Fields equal to the
// stored values are dropped; an empty diff writes nothing. Username
// uniqueness is pre-checked and enforced by the unique index.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, patch model.ProfilePatch) (*model.Profile, error) {
	if err := validation.Patch(patch.Username, patch.Bio); err != nil {
		metrics.ProfileUpdateTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	current, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	upd := diffProfile(current, patch)
	if upd.IsEmpty() {
		metrics.ProfileUpdateTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return current, nil
	}

	if upd.Username != nil {
		other, err := s.profiles.FindByUsername(ctx, *upd.Username)
		switch {
		case err == nil && other.UserID != userID:
			metrics.ProfileUpdateTotal.WithLabelValues(metrics.OutcomeTaken).Inc()
			return nil, model.ErrUsernameTaken
		case err != nil && !errors.Is(err, model.ErrProfileNotFound):
			return nil, fmt.Errorf("check username: %w", err)
		}
	}

	updated, err := s.profiles.Update(ctx, userID, upd)
	if err != nil {
		if errors.Is(err, model.ErrUsernameTaken) {
			metrics.ProfileUpdateTotal.WithLabelValues(metrics.OutcomeTaken).Inc()
		} else {
			metrics.ProfileUpdateTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		}
		return nil, err
	}
	s.invalidate(ctx, userID)

	metrics.ProfileUpdateTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	logger.Audit(ctx, "profile.update", userID, "profile updated")
	return updated, nil
}

func diffProfile(current *model.Profile, patch model.ProfilePatch) model.ProfileUpdate {
	var upd model.ProfileUpdate
	if patch.Username != nil {
		if n := validation.NormalizeUsername(*patch.Username); n != current.Username {
			upd.Username = &n
		}
	}
	if patch.Bio != nil {
		currentBio := ""
		if current.Bio != nil {
			currentBio = *current.Bio
		}
		if b := *patch.Bio; b != currentBio {
			upd.Bio = &b
		}
	}
	return upd
}

func (s *ProfileService) invalidate(ctx context.Context, userID string) {
	s.writes.Add(1)
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str(logger.FieldUserID, userID).Msg("profile cache invalidation failed")
	}
}
