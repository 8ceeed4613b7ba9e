package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"qepo_backend/internal/logger"
	"qepo_backend/internal/metrics"
	"qepo_backend/internal/model"
	"qepo_backend/internal/storage"
)

// UpdateProfilePicture validates and normalises the image, uploads it under
// the user's fixed avatar key and stores the cache-busted public URL.
//
// A storage failure leaves the profile untouched (model.ErrStorageFailed).
// A failure after the upload returns *model.PersistenceError carrying the
// URL, which SetProfilePictureURL accepts without a second upload.
func (s *ProfileService) UpdateProfilePicture(ctx context.Context, userID string, data []byte, contentType string) (string, error) {
	if _, err := storage.ValidateImage(data, contentType); err != nil {
		metrics.PictureUploadTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return "", err
	}

	current, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}

	jpegBytes, err := storage.NormalizeAvatar(data)
	if err != nil {
		metrics.PictureUploadTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return "", err
	}

	start := time.Now()
	uctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	path, err := s.store.Upload(uctx, s.cfg.Bucket, model.AvatarKey(userID), jpegBytes, model.ContentTypeJPEG, true)
	cancel()
	metrics.PictureUploadDuration.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.PictureUploadTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return "", fmt.Errorf("%w: %w", model.ErrStorageFailed, err)
	}

	pictureURL := s.cacheBustedURL(path, current.ProfilePictureURL)

	if err := s.profiles.SetProfilePictureURL(ctx, userID, pictureURL); err != nil {
		metrics.PictureUploadTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		logger.Ctx(ctx).Error().Err(err).Str("url", pictureURL).Msg("picture uploaded but not persisted")
		return "", &model.PersistenceError{URL: pictureURL, Err: err}
	}
	s.invalidate(ctx, userID)

	metrics.PictureUploadTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	logger.Audit(ctx, "profile.picture", userID, "profile picture updated")
	return pictureURL, nil
}

// SetProfilePictureURL persists a URL returned by an earlier upload whose
// persistence step failed. Only the caller's own avatar URL is accepted.
func (s *ProfileService) SetProfilePictureURL(ctx context.Context, userID, pictureURL string) error {
	if !s.isOwnAvatarURL(userID, pictureURL) {
		return model.ErrInvalidPictureURL
	}
	if err := s.profiles.SetProfilePictureURL(ctx, userID, pictureURL); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// cacheBustedURL appends t=<unix ms>. t is kept strictly above the t of the
// previous URL so two uploads in the same millisecond still differ.
func (s *ProfileService) cacheBustedURL(path string, previous *string) string {
	t := s.now().UnixMilli()
	if previous != nil {
		if prev, ok := cacheBustValue(*previous); ok && t <= prev {
			t = prev + 1
		}
	}
	base := s.store.GetPublicURL(s.cfg.Bucket, path)
	return base + "?" + model.CacheBustParam + "=" + strconv.FormatInt(t, 10)
}

func (s *ProfileService) isOwnAvatarURL(userID, raw string) bool {
	base, query, ok := strings.Cut(raw, "?")
	if !ok || base != s.store.GetPublicURL(s.cfg.Bucket, model.AvatarKey(userID)) {
		return false
	}
	values, err := url.ParseQuery(query)
	if err != nil || len(values) != 1 {
		return false
	}
	_, ok = cacheBustValue(raw)
	return ok
}

func cacheBustValue(raw string) (int64, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, false
	}
	t, err := strconv.ParseInt(u.Query().Get(model.CacheBustParam), 10, 64)
	if err != nil || t <= 0 {
		return 0, false
	}
	return t, true
}
