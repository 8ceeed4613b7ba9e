package repository

import (
	"context"

	"qepo_backend/internal/model"
)

type ProfileRepository interface {
	// Create inserts the profile in its own transaction and fills the timestamps.
	Create(ctx context.Context, profile *model.Profile) error
	FindByID(ctx context.Context, userID string) (*model.Profile, error)
	FindByUsername(ctx context.Context, username string) (*model.Profile, error)
	Exists(ctx context.Context, userID string) (bool, error)
	// Update writes only the non-nil fields of upd and returns the stored row.
	Update(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.Profile, error)
	SetProfilePictureURL(ctx context.Context, userID, url string) error
}
