package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"qepo_backend/internal/model"
)

const (
	profileColumns = `user_id, email, username, bio, profile_picture_url, created_at, updated_at`

	// constraint names from migrations/0001_profiles.sql
	constraintProfilePK       = "profiles_pkey"
	constraintProfileUsername = "profiles_username_key"
)

// profileRepository implements ProfileRepository using sqlx
type profileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *sqlx.DB) ProfileRepository {
	return &profileRepository{db: db}
}

// Create inserts a new profile. An empty bio is stored as NULL.
func (r *profileRepository) Create(ctx context.Context, p *model.Profile) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO profiles (user_id, email, username, bio, profile_picture_url, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err = tx.QueryRowxContext(ctx, query,
		p.UserID,
		p.Email,
		p.Username,
		nullableString(p.Bio),
		p.ProfilePictureURL,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case constraintProfilePK:
				return model.ErrProfileExists
			case constraintProfileUsername:
				return model.ErrUsernameTaken
			}
			return fmt.Errorf("failed to insert profile: %w", err)
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit profile tx: %w", err)
	}
	return nil
}

// FindByID retrieves a profile by the identity user id
func (r *profileRepository) FindByID(ctx context.Context, userID string) (*model.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`

	var p model.Profile
	if err := r.db.GetContext(ctx, &p, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile by id: %w", err)
	}
	return &p, nil
}

// FindByUsername retrieves a profile by its (already normalised) username
func (r *profileRepository) FindByUsername(ctx context.Context, username string) (*model.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE username = $1`

	var p model.Profile
	if err := r.db.GetContext(ctx, &p, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile by username: %w", err)
	}
	return &p, nil
}

func (r *profileRepository) Exists(ctx context.Context, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM profiles WHERE user_id = $1)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, userID); err != nil {
		return false, fmt.Errorf("failed to check profile existence: %w", err)
	}
	return exists, nil
}

// Update writes the non-nil fields. The unique index on username is the
// authoritative guard; a violation maps to model.ErrUsernameTaken.
func (r *profileRepository) Update(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.Profile, error) {
	if upd.IsEmpty() {
		return r.FindByID(ctx, userID)
	}

	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	add := func(expr string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if upd.Username != nil {
		add("username = $%d", *upd.Username)
	}
	if upd.Bio != nil {
		add("bio = NULLIF($%d, '')", *upd.Bio)
	}
	if upd.ProfilePictureURL != nil {
		add("profile_picture_url = NULLIF($%d, '')", *upd.ProfilePictureURL)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, userID)

	query := fmt.Sprintf(`UPDATE profiles SET %s WHERE user_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), profileColumns)

	var p model.Profile
	if err := r.db.GetContext(ctx, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProfileNotFound
		}
		if _, ok := uniqueViolation(err); ok {
			return nil, model.ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return &p, nil
}

func (r *profileRepository) SetProfilePictureURL(ctx context.Context, userID, url string) error {
	query := `UPDATE profiles SET profile_picture_url = $1, updated_at = NOW() WHERE user_id = $2`

	result, err := r.db.ExecContext(ctx, query, url, userID)
	if err != nil {
		return fmt.Errorf("failed to set profile picture url: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrProfileNotFound
	}
	return nil
}

func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return pqErr.Constraint, true
	}
	return "", false
}

func nullableString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
