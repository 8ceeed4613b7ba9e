package model

import (
	"errors"
	"time"
)

// Profile is the application-level record of a user. UserID is the identity
// provider's user id and never changes.
type Profile struct {
	UserID            string    `db:"user_id" json:"user_id"`
	Email             string    `db:"email" json:"email"`
	Username          string    `db:"username" json:"username"`
	Bio               *string   `db:"bio" json:"bio"`
	ProfilePictureURL *string   `db:"profile_picture_url" json:"profile_picture_url"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// PublicProfile is what other users see.
type PublicProfile struct {
	Username          string  `json:"username"`
	Bio               *string `json:"bio"`
	ProfilePictureURL *string `json:"profile_picture_url"`
}

func (p *Profile) Public() PublicProfile {
	return PublicProfile{
		Username:          p.Username,
		Bio:               p.Bio,
		ProfilePictureURL: p.ProfilePictureURL,
	}
}

// ProfilePatch is the caller's requested change. Nil fields are left alone.
type ProfilePatch struct {
	Username *string `json:"username,omitempty"`
	Bio      *string `json:"bio,omitempty"`
}

// ProfileUpdate is the set of columns the repository writes. Only non-nil
// fields are written. A non-nil empty Bio clears the column.
type ProfileUpdate struct {
	Username          *string
	Bio               *string
	ProfilePictureURL *string
}

// IsEmpty reports whether the update would write nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.Username == nil && u.Bio == nil && u.ProfilePictureURL == nil
}

// RegisterRequest represents the data needed to provision a new account
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the data needed to log in
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

var (
	// ErrProfileNotFound is returned when no profile exists for the given key
	ErrProfileNotFound = errors.New("profile not found")

	// ErrUsernameTaken is returned when another profile already owns the username
	ErrUsernameTaken = errors.New("username already taken")

	// ErrProfileExists is returned when a profile already exists for the user id
	ErrProfileExists = errors.New("profile already exists")
)
