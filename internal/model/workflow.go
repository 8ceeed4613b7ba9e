package model

import (
	"errors"
	"fmt"
)

// Provisioning outcomes
var (
	ErrIdentityCreationFailed = errors.New("identity creation failed")
	ErrProfileCreationFailed  = errors.New("profile creation failed")
	ErrCompensationFailed     = errors.New("compensation failed")
)

// Picture upload outcomes
var (
	ErrStorageFailed     = errors.New("storage upload failed")
	ErrPersistenceFailed = errors.New("profile picture persistence failed")
)

// CompensationError reports that the identity user created during
// provisioning could not be deleted after the profile write failed. The
// identity user is orphaned until someone removes it.
type CompensationError struct {
	ExternalUserID  string
	ProfileErr      error
	CompensationErr error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed for identity user %s: profile: %v; delete: %v",
		e.ExternalUserID, e.ProfileErr, e.CompensationErr)
}

func (e *CompensationError) Is(target error) bool {
	return target == ErrCompensationFailed
}

func (e *CompensationError) Unwrap() []error {
	return []error{e.ProfileErr, e.CompensationErr}
}

// PersistenceError is returned when the picture reached the object store but
// the profile row was not updated. URL is ready to be persisted again.
type PersistenceError struct {
	URL string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v: %v", ErrPersistenceFailed, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailed
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
