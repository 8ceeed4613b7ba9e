package model

import (
	"errors"
	"fmt"
)

const (
	MaxAvatarSizeBytes = 5 * 1024 * 1024 // 5MB
	AvatarWidth        = 256
	AvatarHeight       = 256
	AvatarJPEGQuality  = 85
	AvatarKeyPrefix    = "avatar-"
	AvatarExt          = "jpeg"
	AvatarCacheControl = "public, max-age=31536000" // 1 year; URLs carry a cache-busting parameter

	// CacheBustParam is appended to the stable public URL after every upload.
	CacheBustParam = "t"
)

// Supported image content types for upload validation
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypeGIF  = "image/gif"
	ContentTypeWebP = "image/webp"
)

var allowedImageTypes = map[string]struct{}{
	ContentTypeJPEG: {},
	ContentTypePNG:  {},
	ContentTypeGIF:  {},
	ContentTypeWebP: {},
}

// Error codes for HTTP responses
const (
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeInvalidImageType = "INVALID_IMAGE_TYPE"
	CodeEmptyImage       = "EMPTY_IMAGE"
	CodeInvalidURL       = "INVALID_PICTURE_URL"
)

// Domain errors for media operations
var (
	ErrFileTooLarge     = errors.New("file too large")
	ErrInvalidImageType = errors.New("invalid image type")
	ErrEmptyImage       = errors.New("image is empty")
	// ErrInvalidPictureURL is returned when a URL handed back for persistence
	// is not the caller's own avatar URL.
	ErrInvalidPictureURL = errors.New("invalid profile picture url")
)

// AvatarKey is the single object key a user's picture lives under. Uploads
// always overwrite it.
func AvatarKey(userID string) string {
	return fmt.Sprintf("%s%s.%s", AvatarKeyPrefix, userID, AvatarExt)
}

// PictureURLRequest re-persists a URL returned by a previous upload.
type PictureURLRequest struct {
	URL string `json:"url"`
}

// PictureResponse is returned after a successful upload.
type PictureResponse struct {
	ProfilePictureURL string `json:"profile_picture_url"`
}

// IsAllowedImageType reports if the provided content type is supported
func IsAllowedImageType(contentType string) bool {
	_, ok := allowedImageTypes[contentType]
	return ok
}
