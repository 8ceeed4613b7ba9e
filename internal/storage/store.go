// Package storage uploads profile pictures to an S3-compatible object store
// and prepares the image bytes before they leave the process.
package storage

import (
	"context"
	"errors"
)

// ErrObjectExists is returned by Upload when overwrite is false and the key is taken.
var ErrObjectExists = errors.New("object already exists")

// ObjectStore is the capability set the picture pipeline needs.
type ObjectStore interface {
	// Upload stores data at key and returns the stored object path.
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string, overwrite bool) (string, error)
	// GetPublicURL builds the stable public URL of a stored object. It does no I/O.
	GetPublicURL(bucket, path string) string
}
