package storage

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers the webp decoder with image.Decode

	"qepo_backend/internal/model"
)

// ReadLimited reads at most maxSize bytes from r, failing with
// model.ErrFileTooLarge when there is more.
func ReadLimited(r io.Reader, maxSize int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, model.ErrFileTooLarge
	}
	return data, nil
}

// ValidateImage checks size and type of an upload and returns the effective
// content type. A blank or generic declared type is replaced by the sniffed one.
func ValidateImage(data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", model.ErrEmptyImage
	}
	if len(data) > model.MaxAvatarSizeBytes {
		return "", model.ErrFileTooLarge
	}

	contentType = normalizeContentType(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = normalizeContentType(http.DetectContentType(data[:min(len(data), 512)]))
	}
	if !model.IsAllowedImageType(contentType) {
		return "", model.ErrInvalidImageType
	}
	return contentType, nil
}

// NormalizeAvatar center-crops the image to the avatar size and re-encodes it
// as JPEG. EXIF orientation is applied first.
func NormalizeAvatar(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidImageType, err)
	}

	resized := imaging.Fill(img, model.AvatarWidth, model.AvatarHeight, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(model.AvatarJPEGQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func normalizeContentType(ct string) string {
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = ct[:idx]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" {
		return model.ContentTypeJPEG
	}
	return ct
}
