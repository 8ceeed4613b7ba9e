package storage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qepo_backend/internal/model"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestValidateImage(t *testing.T) {
	pngData := pngBytes(t, 4, 4)

	tests := []struct {
		name        string
		data        []byte
		contentType string
		want        string
		wantErr     error
	}{
		{name: "declared png", data: pngData, contentType: "image/png", want: "image/png"},
		{name: "declared with params", data: pngData, contentType: "image/png; charset=binary", want: "image/png"},
		{name: "jpg alias", data: pngData, contentType: "image/jpg", want: "image/jpeg"},
		{name: "sniffed when blank", data: pngData, contentType: "", want: "image/png"},
		{name: "sniffed when generic", data: pngData, contentType: "application/octet-stream", want: "image/png"},
		{name: "empty", data: nil, contentType: "image/png", wantErr: model.ErrEmptyImage},
		{name: "unsupported declared", data: pngData, contentType: "image/svg+xml", wantErr: model.ErrInvalidImageType},
		{name: "unsupported sniffed", data: []byte("hello world"), contentType: "", wantErr: model.ErrInvalidImageType},
		{name: "too large", data: make([]byte, model.MaxAvatarSizeBytes+1), contentType: "image/png", wantErr: model.ErrFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateImage(tt.data, tt.contentType)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadLimited(t *testing.T) {
	data, err := ReadLimited(strings.NewReader("abc"), 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = ReadLimited(strings.NewReader("abcd"), 3)
	assert.ErrorIs(t, err, model.ErrFileTooLarge)
}

func TestNormalizeAvatar(t *testing.T) {
	out, err := NormalizeAvatar(pngBytes(t, 640, 320))
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, model.AvatarWidth, img.Bounds().Dx())
	assert.Equal(t, model.AvatarHeight, img.Bounds().Dy())
	assert.Equal(t, "image/jpeg", detect(out))
}

func TestNormalizeAvatar_Garbage(t *testing.T) {
	_, err := NormalizeAvatar([]byte("\x89PNG\r\n\x1a\nnot really"))
	assert.ErrorIs(t, err, model.ErrInvalidImageType)
}

func TestPublicURL(t *testing.T) {
	got := PublicURL("https://x.supabase.co/storage/v1/object/public/", "profile-pictures", "avatar-42.jpeg")
	assert.Equal(t, "https://x.supabase.co/storage/v1/object/public/profile-pictures/avatar-42.jpeg", got)

	got = PublicURL("https://cdn.example.com", "b", "dir/a b.jpeg")
	assert.Equal(t, "https://cdn.example.com/b/dir/a%20b.jpeg", got)
}

func detect(b []byte) string {
	ct, _ := ValidateImage(b, "")
	return ct
}
