package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"qepo_backend/internal/httputil"
	"qepo_backend/internal/logger"
	"qepo_backend/internal/model"
	"qepo_backend/internal/storage"
	"qepo_backend/internal/transport/http/middleware"
	"qepo_backend/internal/validation"
)

// ProfileManager reads and edits profiles.
type ProfileManager interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	GetByUsername(ctx context.Context, username string) (*model.Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch model.ProfilePatch) (*model.Profile, error)
	UpdateProfilePicture(ctx context.Context, userID string, data []byte, contentType string) (string, error)
	SetProfilePictureURL(ctx context.Context, userID, pictureURL string) error
}

type ProfileHandler struct {
	profiles ProfileManager
}

func NewProfileHandler(profiles ProfileManager) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// pictureJSON is the JSON upload shape: base64 image bytes, optionally as a
// data URL ("data:image/png;base64,...").
type pictureJSON struct {
	Image       string `json:"image"`
	ContentType string `json:"content_type,omitempty"`
}

// UpdateProfile handles PATCH /me/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var patch model.ProfilePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	profile, err := h.profiles.UpdateProfile(r.Context(), userID, patch)
	if err != nil {
		if fields, ok := validation.AsErrors(err); ok {
			writeValidation(w, fields)
			return
		}
		switch {
		case errors.Is(err, model.ErrUsernameTaken):
			httputil.WriteFieldErrors(w, http.StatusConflict, model.CodeUsernameTaken, "Username is already in use",
				map[string]string{"username": "Username is already in use"})
		case errors.Is(err, model.ErrProfileNotFound):
			httputil.WriteNotFound(w, "Profile not found")
		default:
			logger.Ctx(r.Context()).Error().Err(err).Msg("profile update failed")
			httputil.WriteInternalError(w, "Failed to update profile")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, profile)
}

// UpdatePicture handles PUT /me/profile/picture. It accepts a multipart form
// with a "picture" file or a JSON body with base64 image bytes.
func (h *ProfileHandler) UpdatePicture(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	data, contentType, err := readPicture(w, r)
	if err != nil {
		writePictureError(w, r, err)
		return
	}

	pictureURL, err := h.profiles.UpdateProfilePicture(r.Context(), userID, data, contentType)
	if err != nil {
		writePictureError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.PictureResponse{ProfilePictureURL: pictureURL})
}

// SetPictureURL handles PUT /me/profile/picture/url. Clients call it with
// the URL from a PERSISTENCE_FAILED response instead of uploading again.
func (h *ProfileHandler) SetPictureURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req model.PictureURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := h.profiles.SetProfilePictureURL(r.Context(), userID, req.URL); err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidPictureURL):
			httputil.WriteBadRequestWithCode(w, model.CodeInvalidURL, "Not a profile picture URL for this account")
		case errors.Is(err, model.ErrProfileNotFound):
			httputil.WriteNotFound(w, "Profile not found")
		default:
			logger.Ctx(r.Context()).Error().Err(err).Msg("persist picture url failed")
			httputil.WriteInternalError(w, "Failed to save profile picture")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.PictureResponse{ProfilePictureURL: req.URL})
}

// GetByUsername handles GET /users/{username}
func (h *ProfileHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	profile, err := h.profiles.GetByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, model.ErrProfileNotFound) {
			httputil.WriteNotFound(w, "User not found")
			return
		}
		logger.Ctx(r.Context()).Error().Err(err).Msg("load public profile failed")
		httputil.WriteInternalError(w, "Failed to get user")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, profile.Public())
}

func readPicture(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	// base64 inflates by 4/3; leave room for form or JSON overhead.
	maxBody := int64(model.MaxAvatarSizeBytes)*4/3 + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req pictureJSON
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, "", tooLargeOr(err, errBadBody)
		}
		return decodeDataURL(req.Image, req.ContentType)
	}

	file, header, err := r.FormFile("picture")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", model.ErrEmptyImage
		}
		return nil, "", tooLargeOr(err, errBadBody)
	}
	defer file.Close()

	data, err := storage.ReadLimited(file, model.MaxAvatarSizeBytes)
	if err != nil {
		if errors.Is(err, model.ErrFileTooLarge) {
			return nil, "", err
		}
		return nil, "", tooLargeOr(err, errBadBody)
	}
	return data, header.Header.Get("Content-Type"), nil
}

var errBadBody = errors.New("invalid picture upload")

func tooLargeOr(err, fallback error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return model.ErrFileTooLarge
	}
	return fallback
}

// decodeDataURL accepts raw base64 or a data URL. The content type from the
// data URL wins over the explicit one; both may be empty, in which case the
// bytes are sniffed.
func decodeDataURL(s, contentType string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", model.ErrEmptyImage
	}
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, "", errBadBody
		}
		contentType = strings.TrimSuffix(meta, ";base64")
		s = payload
	}
	if int64(base64.StdEncoding.DecodedLen(len(s))) > model.MaxAvatarSizeBytes+2 {
		return nil, "", model.ErrFileTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, "", errBadBody
	}
	return data, contentType, nil
}

func writePictureError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *model.PersistenceError
	switch {
	case errors.Is(err, model.ErrFileTooLarge):
		httputil.WriteTooLarge(w, model.CodeFileTooLarge, "Image exceeds 5MB limit")
	case errors.Is(err, model.ErrEmptyImage):
		httputil.WriteBadRequestWithCode(w, model.CodeEmptyImage, "No image provided")
	case errors.Is(err, model.ErrInvalidImageType):
		httputil.WriteBadRequestWithCode(w, model.CodeInvalidImageType, "Unsupported image type. Allowed: jpeg, png, gif, webp")
	case errors.Is(err, errBadBody):
		httputil.WriteBadRequest(w, "Invalid picture upload")
	case errors.Is(err, model.ErrProfileNotFound):
		httputil.WriteNotFound(w, "Profile not found")
	case errors.Is(err, model.ErrStorageFailed):
		logger.Ctx(r.Context()).Error().Err(err).Msg("picture upload failed")
		httputil.WriteError(w, http.StatusBadGateway, "STORAGE_FAILED", "Could not store the picture, please try again")
	case errors.As(err, &pe):
		// The picture is stored; the client retries with the URL only.
		httputil.WriteJSON(w, http.StatusInternalServerError, persistenceFailedResponse{
			Error: httputil.ErrorDetail{
				Code:    model.CodePersistenceFailed,
				Message: "Picture uploaded but not saved to your profile",
			},
			ProfilePictureURL: pe.URL,
		})
	default:
		logger.Ctx(r.Context()).Error().Err(err).Msg("picture update failed")
		httputil.WriteInternalError(w, "Failed to update profile picture")
	}
}

type persistenceFailedResponse struct {
	Error             httputil.ErrorDetail `json:"error"`
	ProfilePictureURL string               `json:"profile_picture_url"`
}
