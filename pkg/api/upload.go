package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// UploadConfig controls upload signing
type UploadConfig struct {
	MaxBytes      int64  // largest accepted file
	UploadURL     string // where the client PUTs the file
	PublicBaseURL string // prefix of the object's public URL
}

// DefaultUploadConfig returns a 5MB limit
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		MaxBytes:      5 * 1024 * 1024,
		UploadURL:     "https://storage.petpixie.app/presigned-upload-url",
		PublicBaseURL: "https://storage.petpixie.app",
	}
}

type signUploadRequest struct {
	FileName string `json:"fileName" validate:"required"`
	FileType string `json:"fileType" validate:"required"`
	FileSize int64  `json:"fileSize" validate:"required"`
}

// SignUploadResponse references the object a client uploads into
type SignUploadResponse struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
	FileName  string `json:"fileName"`
}

// SignUpload handles POST /api/sign-upload
func (h *Handler) SignUpload(w http.ResponseWriter, r *http.Request) {
	var req signUploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Missing required fields")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.FileSize > h.cfg.Upload.MaxBytes {
		writeError(w, http.StatusBadRequest, "File too large")
		return
	}
	if err := h.validate.Var(req.FileType, "startswith=image/"); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file type")
		return
	}

	name := objectName(req.FileName, h.now().UnixMilli())
	writeJSON(w, http.StatusOK, SignUploadResponse{
		UploadURL: h.cfg.Upload.UploadURL,
		PublicURL: strings.TrimRight(h.cfg.Upload.PublicBaseURL, "/") + "/" + name,
		FileName:  name,
	})
}

// objectName builds uploads/<unixms>-<random>.<ext>. The extension is whatever
// follows the last dot, or the whole name when there is none.
func objectName(fileName string, unixMilli int64) string {
	ext := fileName[strings.LastIndex(fileName, ".")+1:]
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("uploads/%d-%s.%s", unixMilli, random, ext)
}
