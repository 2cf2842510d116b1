// Package handler contains the HTTP handlers for the orgagent API.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/mw10013/orgagent/internal/api/middleware"
	"github.com/mw10013/orgagent/internal/api/response"
	"github.com/mw10013/orgagent/internal/intake"
	"github.com/mw10013/orgagent/internal/storage"
	"github.com/mw10013/orgagent/pkg/models"
)

const maxUploadMemory = 32 << 20 // 32 MiB held in memory; larger bodies spill to disk

// Intake is the upload intake surface the handlers depend on.
type Intake interface {
	Store(ctx context.Context, tenantID uuid.UUID, name, contentType string, body io.Reader, size int64) (*intake.Receipt, error)
	Open(ctx context.Context, tenantID uuid.UUID, name string) (io.ReadCloser, *storage.ObjectInfo, error)
	Delete(ctx context.Context, tenantID uuid.UUID, name string) error
}

// UploadDirectory lists a tenant's recorded uploads.
type UploadDirectory interface {
	ListUploads(ctx context.Context, tenantID uuid.UUID) ([]*models.Upload, error)
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/v1/uploads.
// The upload is accepted into storage immediately; the record appears in the
// tenant's list once the notification pipeline processes it.
func NewUploadHandler(svc Intake) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected multipart form body", nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file is required", nil)
			return
		}
		defer file.Close()

		name := r.FormValue("name")
		if name == "" {
			name = header.Filename
		}
		if name == "" || strings.HasPrefix(name, "/") {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required and must not start with /", nil)
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		receipt, err := svc.Store(r.Context(), tenantID, name, contentType, file, header.Size)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store upload", nil)
			return
		}

		response.Accepted(w, receipt)
	}
}

// NewListUploadsHandler returns an http.HandlerFunc for GET /api/v1/uploads.
func NewListUploadsHandler(dir UploadDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		uploads, err := dir.ListUploads(r.Context(), tenantID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list uploads", nil)
			return
		}
		if uploads == nil {
			uploads = []*models.Upload{}
		}
		response.JSON(w, uploads)
	}
}

// NewDownloadUploadHandler returns an http.HandlerFunc for
// GET /api/v1/uploads/{name} that streams the stored body.
func NewDownloadUploadHandler(svc Intake) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		name := chi.URLParam(r, "name")

		body, info, err := svc.Open(r.Context(), tenantID, name)
		if errors.Is(err, storage.ErrObjectNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Upload not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read upload", nil)
			return
		}
		defer body.Close()

		w.Header().Set("Content-Type", info.ContentType)
		io.Copy(w, body)
	}
}

// NewDeleteUploadHandler returns an http.HandlerFunc for
// DELETE /api/v1/uploads/{name}. The object is removed from storage
// immediately; the record disappears once the delete notification is
// processed.
func NewDeleteUploadHandler(svc Intake) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		name := chi.URLParam(r, "name")

		if err := svc.Delete(r.Context(), tenantID, name); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete upload", nil)
			return
		}
		response.Accepted(w, map[string]any{"name": name})
	}
}
