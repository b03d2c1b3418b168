package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nikhilbhutani/promptvault/internal/auth"
	"github.com/nikhilbhutani/promptvault/internal/prompt"
)

type VersionHandler struct {
	svc *prompt.Service
}

func NewVersionHandler(svc *prompt.Service) *VersionHandler {
	return &VersionHandler{svc: svc}
}

func (h *VersionHandler) List(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	versions, err := h.svc.ListVersions(r.Context(), promptID, auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"versions": versions, "count": len(versions)})
}

func (h *VersionHandler) ListDeleted(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	versions, err := h.svc.ListDeletedVersions(r.Context(), promptID, auth.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"versions": versions, "count": len(versions)})
}

// Create accepts an empty body, which means a minor bump with the default note.
func (h *VersionHandler) Create(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}

	var req prompt.CreateVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	v, err := h.svc.CreateVersion(r.Context(), promptID, auth.UserID(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, v)
}

func (h *VersionHandler) Get(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}

	v, err := h.svc.GetVersion(r.Context(), promptID, auth.UserID(r.Context()), versionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

func (h *VersionHandler) Diff(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}

	diff, err := h.svc.DiffVersion(r.Context(), promptID, auth.UserID(r.Context()), versionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, diff)
}

func (h *VersionHandler) Restore(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}

	p, err := h.svc.RestoreVersion(r.Context(), promptID, auth.UserID(r.Context()), versionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

func (h *VersionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}

	if err := h.svc.DeleteVersion(r.Context(), promptID, auth.UserID(r.Context()), versionID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *VersionHandler) Undelete(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}

	v, err := h.svc.RestoreDeletedVersion(r.Context(), promptID, auth.UserID(r.Context()), versionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

func (h *VersionHandler) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	promptID, ok := urlUUID(w, r, "id")
	if !ok {
		return
	}
	versionID, ok := urlUUID(w, r, "versionID")
	if !ok {
		return
	}

	if err := h.svc.PermanentDeleteVersion(r.Context(), promptID, auth.UserID(r.Context()), versionID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}
