package httpd

import (
	"net/http"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.proctoring.StartSession(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to start session")
		return
	}
	writeSuccess(w, http.StatusCreated, session)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.proctoring.GetSession(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get session")
		return
	}
	writeSuccess(w, http.StatusOK, session)
}

func (h *Handler) IngestEvents(w http.ResponseWriter, r *http.Request) {
	var req models.IngestEventsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.proctoring.IngestEvents(r.Context(), chi.URLParam(r, "session_id"), req.Events)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to ingest events")
		return
	}
	writeSuccess(w, http.StatusOK, session)
}

func (h *Handler) GetSessionResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.proctoring.GetResult(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get session result")
		return
	}
	writeSuccess(w, http.StatusOK, result)
}
