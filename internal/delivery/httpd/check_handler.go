package httpd

import (
	"net/http"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/go-chi/chi/v5"
)

// SubmitCheck stores the submission and queues its check. The verdict is
// fetched later from the status URL.
func (h *Handler) SubmitCheck(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	check, err := h.checks.Submit(ctx, req)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to submit check")
		return
	}

	if err := h.dispatcher.Dispatch(ctx, check); err != nil {
		// The check stays pending and is picked up again on restart.
		h.logger.Error().Err(err).Str("check_id", check.ID).Msg("Failed to dispatch check")
	}

	writeSuccess(w, http.StatusAccepted, models.SubmitCheckResponse{
		CheckID:   check.ID,
		Status:    check.Status,
		StatusURL: "/api/v1/checks/" + check.ID,
	})
}

func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	check, err := h.checks.GetCheck(r.Context(), chi.URLParam(r, "check_id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get check")
		return
	}
	writeSuccess(w, http.StatusOK, check)
}

func (h *Handler) RunCollusion(w http.ResponseWriter, r *http.Request) {
	run, err := h.collusion.Run(r.Context(), chi.URLParam(r, "assignment_id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to run collusion analysis")
		return
	}
	writeSuccess(w, http.StatusOK, run)
}

func (h *Handler) GetLatestCollusionRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.collusion.GetLatestRun(r.Context(), chi.URLParam(r, "assignment_id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get collusion run")
		return
	}
	writeSuccess(w, http.StatusOK, run)
}

func (h *Handler) GetBaselineHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.baselines.GetHistory(r.Context(), chi.URLParam(r, "author_id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get baseline history")
		return
	}
	writeSuccess(w, http.StatusOK, history)
}

func (h *Handler) GetLatestBaseline(w http.ResponseWriter, r *http.Request) {
	authorID := chi.URLParam(r, "author_id")
	baseline, err := h.baselines.GetLatest(r.Context(), authorID)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get baseline")
		return
	}
	if baseline == nil {
		writeError(w, http.StatusNotFound, "No baseline for author "+authorID)
		return
	}
	writeSuccess(w, http.StatusOK, baseline)
}
