package httpd

import (
	"fmt"
	"net/http"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	state := models.CaseState(r.URL.Query().Get("state"))
	limit := getIntQueryParam(r, "limit", 50)
	offset := getIntQueryParam(r, "offset", 0)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	cases, err := h.cases.ListCases(r.Context(), state, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to list cases")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"cases":  cases,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	detail, err := h.cases.GetCaseDetail(r.Context(), chi.URLParam(r, "case_id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get case")
		return
	}
	writeSuccess(w, http.StatusOK, detail)
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	audit, err := h.cases.GetAudit(r.Context(), chi.URLParam(r, "case_id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get audit log")
		return
	}
	writeSuccess(w, http.StatusOK, audit)
}

func (h *Handler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.cases.GetEvidence(r.Context(), chi.URLParam(r, "package_id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to get evidence")
		return
	}
	writeSuccess(w, http.StatusOK, pkg)
}

func caseCommand(r *http.Request, actor, rationale string, expectedVersion int64) service.CaseCommand {
	return service.CaseCommand{
		CaseID:          chi.URLParam(r, "case_id"),
		ExpectedVersion: expectedVersion,
		Actor:           actor,
		Rationale:       rationale,
	}
}

// caseAction decodes req, runs op and writes the updated case.
func (h *Handler) caseAction(w http.ResponseWriter, r *http.Request, req interface{}, op func() (*models.ViolationCase, error)) {
	if err := decodeJSON(r, req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	c, err := op()
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to update case")
		return
	}
	writeSuccess(w, http.StatusOK, c)
}

func (h *Handler) AssignReviewer(w http.ResponseWriter, r *http.Request) {
	var req models.AssignReviewerRequest
	h.caseAction(w, r, &req, func() (*models.ViolationCase, error) {
		return h.cases.AssignReviewer(r.Context(), caseCommand(r, req.Actor, req.Rationale, req.ExpectedVersion), req.ReviewerID)
	})
}

func (h *Handler) Sustain(w http.ResponseWriter, r *http.Request) {
	var req models.ActorRequest
	h.caseAction(w, r, &req, func() (*models.ViolationCase, error) {
		return h.cases.Sustain(r.Context(), caseCommand(r, req.Actor, req.Rationale, req.ExpectedVersion))
	})
}

func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	var req models.ActorRequest
	h.caseAction(w, r, &req, func() (*models.ViolationCase, error) {
		return h.cases.Dismiss(r.Context(), caseCommand(r, req.Actor, req.Rationale, req.ExpectedVersion))
	})
}

func (h *Handler) FileAppeal(w http.ResponseWriter, r *http.Request) {
	var req models.AppealRequest
	h.caseAction(w, r, &req, func() (*models.ViolationCase, error) {
		return h.cases.FileAppeal(r.Context(), caseCommand(r, req.Actor, req.Reason, req.ExpectedVersion), req.Reason)
	})
}

func (h *Handler) GrantAppeal(w http.ResponseWriter, r *http.Request) {
	var req models.GrantAppealRequest
	h.caseAction(w, r, &req, func() (*models.ViolationCase, error) {
		return h.cases.GrantAppeal(r.Context(), caseCommand(r, req.Actor, req.Rationale, req.ExpectedVersion), req.RestorationSteps)
	})
}

func (h *Handler) DenyAppeal(w http.ResponseWriter, r *http.Request) {
	var req models.ActorRequest
	h.caseAction(w, r, &req, func() (*models.ViolationCase, error) {
		return h.cases.DenyAppeal(r.Context(), caseCommand(r, req.Actor, req.Rationale, req.ExpectedVersion))
	})
}

func (h *Handler) CreateRestorationPlan(w http.ResponseWriter, r *http.Request) {
	var req models.RestorationPlanRequest
	h.caseAction(w, r, &req, func() (*models.ViolationCase, error) {
		return h.cases.CreateRestorationPlan(r.Context(), caseCommand(r, req.Actor, "", req.ExpectedVersion), req.Steps)
	})
}

func (h *Handler) CompleteRestoration(w http.ResponseWriter, r *http.Request) {
	var req models.ActorRequest
	h.caseAction(w, r, &req, func() (*models.ViolationCase, error) {
		return h.cases.CompleteRestoration(r.Context(), caseCommand(r, req.Actor, req.Rationale, req.ExpectedVersion))
	})
}

// AttachFindings links the verdict of a completed check to the case.
func (h *Handler) AttachFindings(w http.ResponseWriter, r *http.Request) {
	var req models.AttachFindingsRequest
	h.caseAction(w, r, &req, func() (*models.ViolationCase, error) {
		check, err := h.checks.GetCheck(r.Context(), req.CheckID)
		if err != nil {
			return nil, err
		}
		if check.Verdict == nil {
			return nil, fmt.Errorf("%w: check %s has no verdict", models.ErrInvalidInput, check.ID)
		}
		return h.cases.AttachFindings(r.Context(), caseCommand(r, req.Actor, req.Rationale, req.ExpectedVersion), check.Verdict, check.Results)
	})
}
