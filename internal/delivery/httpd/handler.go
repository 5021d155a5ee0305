package httpd

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// CheckDispatcher hands a stored check to background processing.
type CheckDispatcher interface {
	Dispatch(ctx context.Context, check *models.CheckRecord) error
}

// Services bundles what the handlers call. Queue and Evidence may be nil.
type Services struct {
	Checks     service.CheckService
	Dispatcher CheckDispatcher
	Cases      service.CaseManager
	Collusion  service.CollusionService
	Proctoring service.ProctoringService
	Baselines  service.BaselineService
	Storage    repository.Pinger
	Evidence   repository.Pinger
	Queue      repository.Pinger
}

type Handler struct {
	checks     service.CheckService
	dispatcher CheckDispatcher
	cases      service.CaseManager
	collusion  service.CollusionService
	proctoring service.ProctoringService
	baselines  service.BaselineService
	storage    repository.Pinger
	evidence   repository.Pinger
	queue      repository.Pinger
	logger     zerolog.Logger
	startTime  time.Time
}

func NewHandler(services Services, logger zerolog.Logger) *Handler {
	return &Handler{
		checks:     services.Checks,
		dispatcher: services.Dispatcher,
		cases:      services.Cases,
		collusion:  services.Collusion,
		proctoring: services.Proctoring,
		baselines:  services.Baselines,
		storage:    services.Storage,
		evidence:   services.Evidence,
		queue:      services.Queue,
		logger:     logger,
		startTime:  time.Now(),
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/checks", func(r chi.Router) {
			r.Post("/", h.SubmitCheck)
			r.Get("/{check_id}", h.GetCheck)
		})

		api.Route("/assignments/{assignment_id}/collusion", func(r chi.Router) {
			r.Post("/", h.RunCollusion)
			r.Get("/", h.GetLatestCollusionRun)
		})

		api.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.StartSession)
			r.Get("/{session_id}", h.GetSession)
			r.Post("/{session_id}/events", h.IngestEvents)
			r.Get("/{session_id}/result", h.GetSessionResult)
		})

		api.Route("/cases", func(r chi.Router) {
			r.Get("/", h.ListCases)
			r.Route("/{case_id}", func(r chi.Router) {
				r.Get("/", h.GetCase)
				r.Get("/audit", h.GetAudit)
				r.Post("/assign", h.AssignReviewer)
				r.Post("/sustain", h.Sustain)
				r.Post("/dismiss", h.Dismiss)
				r.Post("/appeal", h.FileAppeal)
				r.Post("/appeal/grant", h.GrantAppeal)
				r.Post("/appeal/deny", h.DenyAppeal)
				r.Post("/restoration", h.CreateRestorationPlan)
				r.Post("/restoration/complete", h.CompleteRestoration)
				r.Post("/findings", h.AttachFindings)
			})
		})

		api.Get("/evidence/{package_id}", h.GetEvidence)

		api.Route("/authors/{author_id}/baselines", func(r chi.Router) {
			r.Get("/", h.GetBaselineHistory)
			r.Get("/latest", h.GetLatestBaseline)
		})
	})
}

func getIntQueryParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func decodeJSON(r *http.Request, v interface{}) error {
	return utils.ReadJSON(r, v)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	_ = utils.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrAppealWindowExpired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrSystemUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg(action)
		writeError(w, status, action)
		return
	}
	h.logger.Debug().Err(err).Int("status", status).Str("path", r.URL.Path).Msg(action)
	writeError(w, status, err.Error())
}
