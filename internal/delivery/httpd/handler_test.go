package httpd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service/analyzer"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	checks []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, check *models.CheckRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks = append(d.checks, check.ID)
	return nil
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

type testServer struct {
	router     chi.Router
	dispatcher *recordingDispatcher
	aggregator analyzer.RiskAggregator
	cases      service.CaseManager
}

func newTestServer(t *testing.T, queue repository.Pinger) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	submissions := repository.NewMemorySubmissionRepository()
	checks := repository.NewMemoryCheckRepository()
	collusion := repository.NewMemoryCollusionRepository()
	embedder := analyzer.NewHashingEmbedder(64)
	corpus := analyzer.NewMemoryCorpusIndex(embedder, 8, 4)
	aggregator := analyzer.NewRiskAggregator(analyzer.DefaultAggregatorConfig())
	style := analyzer.NewStyleProfiler(nil, logger, analyzer.DefaultStyleConfig())
	similarity := analyzer.NewSimilarityEngine(embedder, corpus, nil, logger, analyzer.DefaultSimilarityConfig())

	baselines := service.NewBaselineService(repository.NewMemoryBaselineRepository(), style, logger, nil)
	cases := service.NewCaseManager(repository.NewMemoryCaseRepository(), repository.NewMemoryEvidenceStore(),
		submissions, baselines, nil, logger, service.DefaultCaseConfig())
	checkService := service.NewCheckService(submissions, checks, collusion, similarity, style, corpus,
		aggregator, baselines, cases, nil, logger, service.DefaultCheckConfig())
	collusionService := service.NewCollusionService(submissions, checks, collusion,
		analyzer.NewCollusionAnalyzer(embedder, logger, analyzer.DefaultCollusionConfig()),
		aggregator, cases, nil, logger, service.DefaultCollusionServiceConfig())
	proctoring := service.NewProctoringService(repository.NewMemorySessionRepository(),
		analyzer.NewProctoringAnalyzer(logger, analyzer.DefaultProctoringConfig()),
		aggregator, cases, nil, logger, nil)

	dispatcher := &recordingDispatcher{}
	h := NewHandler(Services{
		Checks:     checkService,
		Dispatcher: dispatcher,
		Cases:      cases,
		Collusion:  collusionService,
		Proctoring: proctoring,
		Baselines:  baselines,
		Storage:    pinger{},
		Evidence:   pinger{},
		Queue:      queue,
	}, logger)

	router := chi.NewRouter()
	h.RegisterRoutes(router)
	return &testServer{router: router, dispatcher: dispatcher, aggregator: aggregator, cases: cases}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func (s *testServer) openCase(t *testing.T, subjectID string) *models.ViolationCase {
	t.Helper()
	results := []models.DetectorResult{{
		ID:          "res-" + subjectID,
		SubjectID:   subjectID,
		SubjectKind: models.SubjectSubmission,
		Kind:        models.DetectorSimilarity,
		Score:       0.9,
		Confidence:  0.9,
		RiskLevel:   models.RiskHigh,
	}}
	verdict, err := s.aggregator.Fuse(subjectID, models.SubjectSubmission, results)
	require.NoError(t, err)
	c, err := s.cases.OpenCase(context.Background(), verdict, results)
	require.NoError(t, err)
	return c
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{models.ErrInvalidInput, http.StatusBadRequest},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrConflict, http.StatusConflict},
		{models.ErrDuplicateCase, http.StatusConflict},
		{models.ErrInvalidTransition, http.StatusUnprocessableEntity},
		{models.ErrAppealWindowExpired, http.StatusUnprocessableEntity},
		{models.ErrSystemUnavailable, http.StatusServiceUnavailable},
		{models.ErrProviderUnavailable, http.StatusBadGateway},
		{models.ErrTimeout, http.StatusGatewayTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestSubmitCheck(t *testing.T) {
	s := newTestServer(t, nil)

	status, env := s.do(t, http.MethodPost, "/api/v1/checks", models.SubmitCheckRequest{
		SubmissionID: "sub-1",
		AuthorID:     "author-1",
		AssignmentID: "essay-1",
		Content:      "The committee reviewed every draft before the deadline.",
	})
	require.Equal(t, http.StatusAccepted, status)

	var resp models.SubmitCheckResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, models.CheckStatusPending, resp.Status)
	assert.Equal(t, "/api/v1/checks/"+resp.CheckID, resp.StatusURL)
	assert.Equal(t, []string{resp.CheckID}, s.dispatcher.checks)

	status, env = s.do(t, http.MethodGet, resp.StatusURL, nil)
	require.Equal(t, http.StatusOK, status)
	var check models.CheckRecord
	require.NoError(t, json.Unmarshal(env.Data, &check))
	assert.Equal(t, "sub-1", check.SubmissionID)
	assert.Equal(t, models.CheckStatusPending, check.Status)
}

func TestSubmitCheck_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	status, _ := s.do(t, http.MethodPost, "/api/v1/checks", map[string]string{"unexpected": "field"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/checks", models.SubmitCheckRequest{
		SubmissionID: "sub-1",
		AuthorID:     "author-1",
		AssignmentID: "essay-1",
		Content:      "   ",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/checks/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, s.dispatcher.checks)
}

func TestCaseTransitions(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.openCase(t, "sub-1")
	base := "/api/v1/cases/" + c.ID

	status, _ := s.do(t, http.MethodPost, base+"/sustain", models.ActorRequest{Actor: "dean"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = s.do(t, http.MethodPost, base+"/assign", models.AssignReviewerRequest{
		Actor:           "dean",
		ReviewerID:      "reviewer-1",
		ExpectedVersion: c.Version + 5,
	})
	assert.Equal(t, http.StatusConflict, status)

	status, env := s.do(t, http.MethodPost, base+"/assign", models.AssignReviewerRequest{
		Actor:           "dean",
		ReviewerID:      "reviewer-1",
		ExpectedVersion: c.Version,
	})
	require.Equal(t, http.StatusOK, status)
	var updated models.ViolationCase
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, models.CaseUnderReview, updated.State)
	assert.Equal(t, "reviewer-1", updated.ReviewerID)

	status, _ = s.do(t, http.MethodPost, base+"/sustain", models.ActorRequest{Rationale: "no actor"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = s.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, status)
	var detail models.CaseDetailResponse
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	require.NotNil(t, detail.Evidence)
	assert.Equal(t, c.EvidencePackageID, detail.Evidence.ID)

	status, _ = s.do(t, http.MethodGet, "/api/v1/evidence/"+c.EvidencePackageID, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/cases/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAttachFindings_RequiresVerdict(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.openCase(t, "sub-1")

	status, env := s.do(t, http.MethodPost, "/api/v1/checks", models.SubmitCheckRequest{
		SubmissionID: "sub-1",
		AuthorID:     "author-1",
		AssignmentID: "essay-1",
		Content:      "The committee reviewed every draft before the deadline.",
	})
	require.Equal(t, http.StatusAccepted, status)
	var resp models.SubmitCheckResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))

	status, _ = s.do(t, http.MethodPost, "/api/v1/cases/"+c.ID+"/findings", models.AttachFindingsRequest{
		Actor:   "dean",
		CheckID: resp.CheckID,
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSessions(t *testing.T) {
	s := newTestServer(t, nil)

	status, _ := s.do(t, http.MethodPost, "/api/v1/sessions", models.StartSessionRequest{StudentID: "student-1"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, env := s.do(t, http.MethodPost, "/api/v1/sessions", models.StartSessionRequest{StudentID: "student-1", ExamID: "exam-1"})
	require.Equal(t, http.StatusCreated, status)
	var session models.ProctoringSession
	require.NoError(t, json.Unmarshal(env.Data, &session))

	status, _ = s.do(t, http.MethodPost, "/api/v1/sessions/"+session.ID+"/events", models.IngestEventsRequest{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBaselines_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	status, _ := s.do(t, http.MethodGet, "/api/v1/authors/author-1/baselines/latest", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/authors/author-1/baselines", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	rec := httptest.NewRecorder()
	newTestServer(t, nil).router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Nil(t, resp.Queue)

	rec = httptest.NewRecorder()
	newTestServer(t, pinger{err: errors.New("connection refused")}).router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	require.NotNil(t, resp.Queue)
	assert.False(t, *resp.Queue)
}
