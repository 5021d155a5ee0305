package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service/analyzer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fixedClock { return &fixedClock{t: testStart} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type published struct {
	key   string
	event interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{key: routingKey, event: event})
	return nil
}

func (p *recordingPublisher) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.key == key {
			n++
		}
	}
	return n
}

type detectFunc func(ctx context.Context, submission models.Submission) (*models.DetectorResult, error)

type fakeSimilarity struct{ fn detectFunc }

func (f *fakeSimilarity) Analyze(ctx context.Context, submission models.Submission) (*models.DetectorResult, error) {
	return f.fn(ctx, submission)
}

func (f *fakeSimilarity) GetCheckerInfo() analyzer.CheckerInfo {
	return analyzer.CheckerInfo{Name: "fake-similarity"}
}

type fakeStyle struct{ fn detectFunc }

func (f *fakeStyle) Analyze(ctx context.Context, submission models.Submission, _ *models.StyleBaseline) (*models.DetectorResult, error) {
	return f.fn(ctx, submission)
}

func (f *fakeStyle) ExtractStats(text string) models.StyleStats {
	return models.StyleStats{VocabularyComplexity: 0.6, Burstiness: 0.4, Perplexity: 0.5}
}

func returns(kind models.DetectorKind, score, confidence float64, level models.RiskLevel) detectFunc {
	return func(ctx context.Context, submission models.Submission) (*models.DetectorResult, error) {
		return &models.DetectorResult{
			ID:          uuid.New().String(),
			SubjectID:   submission.ID,
			SubjectKind: models.SubjectSubmission,
			Kind:        kind,
			Score:       score,
			Confidence:  confidence,
			RiskLevel:   level,
		}, nil
	}
}

func fails(err error) detectFunc {
	return func(ctx context.Context, submission models.Submission) (*models.DetectorResult, error) {
		return nil, err
	}
}

type harness struct {
	clock        *fixedClock
	publisher    *recordingPublisher
	submissions  repository.SubmissionRepository
	checkRepo    repository.CheckRepository
	baselineRepo repository.BaselineRepository
	collusion    repository.CollusionRepository
	sessions     repository.SessionRepository
	caseRepo     repository.CaseRepository
	evidence     repository.EvidenceStore
	corpus       analyzer.CorpusIndex
	aggregator   analyzer.RiskAggregator
	similarity   *fakeSimilarity
	style        *fakeStyle
	baselines    BaselineService
	cases        CaseManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:        newClock(),
		publisher:    &recordingPublisher{},
		submissions:  repository.NewMemorySubmissionRepository(),
		checkRepo:    repository.NewMemoryCheckRepository(),
		baselineRepo: repository.NewMemoryBaselineRepository(),
		collusion:    repository.NewMemoryCollusionRepository(),
		sessions:     repository.NewMemorySessionRepository(),
		caseRepo:     repository.NewMemoryCaseRepository(),
		evidence:     repository.NewMemoryEvidenceStore(),
		corpus:       analyzer.NewMemoryCorpusIndex(analyzer.NewHashingEmbedder(64), 8, 4),
		aggregator:   analyzer.NewRiskAggregator(analyzer.DefaultAggregatorConfig()),
		similarity:   &fakeSimilarity{fn: returns(models.DetectorSimilarity, 0.05, 0.9, models.RiskNone)},
		style:        &fakeStyle{fn: returns(models.DetectorStyle, 0.1, 0.8, models.RiskNone)},
	}
	h.baselines = NewBaselineService(h.baselineRepo, h.style, zerolog.Nop(), h.clock.Now)

	caseConfig := DefaultCaseConfig()
	caseConfig.Now = h.clock.Now
	h.cases = NewCaseManager(h.caseRepo, h.evidence, h.submissions, h.baselines, h.publisher, zerolog.Nop(), caseConfig)
	return h
}

func (h *harness) checkService() CheckService {
	config := DefaultCheckConfig()
	config.SimilarityTimeout = 50 * time.Millisecond
	config.StyleTimeout = 50 * time.Millisecond
	config.Now = h.clock.Now
	return NewCheckService(h.submissions, h.checkRepo, h.collusion, h.similarity, h.style, h.corpus,
		h.aggregator, h.baselines, h.cases, h.publisher, zerolog.Nop(), config)
}

func (h *harness) storeSubmission(t *testing.T, id string) models.Submission {
	t.Helper()
	s := models.Submission{
		ID:           id,
		AuthorID:     "author-" + id,
		AssignmentID: "essay-1",
		Content:      "The committee reviewed every draft before the deadline.",
		ContentHash:  "sha256:" + id,
		SubmittedAt:  testStart,
	}
	require.NoError(t, h.submissions.Save(context.Background(), &s))
	return s
}

// flaggedVerdict fuses a single high similarity result for subjectID.
func (h *harness) flaggedVerdict(t *testing.T, subjectID string) (*models.IntegrityVerdict, []models.DetectorResult) {
	t.Helper()
	results := []models.DetectorResult{{
		ID:          uuid.New().String(),
		SubjectID:   subjectID,
		SubjectKind: models.SubjectSubmission,
		Kind:        models.DetectorSimilarity,
		Score:       0.9,
		Confidence:  0.9,
		RiskLevel:   models.RiskHigh,
	}}
	verdict, err := h.aggregator.Fuse(subjectID, models.SubjectSubmission, results)
	require.NoError(t, err)
	require.True(t, verdict.Flagged)
	return verdict, results
}

func (h *harness) openCase(t *testing.T, subjectID string) *models.ViolationCase {
	t.Helper()
	verdict, results := h.flaggedVerdict(t, subjectID)
	c, err := h.cases.OpenCase(context.Background(), verdict, results)
	require.NoError(t, err)
	return c
}
