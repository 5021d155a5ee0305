package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testCase(id, subject string) *models.ViolationCase {
	return &models.ViolationCase{
		ID:          id,
		SubjectID:   subject,
		SubjectKind: models.SubjectSubmission,
		State:       models.CaseOpen,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func audit(caseID string, action models.CaseAction, from, to models.CaseState) models.AuditEntry {
	return models.AuditEntry{ID: caseID + string(action), CaseID: caseID, Actor: "tester", Action: action, FromState: from, ToState: to, At: now}
}

func TestMemoryCaseRepository_DuplicateSubject(t *testing.T) {
	repo := NewMemoryCaseRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testCase("c-1", "sub-1"), audit("c-1", models.ActionOpen, "", models.CaseOpen)))

	err := repo.Create(ctx, testCase("c-2", "sub-1"), audit("c-2", models.ActionOpen, "", models.CaseOpen))
	assert.True(t, errors.Is(err, models.ErrDuplicateCase))
	assert.True(t, errors.Is(err, models.ErrConflict))

	_, err = repo.GetByID(ctx, "c-2")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMemoryCaseRepository_VersionConflict(t *testing.T) {
	repo := NewMemoryCaseRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testCase("c-1", "sub-1"), audit("c-1", models.ActionOpen, "", models.CaseOpen)))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := repo.GetByID(ctx, "c-1")
			if err != nil {
				errs[i] = err
				return
			}
			c.State = models.CaseUnderReview
			c.Version = 2
			errs[i] = repo.Update(ctx, c, 1, audit("c-1", models.ActionAssignReviewer, models.CaseOpen, models.CaseUnderReview))
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	entries, err := repo.GetAudit(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, entries, 2, "the rejected update must not append to the audit log")
}

func TestMemoryCaseRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryCaseRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testCase("c-1", "sub-1"), audit("c-1", models.ActionOpen, "", models.CaseOpen)))

	c, err := repo.GetByID(ctx, "c-1")
	require.NoError(t, err)
	c.State = models.CaseClosed

	again, err := repo.GetByID(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, models.CaseOpen, again.State)
}

func TestMemoryCaseRepository_ExpiredAppealWindows(t *testing.T) {
	repo := NewMemoryCaseRepository()
	ctx := context.Background()

	expired := testCase("c-1", "sub-1")
	expired.State = models.CaseResolvedSustained
	deadline := now.Add(-time.Hour)
	expired.AppealDeadline = &deadline

	open := testCase("c-2", "sub-2")
	open.State = models.CaseResolvedSustained
	later := now.Add(time.Hour)
	open.AppealDeadline = &later

	require.NoError(t, repo.Create(ctx, expired, audit("c-1", models.ActionOpen, "", models.CaseOpen)))
	require.NoError(t, repo.Create(ctx, open, audit("c-2", models.ActionOpen, "", models.CaseOpen)))

	cases, err := repo.GetExpiredAppealWindows(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "c-1", cases[0].ID)
}

func TestMemoryBaselineRepository_Append(t *testing.T) {
	repo := NewMemoryBaselineRepository()
	ctx := context.Background()

	latest, err := repo.GetLatest(ctx, "author-1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := latest.Next("author-1", models.StyleStats{VocabularyComplexity: 0.5}, "sub-1", now)
	require.NoError(t, repo.Append(ctx, &first))

	second := first.Next("author-1", models.StyleStats{VocabularyComplexity: 0.6}, "sub-2", now)
	require.NoError(t, repo.Append(ctx, &second))

	// A writer working from a stale version loses.
	stale := first.Next("author-1", models.StyleStats{VocabularyComplexity: 0.7}, "sub-3", now)
	err = repo.Append(ctx, &stale)
	assert.True(t, errors.Is(err, models.ErrConflict))

	history, err := repo.GetHistory(ctx, "author-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, 2, history[1].Version)
	assert.Equal(t, 2, history[1].SampleCount)
}

func TestMemoryEvidenceStore_ContentAddressed(t *testing.T) {
	store := NewMemoryEvidenceStore()
	ctx := context.Background()

	pkg := &models.EvidencePackage{
		SubjectID: "sub-1",
		VerdictID: "v-1",
		Results: []models.DetectorResult{
			{ID: "r-1", Kind: models.DetectorSimilarity, Score: 0.4, Confidence: 0.9, RiskLevel: models.RiskHigh},
		},
		CreatedAt: now,
	}

	id, err := store.Put(ctx, pkg)
	require.NoError(t, err)
	assert.Contains(t, id, "sha256:")

	again := *pkg
	again.CreatedAt = now.Add(time.Hour)
	id2, err := store.Put(ctx, &again)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, now, stored.CreatedAt, "the first write is never overwritten")

	different := *pkg
	different.VerdictID = "v-2"
	id3, err := store.Put(ctx, &different)
	require.NoError(t, err)
	assert.NotEqual(t, id, id3)

	_, err = store.Get(ctx, "sha256:missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMemoryCollusionRepository_RunSupersedes(t *testing.T) {
	repo := NewMemoryCollusionRepository()
	ctx := context.Background()

	first := &models.CollusionRun{ID: "run-1", AssignmentID: "a-1", CompletedAt: now}
	require.NoError(t, repo.SaveRun(ctx, first, []models.DetectorResult{
		{ID: "r-1", SubjectID: "sub-1", Kind: models.DetectorCollusion, Score: 0.9},
		{ID: "r-2", SubjectID: "sub-2", Kind: models.DetectorCollusion, Score: 0.9},
	}))

	second := &models.CollusionRun{ID: "run-2", AssignmentID: "a-1", CompletedAt: now.Add(time.Hour)}
	require.NoError(t, repo.SaveRun(ctx, second, []models.DetectorResult{
		{ID: "r-3", SubjectID: "sub-1", Kind: models.DetectorCollusion, Score: 0.1},
	}))

	latest, err := repo.GetLatestRun(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.ID)

	res, err := repo.GetCurrentResult(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "r-3", res.ID)

	res, err = repo.GetCurrentResult(ctx, "sub-2")
	require.NoError(t, err)
	assert.Nil(t, res, "results of a superseded run are dropped")
}

func TestMemorySubmissionRepository_SaveIsIdempotent(t *testing.T) {
	repo := NewMemorySubmissionRepository()
	ctx := context.Background()

	s := &models.Submission{ID: "sub-1", AuthorID: "a", AssignmentID: "as-1", Content: "first", SubmittedAt: now}
	require.NoError(t, repo.Save(ctx, s))
	require.NoError(t, repo.Save(ctx, &models.Submission{ID: "sub-1", AuthorID: "a", AssignmentID: "as-1", Content: "second", SubmittedAt: now}))

	got, err := repo.GetByID(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)

	list, err := repo.GetByAssignment(ctx, "as-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
