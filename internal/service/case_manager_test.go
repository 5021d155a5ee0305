package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func caseCmd(c *models.ViolationCase, actor string) CaseCommand {
	return CaseCommand{CaseID: c.ID, ExpectedVersion: c.Version, Actor: actor, Rationale: "reviewed"}
}

func TestCaseManager_OpenRequiresFlaggedVerdict(t *testing.T) {
	h := newHarness(t)

	_, err := h.cases.OpenCase(context.Background(), &models.IntegrityVerdict{SubjectID: "sub-1"}, nil)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
	_, err = h.cases.OpenCase(context.Background(), nil, nil)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestCaseManager_OpenStoresEvidence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.openCase(t, "sub-1")

	assert.Equal(t, models.CaseOpen, c.State)
	assert.Equal(t, int64(1), c.Version)

	pkg, err := h.cases.GetEvidence(ctx, c.EvidencePackageID)
	require.NoError(t, err)
	assert.Equal(t, c.EvidencePackageID, pkg.ID)
	require.Len(t, pkg.Summary, 1)
	assert.Equal(t, models.DetectorSimilarity, pkg.Summary[0].Kind)

	detail, err := h.cases.GetCaseDetail(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, detail.Audit, 1)
	assert.Equal(t, models.ActionOpen, detail.Audit[0].Action)
	assert.Equal(t, "system", detail.Audit[0].Actor)

	verdict, results := h.flaggedVerdict(t, "sub-1")
	_, err = h.cases.OpenCase(ctx, verdict, results)
	assert.True(t, errors.Is(err, models.ErrDuplicateCase))
	assert.True(t, errors.Is(err, models.ErrConflict))
}

type countingEvidenceStore struct {
	repository.EvidenceStore
	mu   sync.Mutex
	puts int
}

func (s *countingEvidenceStore) Put(ctx context.Context, pkg *models.EvidencePackage) (string, error) {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.EvidenceStore.Put(ctx, pkg)
}

func TestCaseManager_DuplicateOpenStoresNoEvidence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	store := &countingEvidenceStore{EvidenceStore: repository.NewMemoryEvidenceStore()}
	config := DefaultCaseConfig()
	config.Now = h.clock.Now
	cases := NewCaseManager(h.caseRepo, store, h.submissions, h.baselines, h.publisher, zerolog.Nop(), config)

	verdict, results := h.flaggedVerdict(t, "sub-1")
	_, err := cases.OpenCase(ctx, verdict, results)
	require.NoError(t, err)
	require.Equal(t, 1, store.puts)

	verdict, results = h.flaggedVerdict(t, "sub-1")
	results[0].Score = 0.95
	_, err = cases.OpenCase(ctx, verdict, results)
	assert.True(t, errors.Is(err, models.ErrDuplicateCase))
	assert.Equal(t, 1, store.puts)
}

func TestCaseManager_FullLifecycleWithRestoration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.openCase(t, "sub-1")

	c, err := h.cases.AssignReviewer(ctx, caseCmd(c, "dean"), "reviewer-7")
	require.NoError(t, err)
	assert.Equal(t, models.CaseUnderReview, c.State)
	assert.Equal(t, "reviewer-7", c.ReviewerID)

	c, err = h.cases.Sustain(ctx, caseCmd(c, "reviewer-7"))
	require.NoError(t, err)
	assert.Equal(t, models.CaseResolvedSustained, c.State)
	require.NotNil(t, c.AppealDeadline)
	assert.Equal(t, testStart.Add(7*24*time.Hour), *c.AppealDeadline)

	h.clock.Advance(3 * 24 * time.Hour)
	c, err = h.cases.FileAppeal(ctx, caseCmd(c, "student"), "the matched source is my own earlier essay")
	require.NoError(t, err)
	assert.Equal(t, models.CaseAppealed, c.State)
	assert.Equal(t, models.AppealPending, c.Appeal.Status)

	c, err = h.cases.GrantAppeal(ctx, caseCmd(c, "board"), []string{"restore grade", " ", "notify instructor"})
	require.NoError(t, err)
	assert.Equal(t, models.CaseRestoration, c.State)
	assert.Equal(t, models.AppealGranted, c.Appeal.Status)
	require.NotNil(t, c.Restoration)
	assert.Equal(t, []string{"restore grade", "notify instructor"}, c.Restoration.Steps)

	c, err = h.cases.CompleteRestoration(ctx, caseCmd(c, "registrar"))
	require.NoError(t, err)
	assert.Equal(t, models.CaseClosed, c.State)
	assert.Equal(t, models.RestorationCompleted, c.Restoration.Status)
	assert.Equal(t, int64(6), c.Version)

	audit, err := h.cases.GetAudit(ctx, c.ID)
	require.NoError(t, err)
	actions := make([]models.CaseAction, 0, len(audit))
	for _, e := range audit {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []models.CaseAction{
		models.ActionOpen,
		models.ActionAssignReviewer,
		models.ActionSustain,
		models.ActionFileAppeal,
		models.ActionGrantAppeal,
		models.ActionCompleteRestoration,
	}, actions)
	assert.Equal(t, 5, h.publisher.count(models.RoutingCaseTransitioned))
}

func TestCaseManager_RestorationPlanAfterGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.openCase(t, "sub-1")

	c, err := h.cases.AssignReviewer(ctx, caseCmd(c, "dean"), "reviewer-7")
	require.NoError(t, err)
	c, err = h.cases.Sustain(ctx, caseCmd(c, "reviewer-7"))
	require.NoError(t, err)
	c, err = h.cases.FileAppeal(ctx, caseCmd(c, "student"), "procedural error")
	require.NoError(t, err)
	c, err = h.cases.GrantAppeal(ctx, caseCmd(c, "board"), nil)
	require.NoError(t, err)
	assert.Nil(t, c.Restoration)

	_, err = h.cases.CompleteRestoration(ctx, caseCmd(c, "registrar"))
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	c, err = h.cases.CreateRestorationPlan(ctx, caseCmd(c, "board"), []string{"resubmit assignment"})
	require.NoError(t, err)
	assert.Equal(t, models.CaseRestoration, c.State)
	require.NotNil(t, c.Restoration)

	_, err = h.cases.CreateRestorationPlan(ctx, caseCmd(c, "board"), []string{"another plan"})
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestCaseManager_AppealAfterWindowExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.openCase(t, "sub-1")

	c, err := h.cases.AssignReviewer(ctx, caseCmd(c, "dean"), "reviewer-7")
	require.NoError(t, err)
	c, err = h.cases.Sustain(ctx, caseCmd(c, "reviewer-7"))
	require.NoError(t, err)

	h.clock.Advance(8 * 24 * time.Hour)

	_, err = h.cases.FileAppeal(ctx, caseCmd(c, "student"), "late appeal")
	assert.True(t, errors.Is(err, models.ErrAppealWindowExpired))

	unchanged, err := h.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseResolvedSustained, unchanged.State)
	assert.Equal(t, c.Version, unchanged.Version)

	closed, err := h.cases.ExpireAppealWindows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	final, err := h.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseClosed, final.State)

	closed, err = h.cases.ExpireAppealWindows(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
}

func TestCaseManager_AppealAfterSweepReportsExpiredWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.openCase(t, "sub-1")

	c, err := h.cases.AssignReviewer(ctx, caseCmd(c, "dean"), "reviewer-7")
	require.NoError(t, err)
	_, err = h.cases.Sustain(ctx, caseCmd(c, "reviewer-7"))
	require.NoError(t, err)

	h.clock.Advance(8 * 24 * time.Hour)
	closed, err := h.cases.ExpireAppealWindows(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	swept, err := h.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CaseClosed, swept.State)

	_, err = h.cases.FileAppeal(ctx, caseCmd(swept, "student"), "late appeal")
	assert.True(t, errors.Is(err, models.ErrAppealWindowExpired))
	assert.False(t, errors.Is(err, models.ErrInvalidTransition))

	unchanged, err := h.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, swept.Version, unchanged.Version)
	assert.Nil(t, unchanged.Appeal)
}

func TestCaseManager_SweepLeavesOpenWindowsAlone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.openCase(t, "sub-1")

	c, err := h.cases.AssignReviewer(ctx, caseCmd(c, "dean"), "reviewer-7")
	require.NoError(t, err)
	_, err = h.cases.Sustain(ctx, caseCmd(c, "reviewer-7"))
	require.NoError(t, err)

	h.clock.Advance(6 * 24 * time.Hour)
	closed, err := h.cases.ExpireAppealWindows(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
}

func TestCaseManager_IllegalTransitionsDoNotMutate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.openCase(t, "sub-1")

	tests := []struct {
		name string
		run  func() (*models.ViolationCase, error)
	}{
		{"sustain while open", func() (*models.ViolationCase, error) { return h.cases.Sustain(ctx, caseCmd(c, "dean")) }},
		{"dismiss while open", func() (*models.ViolationCase, error) { return h.cases.Dismiss(ctx, caseCmd(c, "dean")) }},
		{"appeal while open", func() (*models.ViolationCase, error) {
			return h.cases.FileAppeal(ctx, caseCmd(c, "student"), "unfair")
		}},
		{"grant while open", func() (*models.ViolationCase, error) { return h.cases.GrantAppeal(ctx, caseCmd(c, "board"), nil) }},
		{"complete while open", func() (*models.ViolationCase, error) {
			return h.cases.CompleteRestoration(ctx, caseCmd(c, "registrar"))
		}},
		{"plan while open", func() (*models.ViolationCase, error) {
			return h.cases.CreateRestorationPlan(ctx, caseCmd(c, "board"), []string{"step"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.run()
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, models.ErrInvalidTransition), "got %v", err)

			stored, err := h.cases.GetCase(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, models.CaseOpen, stored.State)
			assert.Equal(t, int64(1), stored.Version)
		})
	}

	audit, err := h.cases.GetAudit(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestCaseManager_RequiresActor(t *testing.T) {
	h := newHarness(t)
	c := h.openCase(t, "sub-1")

	_, err := h.cases.AssignReviewer(context.Background(), caseCmd(c, ""), "reviewer-7")
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestCaseManager_StaleVersionConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.openCase(t, "sub-1")

	stale := caseCmd(c, "dean")
	_, err := h.cases.AssignReviewer(ctx, stale, "reviewer-7")
	require.NoError(t, err)

	_, err = h.cases.AssignReviewer(ctx, stale, "reviewer-8")
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestCaseManager_ConcurrentUpdatesOneWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.openCase(t, "sub-1")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, reviewer := range []string{"reviewer-7", "reviewer-8"} {
		wg.Add(1)
		go func(reviewer string) {
			defer wg.Done()
			_, err := h.cases.AssignReviewer(ctx, caseCmd(c, "dean"), reviewer)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrConflict):
				conflicts++
			}
		}(reviewer)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	stored, err := h.cases.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	audit, err := h.cases.GetAudit(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, audit, 2)
}

func TestCaseManager_DismissalFeedsBaseline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.storeSubmission(t, "sub-1")
	c := h.openCase(t, s.ID)

	c, err := h.cases.AssignReviewer(ctx, caseCmd(c, "dean"), "reviewer-7")
	require.NoError(t, err)
	c, err = h.cases.Dismiss(ctx, caseCmd(c, "reviewer-7"))
	require.NoError(t, err)
	assert.Equal(t, models.CaseResolvedDismissed, c.State)
	assert.Equal(t, models.CaseResolvedDismissed, c.Decision.Outcome)

	baseline, err := h.baselines.GetLatest(ctx, s.AuthorID)
	require.NoError(t, err)
	require.NotNil(t, baseline)
	assert.Equal(t, 1, baseline.Version)
	assert.Equal(t, s.ID, baseline.SourceSubmissionID)

	_, err = h.cases.FileAppeal(ctx, caseCmd(c, "student"), "anything")
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}

func TestCaseManager_AttachFindings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.openCase(t, "sub-1")
	system := CaseCommand{CaseID: c.ID, Actor: "system"}

	verdict, results := h.flaggedVerdict(t, "sub-1")
	rebound, err := h.cases.AttachFindings(ctx, system, verdict, results)
	require.NoError(t, err)
	assert.NotEqual(t, c.EvidencePackageID, rebound.EvidencePackageID)
	assert.Equal(t, verdict.ID, rebound.VerdictID)
	assert.Empty(t, rebound.SupplementaryPackageIDs)

	again, err := h.cases.AttachFindings(ctx, system, verdict, results)
	require.NoError(t, err)
	assert.Equal(t, rebound.Version, again.Version)

	_, err = h.cases.AssignReviewer(ctx, caseCmd(rebound, "dean"), "reviewer-7")
	require.NoError(t, err)

	verdict, results = h.flaggedVerdict(t, "sub-1")
	supplemented, err := h.cases.AttachFindings(ctx, system, verdict, results)
	require.NoError(t, err)
	assert.Equal(t, models.CaseUnderReview, supplemented.State)
	assert.Equal(t, rebound.EvidencePackageID, supplemented.EvidencePackageID)
	require.Len(t, supplemented.SupplementaryPackageIDs, 1)

	audit, err := h.cases.GetAudit(ctx, c.ID)
	require.NoError(t, err)
	last := audit[len(audit)-1]
	assert.Equal(t, models.ActionAttachEvidence, last.Action)
	assert.Equal(t, supplemented.SupplementaryPackageIDs[0], last.EvidencePackageID)

	other, otherResults := h.flaggedVerdict(t, "sub-2")
	_, err = h.cases.AttachFindings(ctx, system, other, otherResults)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))

	dismissed, err := h.cases.Dismiss(ctx, caseCmd(supplemented, "reviewer-7"))
	require.NoError(t, err)

	verdict, results = h.flaggedVerdict(t, "sub-1")
	_, err = h.cases.AttachFindings(ctx, CaseCommand{CaseID: dismissed.ID, Actor: "system"}, verdict, results)
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
}
