package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/metrics"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const systemActor = "system"

// CaseCommand identifies the case an operation applies to and who performs it.
// ExpectedVersion is the version the caller last saw; zero accepts whatever
// version the operation loads, which still fails on a concurrent writer.
type CaseCommand struct {
	CaseID          string
	ExpectedVersion int64
	Actor           string
	Rationale       string
}

type CaseManager interface {
	OpenCase(ctx context.Context, verdict *models.IntegrityVerdict, results []models.DetectorResult) (*models.ViolationCase, error)
	AssignReviewer(ctx context.Context, cmd CaseCommand, reviewerID string) (*models.ViolationCase, error)
	Sustain(ctx context.Context, cmd CaseCommand) (*models.ViolationCase, error)
	Dismiss(ctx context.Context, cmd CaseCommand) (*models.ViolationCase, error)
	FileAppeal(ctx context.Context, cmd CaseCommand, reason string) (*models.ViolationCase, error)
	GrantAppeal(ctx context.Context, cmd CaseCommand, restorationSteps []string) (*models.ViolationCase, error)
	DenyAppeal(ctx context.Context, cmd CaseCommand) (*models.ViolationCase, error)
	CreateRestorationPlan(ctx context.Context, cmd CaseCommand, steps []string) (*models.ViolationCase, error)
	CompleteRestoration(ctx context.Context, cmd CaseCommand) (*models.ViolationCase, error)
	ExpireAppealWindows(ctx context.Context) (int, error)
	AttachFindings(ctx context.Context, cmd CaseCommand, verdict *models.IntegrityVerdict, results []models.DetectorResult) (*models.ViolationCase, error)

	GetCase(ctx context.Context, id string) (*models.ViolationCase, error)
	GetCaseBySubject(ctx context.Context, subjectID string) (*models.ViolationCase, error)
	GetCaseDetail(ctx context.Context, id string) (*models.CaseDetailResponse, error)
	ListCases(ctx context.Context, state models.CaseState, limit, offset int) ([]models.ViolationCase, error)
	GetAudit(ctx context.Context, id string) ([]models.AuditEntry, error)
	GetEvidence(ctx context.Context, packageID string) (*models.EvidencePackage, error)
}

type CaseConfig struct {
	AppealWindow   time.Duration
	SweepBatchSize int
	Now            func() time.Time
}

func DefaultCaseConfig() CaseConfig {
	return CaseConfig{
		AppealWindow:   7 * 24 * time.Hour,
		SweepBatchSize: 100,
	}
}

// Actions recorded in the audit log without moving the case.
var auditOnlyActions = map[models.CaseAction]bool{
	models.ActionCreateRestorationPlan: true,
	models.ActionRebindEvidence:        true,
	models.ActionAttachEvidence:        true,
}

type caseManager struct {
	caseRepo       repository.CaseRepository
	evidenceStore  repository.EvidenceStore
	submissionRepo repository.SubmissionRepository
	baselines      BaselineService
	publisher      EventPublisher
	logger         zerolog.Logger
	config         CaseConfig
	now            func() time.Time
}

func NewCaseManager(
	caseRepo repository.CaseRepository,
	evidenceStore repository.EvidenceStore,
	submissionRepo repository.SubmissionRepository,
	baselines BaselineService,
	publisher EventPublisher,
	logger zerolog.Logger,
	config CaseConfig,
) CaseManager {
	return &caseManager{
		caseRepo:       caseRepo,
		evidenceStore:  evidenceStore,
		submissionRepo: submissionRepo,
		baselines:      baselines,
		publisher:      publisherOrNop(publisher),
		logger:         logger,
		config:         config,
		now:            clockOrDefault(config.Now),
	}
}

func (m *caseManager) OpenCase(ctx context.Context, verdict *models.IntegrityVerdict, results []models.DetectorResult) (*models.ViolationCase, error) {
	if verdict == nil || !verdict.Flagged {
		return nil, fmt.Errorf("%w: a case requires a flagged verdict", models.ErrInvalidInput)
	}

	// Create still rejects a racing duplicate; this only spares the evidence write.
	if existing, err := m.caseRepo.GetBySubject(ctx, verdict.SubjectID); err == nil {
		metrics.CaseGuardRejections.WithLabelValues(string(models.ActionOpen), "duplicate").Inc()
		return nil, fmt.Errorf("%w: subject %s already has case %s", models.ErrDuplicateCase, verdict.SubjectID, existing.ID)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	now := m.now()
	packageID, err := m.storeEvidence(ctx, verdict, results, now)
	if err != nil {
		return nil, err
	}

	c := &models.ViolationCase{
		ID:                uuid.New().String(),
		SubjectID:         verdict.SubjectID,
		SubjectKind:       verdict.SubjectKind,
		VerdictID:         verdict.ID,
		State:             models.CaseOpen,
		Version:           1,
		EvidencePackageID: packageID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	entry := models.AuditEntry{
		ID:                uuid.New().String(),
		CaseID:            c.ID,
		Actor:             systemActor,
		Action:            models.ActionOpen,
		ToState:           models.CaseOpen,
		Rationale:         fmt.Sprintf("verdict %s flagged with aggregate score %.3f", verdict.ID, verdict.AggregateScore),
		EvidencePackageID: packageID,
		At:                now,
	}

	if err := m.caseRepo.Create(ctx, c, entry); err != nil {
		if errors.Is(err, models.ErrDuplicateCase) {
			metrics.CaseGuardRejections.WithLabelValues(string(models.ActionOpen), "duplicate").Inc()
		}
		return nil, err
	}

	metrics.CaseTransitions.WithLabelValues(string(models.ActionOpen), string(models.CaseOpen)).Inc()
	m.logger.Info().
		Str("case_id", c.ID).
		Str("subject_id", c.SubjectID).
		Str("subject_kind", string(c.SubjectKind)).
		Str("evidence_package_id", packageID).
		Msg("Violation case opened")

	m.publish(ctx, models.RoutingCaseOpened, models.CaseOpenedEvent{
		CaseID:            c.ID,
		SubjectID:         c.SubjectID,
		SubjectKind:       c.SubjectKind,
		VerdictID:         c.VerdictID,
		EvidencePackageID: packageID,
		OpenedAt:          now,
	})

	return c, nil
}

func (m *caseManager) AssignReviewer(ctx context.Context, cmd CaseCommand, reviewerID string) (*models.ViolationCase, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, fmt.Errorf("%w: reviewer id is required", models.ErrInvalidInput)
	}
	return m.apply(ctx, cmd, models.ActionAssignReviewer, func(c *models.ViolationCase, _ *models.AuditEntry, _ time.Time) error {
		c.ReviewerID = reviewerID
		return nil
	})
}

func (m *caseManager) Sustain(ctx context.Context, cmd CaseCommand) (*models.ViolationCase, error) {
	return m.apply(ctx, cmd, models.ActionSustain, func(c *models.ViolationCase, _ *models.AuditEntry, now time.Time) error {
		deadline := now.Add(m.config.AppealWindow)
		c.Decision = &models.Decision{
			Outcome:   models.CaseResolvedSustained,
			Rationale: cmd.Rationale,
			DecidedBy: cmd.Actor,
			DecidedAt: now,
		}
		c.AppealDeadline = &deadline
		return nil
	})
}

func (m *caseManager) Dismiss(ctx context.Context, cmd CaseCommand) (*models.ViolationCase, error) {
	c, err := m.apply(ctx, cmd, models.ActionDismiss, func(c *models.ViolationCase, _ *models.AuditEntry, now time.Time) error {
		c.Decision = &models.Decision{
			Outcome:   models.CaseResolvedDismissed,
			Rationale: cmd.Rationale,
			DecidedBy: cmd.Actor,
			DecidedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A cleared submission is the author's own work.
	if c.SubjectKind == models.SubjectSubmission && m.baselines != nil && m.submissionRepo != nil {
		submission, err := m.submissionRepo.GetByID(ctx, c.SubjectID)
		if err == nil {
			_, err = m.baselines.Confirm(ctx, *submission)
		}
		if err != nil {
			m.logger.Error().Err(err).Str("case_id", c.ID).Msg("Failed to update baseline after dismissal")
		}
	}
	return c, nil
}

func (m *caseManager) FileAppeal(ctx context.Context, cmd CaseCommand, reason string) (*models.ViolationCase, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: appeal reason is required", models.ErrInvalidInput)
	}
	return m.apply(ctx, cmd, models.ActionFileAppeal, func(c *models.ViolationCase, _ *models.AuditEntry, now time.Time) error {
		if c.AppealDeadline == nil || now.After(*c.AppealDeadline) {
			return fmt.Errorf("%w: case %s", models.ErrAppealWindowExpired, c.ID)
		}
		c.Appeal = &models.Appeal{
			ID:      uuid.New().String(),
			Status:  models.AppealPending,
			Reason:  reason,
			FiledBy: cmd.Actor,
			FiledAt: now,
		}
		return nil
	})
}

func (m *caseManager) GrantAppeal(ctx context.Context, cmd CaseCommand, restorationSteps []string) (*models.ViolationCase, error) {
	return m.apply(ctx, cmd, models.ActionGrantAppeal, func(c *models.ViolationCase, _ *models.AuditEntry, now time.Time) error {
		resolveAppeal(c, models.AppealGranted, cmd, now)
		if steps := cleanSteps(restorationSteps); len(steps) > 0 {
			c.Restoration = newRestorationPlan(steps, cmd.Actor, now)
		}
		return nil
	})
}

func (m *caseManager) DenyAppeal(ctx context.Context, cmd CaseCommand) (*models.ViolationCase, error) {
	return m.apply(ctx, cmd, models.ActionDenyAppeal, func(c *models.ViolationCase, _ *models.AuditEntry, now time.Time) error {
		resolveAppeal(c, models.AppealDenied, cmd, now)
		return nil
	})
}

func (m *caseManager) CreateRestorationPlan(ctx context.Context, cmd CaseCommand, steps []string) (*models.ViolationCase, error) {
	steps = cleanSteps(steps)
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: restoration plan needs at least one step", models.ErrInvalidInput)
	}
	return m.apply(ctx, cmd, models.ActionCreateRestorationPlan, func(c *models.ViolationCase, _ *models.AuditEntry, now time.Time) error {
		if c.State != models.CaseRestoration {
			return fmt.Errorf("%w: restoration plans exist only in %s, case is %s", models.ErrInvalidTransition, models.CaseRestoration, c.State)
		}
		if c.Restoration != nil {
			return fmt.Errorf("%w: case %s already has a restoration plan", models.ErrConflict, c.ID)
		}
		c.Restoration = newRestorationPlan(steps, cmd.Actor, now)
		return nil
	})
}

func (m *caseManager) CompleteRestoration(ctx context.Context, cmd CaseCommand) (*models.ViolationCase, error) {
	return m.apply(ctx, cmd, models.ActionCompleteRestoration, func(c *models.ViolationCase, _ *models.AuditEntry, now time.Time) error {
		if c.Restoration == nil {
			return fmt.Errorf("%w: case %s has no restoration plan", models.ErrInvalidTransition, c.ID)
		}
		c.Restoration.Status = models.RestorationCompleted
		c.Restoration.CompletedAt = &now
		return nil
	})
}

// ExpireAppealWindows closes sustained cases whose appeal window has passed.
// It returns the number of cases closed.
func (m *caseManager) ExpireAppealWindows(ctx context.Context) (int, error) {
	cases, err := m.caseRepo.GetExpiredAppealWindows(ctx, m.now(), m.config.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired appeal windows: %w", err)
	}

	closed := 0
	for _, c := range cases {
		cmd := CaseCommand{
			CaseID:          c.ID,
			ExpectedVersion: c.Version,
			Actor:           systemActor,
			Rationale:       "appeal window expired without an appeal",
		}
		_, err := m.apply(ctx, cmd, models.ActionExpireAppealWindow, func(c *models.ViolationCase, _ *models.AuditEntry, now time.Time) error {
			if c.AppealDeadline == nil || !now.After(*c.AppealDeadline) {
				return fmt.Errorf("%w: appeal window of case %s is still open", models.ErrInvalidTransition, c.ID)
			}
			return nil
		})
		if err != nil {
			// A concurrent appeal wins; the case is no longer eligible.
			m.logger.Warn().Err(err).Str("case_id", c.ID).Msg("Skipped appeal window expiry")
			continue
		}
		closed++
	}

	if closed > 0 {
		m.logger.Info().Int("closed", closed).Msg("Closed cases with expired appeal windows")
	}
	return closed, nil
}

// AttachFindings links a new evidence package to a case. While the case is OPEN
// the package replaces the primary one; afterwards it is linked as supplementary.
func (m *caseManager) AttachFindings(ctx context.Context, cmd CaseCommand, verdict *models.IntegrityVerdict, results []models.DetectorResult) (*models.ViolationCase, error) {
	if verdict == nil {
		return nil, fmt.Errorf("%w: findings require a verdict", models.ErrInvalidInput)
	}

	current, err := m.caseRepo.GetByID(ctx, cmd.CaseID)
	if err != nil {
		return nil, err
	}
	if verdict.SubjectID != current.SubjectID {
		return nil, fmt.Errorf("%w: verdict subject %s does not match case subject %s", models.ErrInvalidInput, verdict.SubjectID, current.SubjectID)
	}
	if current.State.Terminal() {
		metrics.CaseGuardRejections.WithLabelValues(string(models.ActionAttachEvidence), "terminal").Inc()
		return nil, fmt.Errorf("%w: case %s is %s", models.ErrInvalidTransition, current.ID, current.State)
	}

	packageID, err := m.storeEvidence(ctx, verdict, results, m.now())
	if err != nil {
		return nil, err
	}
	if packageID == current.EvidencePackageID || contains(current.SupplementaryPackageIDs, packageID) {
		return current, nil
	}

	if cmd.ExpectedVersion == 0 {
		cmd.ExpectedVersion = current.Version
	}
	action := models.ActionAttachEvidence
	if current.State == models.CaseOpen {
		action = models.ActionRebindEvidence
	}

	return m.apply(ctx, cmd, action, func(c *models.ViolationCase, entry *models.AuditEntry, _ time.Time) error {
		entry.EvidencePackageID = packageID
		if action == models.ActionRebindEvidence {
			c.EvidencePackageID = packageID
			c.VerdictID = verdict.ID
			return nil
		}
		c.SupplementaryPackageIDs = append(c.SupplementaryPackageIDs, packageID)
		return nil
	})
}

func (m *caseManager) GetCase(ctx context.Context, id string) (*models.ViolationCase, error) {
	return m.caseRepo.GetByID(ctx, id)
}

func (m *caseManager) GetCaseBySubject(ctx context.Context, subjectID string) (*models.ViolationCase, error) {
	return m.caseRepo.GetBySubject(ctx, subjectID)
}

func (m *caseManager) GetCaseDetail(ctx context.Context, id string) (*models.CaseDetailResponse, error) {
	c, err := m.caseRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	audit, err := m.caseRepo.GetAudit(ctx, id)
	if err != nil {
		return nil, err
	}
	evidence, err := m.evidenceStore.Get(ctx, c.EvidencePackageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence for case %s: %w", id, err)
	}
	return &models.CaseDetailResponse{Case: c, Evidence: evidence, Audit: audit}, nil
}

func (m *caseManager) ListCases(ctx context.Context, state models.CaseState, limit, offset int) ([]models.ViolationCase, error) {
	return m.caseRepo.GetByState(ctx, state, limit, offset)
}

func (m *caseManager) GetAudit(ctx context.Context, id string) ([]models.AuditEntry, error) {
	return m.caseRepo.GetAudit(ctx, id)
}

func (m *caseManager) GetEvidence(ctx context.Context, packageID string) (*models.EvidencePackage, error) {
	return m.evidenceStore.Get(ctx, packageID)
}

// apply loads the case, checks the version and the transition table, lets
// mutate adjust a copy and persists it with one audit entry. The stored case
// is untouched when any guard fails.
func (m *caseManager) apply(
	ctx context.Context,
	cmd CaseCommand,
	action models.CaseAction,
	mutate func(c *models.ViolationCase, entry *models.AuditEntry, now time.Time) error,
) (*models.ViolationCase, error) {
	if strings.TrimSpace(cmd.Actor) == "" {
		return nil, fmt.Errorf("%w: actor is required", models.ErrInvalidInput)
	}

	current, err := m.caseRepo.GetByID(ctx, cmd.CaseID)
	if err != nil {
		return nil, err
	}
	if cmd.ExpectedVersion != 0 && current.Version != cmd.ExpectedVersion {
		metrics.CaseGuardRejections.WithLabelValues(string(action), "conflict").Inc()
		return nil, fmt.Errorf("%w: case %s is at version %d, expected %d", models.ErrConflict, current.ID, current.Version, cmd.ExpectedVersion)
	}

	to := current.State
	if !auditOnlyActions[action] {
		next, ok := models.NextCaseState(current.State, action)
		if !ok && action == models.ActionFileAppeal && appealWindowLapsed(current, m.now()) {
			metrics.CaseGuardRejections.WithLabelValues(string(action), "appeal_window_expired").Inc()
			return nil, fmt.Errorf("%w: case %s was closed when its appeal window ended", models.ErrAppealWindowExpired, current.ID)
		}
		if !ok {
			metrics.CaseGuardRejections.WithLabelValues(string(action), "invalid_transition").Inc()
			return nil, fmt.Errorf("%w: cannot %s a case in state %s", models.ErrInvalidTransition, action, current.State)
		}
		to = next
	}

	now := m.now()
	updated := current.Clone()
	entry := models.AuditEntry{
		ID:        uuid.New().String(),
		CaseID:    current.ID,
		Actor:     cmd.Actor,
		Action:    action,
		FromState: current.State,
		ToState:   to,
		Rationale: cmd.Rationale,
		At:        now,
	}

	if mutate != nil {
		if err := mutate(updated, &entry, now); err != nil {
			metrics.CaseGuardRejections.WithLabelValues(string(action), guardReason(err)).Inc()
			return nil, err
		}
	}
	updated.State = to
	updated.Version = current.Version + 1
	updated.UpdatedAt = now

	if err := m.caseRepo.Update(ctx, updated, current.Version, entry); err != nil {
		if errors.Is(err, models.ErrConflict) {
			metrics.CaseGuardRejections.WithLabelValues(string(action), "conflict").Inc()
		}
		return nil, err
	}

	metrics.CaseTransitions.WithLabelValues(string(action), string(to)).Inc()
	m.logger.Info().
		Str("case_id", updated.ID).
		Str("action", string(action)).
		Str("from_state", string(current.State)).
		Str("to_state", string(to)).
		Str("actor", cmd.Actor).
		Int64("version", updated.Version).
		Msg("Case updated")

	if to != current.State {
		m.publish(ctx, models.RoutingCaseTransitioned, models.CaseTransitionedEvent{
			CaseID:    updated.ID,
			Action:    action,
			FromState: current.State,
			ToState:   to,
			Actor:     cmd.Actor,
			At:        now,
		})
	}
	return updated, nil
}

func (m *caseManager) storeEvidence(ctx context.Context, verdict *models.IntegrityVerdict, results []models.DetectorResult, now time.Time) (string, error) {
	pkg := BuildEvidencePackage(verdict, results, now)
	id, err := m.evidenceStore.Put(ctx, pkg)
	if err != nil {
		return "", fmt.Errorf("failed to store evidence package: %w", err)
	}
	return id, nil
}

func (m *caseManager) publish(ctx context.Context, routingKey string, event interface{}) {
	if err := m.publisher.Publish(ctx, routingKey, event); err != nil {
		m.logger.Error().Err(err).Str("routing_key", routingKey).Msg("Failed to publish case event")
	}
}

// BuildEvidencePackage snapshots the results behind a verdict. Results are
// ordered by kind and id so the same findings always hash the same way.
func BuildEvidencePackage(verdict *models.IntegrityVerdict, results []models.DetectorResult, now time.Time) *models.EvidencePackage {
	sorted := append([]models.DetectorResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].ID < sorted[j].ID
	})

	summary := make([]models.EvidenceSummary, 0, len(sorted))
	for _, r := range sorted {
		summary = append(summary, models.EvidenceSummary{
			Kind:           r.Kind,
			ResultID:       r.ID,
			Score:          r.Score,
			Confidence:     r.Confidence,
			RiskLevel:      r.RiskLevel,
			Degraded:       r.Degraded,
			DegradedReason: r.DegradedReason,
		})
	}

	return &models.EvidencePackage{
		SubjectID: verdict.SubjectID,
		VerdictID: verdict.ID,
		Verdict:   verdict,
		Results:   sorted,
		Summary:   summary,
		CreatedAt: now,
	}
}

func resolveAppeal(c *models.ViolationCase, status models.AppealStatus, cmd CaseCommand, now time.Time) {
	if c.Appeal == nil {
		c.Appeal = &models.Appeal{ID: uuid.New().String()}
	}
	c.Appeal.Status = status
	c.Appeal.ResolvedBy = cmd.Actor
	c.Appeal.Resolution = cmd.Rationale
	c.Appeal.ResolvedAt = &now
}

func newRestorationPlan(steps []string, actor string, now time.Time) *models.RestorationPlan {
	return &models.RestorationPlan{
		ID:        uuid.New().String(),
		Status:    models.RestorationActive,
		Steps:     steps,
		CreatedBy: actor,
		CreatedAt: now,
	}
}

func cleanSteps(steps []string) []string {
	var out []string
	for _, s := range steps {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// appealWindowLapsed reports a sustained case closed by the sweeper without an appeal.
func appealWindowLapsed(c *models.ViolationCase, now time.Time) bool {
	return c.State == models.CaseClosed &&
		c.Decision != nil && c.Decision.Outcome == models.CaseResolvedSustained &&
		c.Appeal == nil &&
		c.AppealDeadline != nil && now.After(*c.AppealDeadline)
}

func guardReason(err error) string {
	switch {
	case errors.Is(err, models.ErrAppealWindowExpired):
		return "appeal_window_expired"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "invalid_input"
	}
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
