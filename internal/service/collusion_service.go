package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/metrics"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service/analyzer"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// CollusionService runs cohort analyses. Runs for one assignment never overlap.
type CollusionService interface {
	Run(ctx context.Context, assignmentID string) (*models.CollusionRun, error)
	GetLatestRun(ctx context.Context, assignmentID string) (*models.CollusionRun, error)
}

type CollusionServiceConfig struct {
	LockWait time.Duration
	Now      func() time.Time
}

func DefaultCollusionServiceConfig() CollusionServiceConfig {
	return CollusionServiceConfig{LockWait: 2 * time.Second}
}

type collusionService struct {
	submissionRepo repository.SubmissionRepository
	checkRepo      repository.CheckRepository
	collusionRepo  repository.CollusionRepository
	analyzer       analyzer.CollusionAnalyzer
	aggregator     analyzer.RiskAggregator
	cases          CaseManager
	publisher      EventPublisher
	logger         zerolog.Logger
	config         CollusionServiceConfig
	now            func() time.Time

	mu    sync.Mutex
	locks map[string]*assignmentLock
}

type assignmentLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewCollusionService(
	submissionRepo repository.SubmissionRepository,
	checkRepo repository.CheckRepository,
	collusionRepo repository.CollusionRepository,
	collusionAnalyzer analyzer.CollusionAnalyzer,
	aggregator analyzer.RiskAggregator,
	cases CaseManager,
	publisher EventPublisher,
	logger zerolog.Logger,
	config CollusionServiceConfig,
) CollusionService {
	return &collusionService{
		submissionRepo: submissionRepo,
		checkRepo:      checkRepo,
		collusionRepo:  collusionRepo,
		analyzer:       collusionAnalyzer,
		aggregator:     aggregator,
		cases:          cases,
		publisher:      publisherOrNop(publisher),
		logger:         logger,
		config:         config,
		now:            clockOrDefault(config.Now),
		locks:          make(map[string]*assignmentLock),
	}
}

func (s *collusionService) lockFor(assignmentID string) *assignmentLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[assignmentID]
	if !ok {
		l = &assignmentLock{sem: semaphore.NewWeighted(1)}
		s.locks[assignmentID] = l
	}
	l.refs++
	return l
}

// releaseLock drops the caller's reference and forgets the lock once unused.
func (s *collusionService) releaseLock(assignmentID string, l *assignmentLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, assignmentID)
	}
}

// Run analyses the assignment's cohort and makes the run current. Members of
// high-risk clusters are re-fused with their latest check and escalated.
func (s *collusionService) Run(ctx context.Context, assignmentID string) (*models.CollusionRun, error) {
	if assignmentID == "" {
		return nil, fmt.Errorf("%w: assignment id is required", models.ErrInvalidInput)
	}

	lock := s.lockFor(assignmentID)
	defer s.releaseLock(assignmentID, lock)

	lockCtx, cancel := context.WithTimeout(ctx, s.config.LockWait)
	err := lock.sem.Acquire(lockCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.CollusionRuns.WithLabelValues("busy").Inc()
		return nil, fmt.Errorf("%w: collusion run for assignment %s already in progress", models.ErrConflict, assignmentID)
	}
	defer lock.sem.Release(1)

	submissions, err := s.submissionRepo.GetByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cohort: %w", err)
	}

	run, results, err := s.analyzer.Analyze(ctx, assignmentID, submissions)
	if err != nil {
		metrics.CollusionRuns.WithLabelValues("failed").Inc()
		return nil, err
	}

	if err := s.collusionRepo.SaveRun(ctx, run, results); err != nil {
		metrics.CollusionRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to store collusion run: %w", err)
	}

	outcome := "completed"
	if run.Degraded {
		outcome = "degraded"
	}
	metrics.CollusionRuns.WithLabelValues(outcome).Inc()
	metrics.CollusionClusters.Observe(float64(len(run.Clusters)))

	s.logger.Info().
		Str("run_id", run.ID).
		Str("assignment_id", assignmentID).
		Int("submissions", run.SubmissionCount).
		Int("clusters", len(run.Clusters)).
		Bool("degraded", run.Degraded).
		Msg("Collusion run completed")

	for _, result := range results {
		if result.RiskLevel != models.RiskHigh {
			continue
		}
		if err := s.escalateMember(ctx, result); err != nil {
			s.logger.Error().
				Err(err).
				Str("submission_id", result.SubjectID).
				Str("run_id", run.ID).
				Msg("Failed to escalate collusion finding")
		}
	}

	return run, nil
}

// escalateMember fuses the member's collusion result with the non-collusion
// results of its latest completed check.
func (s *collusionService) escalateMember(ctx context.Context, collusion models.DetectorResult) error {
	results := make([]models.DetectorResult, 0, 3)

	check, err := s.checkRepo.GetLatestBySubmission(ctx, collusion.SubjectID)
	switch {
	case err == nil:
		for _, r := range check.Results {
			if r.Kind != models.DetectorCollusion {
				results = append(results, r)
			}
		}
	case !errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("failed to load latest check: %w", err)
	}
	results = append(results, collusion)

	verdict, err := s.aggregator.Fuse(collusion.SubjectID, models.SubjectSubmission, results)
	if err != nil {
		return err
	}
	metrics.VerdictsTotal.WithLabelValues(string(verdict.SubjectKind), verdict.RiskLevel.String()).Inc()
	if !verdict.Flagged {
		return nil
	}
	metrics.FlaggedVerdicts.WithLabelValues(string(verdict.SubjectKind)).Inc()

	if _, err := escalate(ctx, s.cases, verdict, results, s.logger); err != nil {
		return err
	}

	event := models.VerdictProducedEvent{
		SubjectID:           verdict.SubjectID,
		SubjectKind:         verdict.SubjectKind,
		VerdictID:           verdict.ID,
		AggregateScore:      verdict.AggregateScore,
		RiskLevel:           verdict.RiskLevel,
		Flagged:             verdict.Flagged,
		RequiresHumanReview: verdict.RequiresHumanReview,
		ProducedAt:          s.now(),
	}
	if err := s.publisher.Publish(ctx, models.RoutingVerdictProduced, event); err != nil {
		s.logger.Error().Err(err).Str("subject_id", verdict.SubjectID).Msg("Failed to publish verdict event")
	}
	return nil
}

func (s *collusionService) GetLatestRun(ctx context.Context, assignmentID string) (*models.CollusionRun, error) {
	return s.collusionRepo.GetLatestRun(ctx, assignmentID)
}
