package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/metrics"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service/analyzer"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/pkg/hash"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CheckService runs the per-submission detectors, fuses their results and
// hands flagged verdicts to the case manager.
type CheckService interface {
	Submit(ctx context.Context, req models.SubmitCheckRequest) (*models.CheckRecord, error)
	Process(ctx context.Context, checkID string) (*models.CheckRecord, error)
	Analyze(ctx context.Context, submission models.Submission) (*models.IntegrityVerdict, []models.DetectorResult, error)
	GetCheck(ctx context.Context, id string) (*models.CheckRecord, error)
	GetByStatus(ctx context.Context, status models.CheckStatus, limit int) ([]models.CheckRecord, error)
	WarmCorpus(ctx context.Context, limit int) (int, error)
}

type CheckConfig struct {
	SimilarityTimeout time.Duration
	StyleTimeout      time.Duration
	Now               func() time.Time
}

func DefaultCheckConfig() CheckConfig {
	return CheckConfig{
		SimilarityTimeout: 30 * time.Second,
		StyleTimeout:      15 * time.Second,
	}
}

type checkService struct {
	submissionRepo repository.SubmissionRepository
	checkRepo      repository.CheckRepository
	collusionRepo  repository.CollusionRepository
	similarity     analyzer.SimilarityEngine
	style          analyzer.StyleProfiler
	corpus         analyzer.CorpusIndex
	aggregator     analyzer.RiskAggregator
	baselines      BaselineService
	cases          CaseManager
	publisher      EventPublisher
	hasher         hash.Hasher
	logger         zerolog.Logger
	config         CheckConfig
	now            func() time.Time
}

func NewCheckService(
	submissionRepo repository.SubmissionRepository,
	checkRepo repository.CheckRepository,
	collusionRepo repository.CollusionRepository,
	similarity analyzer.SimilarityEngine,
	style analyzer.StyleProfiler,
	corpus analyzer.CorpusIndex,
	aggregator analyzer.RiskAggregator,
	baselines BaselineService,
	cases CaseManager,
	publisher EventPublisher,
	logger zerolog.Logger,
	config CheckConfig,
) CheckService {
	return &checkService{
		submissionRepo: submissionRepo,
		checkRepo:      checkRepo,
		collusionRepo:  collusionRepo,
		similarity:     similarity,
		style:          style,
		corpus:         corpus,
		aggregator:     aggregator,
		baselines:      baselines,
		cases:          cases,
		publisher:      publisherOrNop(publisher),
		hasher:         hash.NewContentHasher(hash.SHA256),
		logger:         logger,
		config:         config,
		now:            clockOrDefault(config.Now),
	}
}

// Submit stores the submission and a pending check for it.
func (s *checkService) Submit(ctx context.Context, req models.SubmitCheckRequest) (*models.CheckRecord, error) {
	now := s.now()
	submission := models.Submission{
		ID:           strings.TrimSpace(req.SubmissionID),
		AuthorID:     strings.TrimSpace(req.AuthorID),
		AssignmentID: strings.TrimSpace(req.AssignmentID),
		Content:      req.Content,
		SubmittedAt:  now,
	}
	if submission.ID == "" {
		submission.ID = uuid.New().String()
	}
	if req.SubmittedAt != nil {
		submission.SubmittedAt = *req.SubmittedAt
	}
	if err := submission.Validate(); err != nil {
		return nil, err
	}

	contentHash, err := s.hasher.Calculate([]byte(submission.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to hash submission: %w", err)
	}
	submission.ContentHash = contentHash

	existing, err := s.submissionRepo.GetByID(ctx, submission.ID)
	switch {
	case err == nil && existing.ContentHash != contentHash:
		return nil, fmt.Errorf("%w: submission %s already stored with different content", models.ErrConflict, submission.ID)
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("failed to look up submission: %w", err)
	case err != nil:
		if err := s.submissionRepo.Save(ctx, &submission); err != nil {
			return nil, err
		}
	}

	check := &models.CheckRecord{
		ID:           uuid.New().String(),
		SubmissionID: submission.ID,
		AuthorID:     submission.AuthorID,
		AssignmentID: submission.AssignmentID,
		Status:       models.CheckStatusPending,
		CreatedAt:    now,
	}
	if err := s.checkRepo.Create(ctx, check); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("check_id", check.ID).
		Str("submission_id", submission.ID).
		Str("author_id", submission.AuthorID).
		Msg("Check submitted")

	return check, nil
}

// Process runs a pending check to completion. Completed checks are returned
// unchanged, so redelivered messages are harmless.
func (s *checkService) Process(ctx context.Context, checkID string) (*models.CheckRecord, error) {
	check, err := s.checkRepo.GetByID(ctx, checkID)
	if err != nil {
		return nil, err
	}
	if check.Status == models.CheckStatusCompleted || check.Status == models.CheckStatusUnavailable {
		s.logger.Info().Str("check_id", checkID).Str("status", check.Status.String()).Msg("Check already finished, skipping")
		return check, nil
	}

	submission, err := s.submissionRepo.GetByID(ctx, check.SubmissionID)
	if err != nil {
		return nil, err
	}

	startedAt := s.now()
	check.Status = models.CheckStatusProcessing
	check.StartedAt = &startedAt
	check.Error = ""
	if err := s.checkRepo.Update(ctx, check); err != nil {
		return nil, fmt.Errorf("failed to mark check processing: %w", err)
	}

	verdict, results, err := s.Analyze(ctx, *submission)
	check.Results = results
	if err != nil {
		return s.finishWithError(ctx, check, err)
	}
	check.Verdict = verdict

	if err := s.corpus.Add(ctx, *submission); err != nil {
		s.logger.Warn().Err(err).Str("submission_id", submission.ID).Msg("Failed to index submission")
	}

	if verdict.Flagged {
		c, err := escalate(ctx, s.cases, verdict, results, s.logger)
		if err != nil {
			return s.finishWithError(ctx, check, fmt.Errorf("failed to open case: %w", err))
		}
		check.CaseID = &c.ID
	} else if _, err := s.baselines.Confirm(ctx, *submission); err != nil {
		s.logger.Error().Err(err).Str("submission_id", submission.ID).Msg("Failed to update style baseline")
	}

	completedAt := s.now()
	check.Status = models.CheckStatusCompleted
	check.CompletedAt = &completedAt
	if err := s.checkRepo.Update(ctx, check); err != nil {
		return nil, fmt.Errorf("failed to store check result: %w", err)
	}
	metrics.ChecksTotal.WithLabelValues(check.Status.String()).Inc()

	event := models.VerdictProducedEvent{
		CheckID:             check.ID,
		SubjectID:           verdict.SubjectID,
		SubjectKind:         verdict.SubjectKind,
		VerdictID:           verdict.ID,
		AggregateScore:      verdict.AggregateScore,
		RiskLevel:           verdict.RiskLevel,
		Flagged:             verdict.Flagged,
		RequiresHumanReview: verdict.RequiresHumanReview,
		ProducedAt:          completedAt,
	}
	if err := s.publisher.Publish(ctx, models.RoutingVerdictProduced, event); err != nil {
		s.logger.Error().Err(err).Str("check_id", check.ID).Msg("Failed to publish verdict event")
	}

	s.logger.Info().
		Str("check_id", check.ID).
		Str("submission_id", submission.ID).
		Float64("aggregate_score", verdict.AggregateScore).
		Str("risk_level", verdict.RiskLevel.String()).
		Bool("flagged", verdict.Flagged).
		Bool("requires_review", verdict.RequiresHumanReview).
		Dur("processing_time", completedAt.Sub(startedAt)).
		Msg("Check completed")

	return check, nil
}

func (s *checkService) finishWithError(ctx context.Context, check *models.CheckRecord, cause error) (*models.CheckRecord, error) {
	if ctx.Err() != nil {
		// Left in processing; RecoverPending picks it up again.
		s.logger.Warn().Err(cause).Str("check_id", check.ID).Msg("Check interrupted")
		return check, cause
	}

	check.Status = models.CheckStatusFailed
	if errors.Is(cause, models.ErrSystemUnavailable) {
		check.Status = models.CheckStatusUnavailable
	}
	completedAt := s.now()
	check.CompletedAt = &completedAt
	check.Error = cause.Error()

	if err := s.checkRepo.Update(ctx, check); err != nil {
		s.logger.Error().Err(err).Str("check_id", check.ID).Msg("Failed to store failed check")
	}
	metrics.ChecksTotal.WithLabelValues(check.Status.String()).Inc()

	s.logger.Warn().
		Err(cause).
		Str("check_id", check.ID).
		Str("status", check.Status.String()).
		Msg("Check did not produce a verdict")

	return check, cause
}

// Analyze runs similarity and style in parallel, adds the submission's current
// collusion result and fuses everything. A failing detector becomes a degraded
// placeholder; only invalid input aborts the run.
func (s *checkService) Analyze(ctx context.Context, submission models.Submission) (*models.IntegrityVerdict, []models.DetectorResult, error) {
	if err := submission.Validate(); err != nil {
		return nil, nil, err
	}

	baseline, err := s.baselines.GetLatest(ctx, submission.AuthorID)
	if err != nil {
		s.logger.Warn().Err(err).Str("author_id", submission.AuthorID).Msg("Failed to load style baseline, profiling without it")
		baseline = nil
	}

	results := make([]models.DetectorResult, 2)
	var g errgroup.Group
	g.Go(func() error {
		r, err := s.runDetector(ctx, submission, models.DetectorSimilarity, s.config.SimilarityTimeout,
			func(ctx context.Context) (*models.DetectorResult, error) {
				return s.similarity.Analyze(ctx, submission)
			})
		results[0] = r
		return err
	})
	g.Go(func() error {
		r, err := s.runDetector(ctx, submission, models.DetectorStyle, s.config.StyleTimeout,
			func(ctx context.Context) (*models.DetectorResult, error) {
				return s.style.Analyze(ctx, submission, baseline)
			})
		results[1] = r
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	collusion, err := s.collusionRepo.GetCurrentResult(ctx, submission.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("submission_id", submission.ID).Msg("Failed to load collusion result")
	} else if collusion != nil {
		results = append(results, *collusion)
	}

	verdict, err := s.aggregator.Fuse(submission.ID, models.SubjectSubmission, results)
	if err != nil {
		return nil, results, err
	}

	metrics.VerdictsTotal.WithLabelValues(string(verdict.SubjectKind), verdict.RiskLevel.String()).Inc()
	if verdict.Flagged {
		metrics.FlaggedVerdicts.WithLabelValues(string(verdict.SubjectKind)).Inc()
	}
	return verdict, results, nil
}

func (s *checkService) runDetector(
	ctx context.Context,
	submission models.Submission,
	kind models.DetectorKind,
	timeout time.Duration,
	run func(ctx context.Context) (*models.DetectorResult, error),
) (models.DetectorResult, error) {
	dctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := run(dctx)
	metrics.DetectorLatency.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())

	if err == nil {
		if result.Degraded {
			metrics.DetectorDegraded.WithLabelValues(string(kind), result.DegradedReason).Inc()
		}
		return *result, nil
	}
	if errors.Is(err, models.ErrInvalidInput) {
		return models.DetectorResult{}, err
	}
	if ctx.Err() != nil {
		return models.DetectorResult{}, ctx.Err()
	}

	reason := models.DegradedDetectorFailed
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, models.ErrTimeout) {
		reason = models.DegradedTimeout
	}
	metrics.DetectorDegraded.WithLabelValues(string(kind), reason).Inc()
	s.logger.Warn().
		Err(err).
		Str("submission_id", submission.ID).
		Str("detector", string(kind)).
		Str("reason", reason).
		Msg("Detector failed, substituting placeholder")

	return placeholderResult(submission.ID, models.SubjectSubmission, kind, reason, s.now()), nil
}

// placeholderResult stands in for a detector that produced nothing. It is
// degraded with zero confidence, so fusion treats it as carrying no signal.
func placeholderResult(subjectID string, subjectKind models.SubjectKind, kind models.DetectorKind, reason string, now time.Time) models.DetectorResult {
	return models.DetectorResult{
		ID:             uuid.New().String(),
		SubjectID:      subjectID,
		SubjectKind:    subjectKind,
		Kind:           kind,
		RiskLevel:      models.RiskNone,
		Degraded:       true,
		DegradedReason: reason,
		CreatedAt:      now,
	}
}

func (s *checkService) GetCheck(ctx context.Context, id string) (*models.CheckRecord, error) {
	return s.checkRepo.GetByID(ctx, id)
}

func (s *checkService) GetByStatus(ctx context.Context, status models.CheckStatus, limit int) ([]models.CheckRecord, error) {
	return s.checkRepo.GetByStatus(ctx, status, limit)
}

// WarmCorpus indexes recent submissions so similarity has a corpus after a restart.
func (s *checkService) WarmCorpus(ctx context.Context, limit int) (int, error) {
	submissions, err := s.submissionRepo.GetRecent(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load submissions: %w", err)
	}

	indexed := 0
	for _, submission := range submissions {
		if err := s.corpus.Add(ctx, submission); err != nil {
			s.logger.Warn().Err(err).Str("submission_id", submission.ID).Msg("Failed to index submission")
			continue
		}
		indexed++
	}

	s.logger.Info().Int("indexed", indexed).Int("corpus_windows", s.corpus.Size()).Msg("Corpus warmed up")
	return indexed, nil
}
