package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service/analyzer"
	"github.com/rs/zerolog"
)

// BaselineService maintains authors' style baselines. A submission is folded in
// only once it is known to be the author's own work.
type BaselineService interface {
	GetLatest(ctx context.Context, authorID string) (*models.StyleBaseline, error)
	GetHistory(ctx context.Context, authorID string) ([]models.StyleBaseline, error)
	Confirm(ctx context.Context, submission models.Submission) (*models.StyleBaseline, error)
}

const baselineAppendAttempts = 3

type baselineService struct {
	baselineRepo repository.BaselineRepository
	profiler     analyzer.StyleProfiler
	logger       zerolog.Logger
	now          func() time.Time
}

func NewBaselineService(
	baselineRepo repository.BaselineRepository,
	profiler analyzer.StyleProfiler,
	logger zerolog.Logger,
	now func() time.Time,
) BaselineService {
	return &baselineService{
		baselineRepo: baselineRepo,
		profiler:     profiler,
		logger:       logger,
		now:          clockOrDefault(now),
	}
}

func (s *baselineService) GetLatest(ctx context.Context, authorID string) (*models.StyleBaseline, error) {
	return s.baselineRepo.GetLatest(ctx, authorID)
}

func (s *baselineService) GetHistory(ctx context.Context, authorID string) ([]models.StyleBaseline, error) {
	history, err := s.baselineRepo.GetHistory(ctx, authorID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: no baseline for author %s", models.ErrNotFound, authorID)
	}
	return history, nil
}

// Confirm appends a new baseline version including the submission's stats.
// Concurrent confirmations for one author are retried against the new latest.
func (s *baselineService) Confirm(ctx context.Context, submission models.Submission) (*models.StyleBaseline, error) {
	stats := s.profiler.ExtractStats(submission.Content)

	var lastErr error
	for attempt := 0; attempt < baselineAppendAttempts; attempt++ {
		latest, err := s.baselineRepo.GetLatest(ctx, submission.AuthorID)
		if err != nil {
			return nil, fmt.Errorf("failed to load baseline: %w", err)
		}
		if latest != nil && latest.SourceSubmissionID == submission.ID {
			return latest, nil
		}

		next := latest.Next(submission.AuthorID, stats, submission.ID, s.now())
		err = s.baselineRepo.Append(ctx, &next)
		if err == nil {
			s.logger.Info().
				Str("author_id", submission.AuthorID).
				Str("submission_id", submission.ID).
				Int("version", next.Version).
				Int("samples", next.SampleCount).
				Msg("Style baseline updated")
			return &next, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return nil, fmt.Errorf("failed to append baseline: %w", err)
		}
		lastErr = err
	}
	return nil, lastErr
}
