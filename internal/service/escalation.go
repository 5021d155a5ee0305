package service

import (
	"context"
	"errors"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
)

// escalate opens a case for a flagged verdict. When the subject already has a
// case the findings are attached to it instead; a closed case is left alone.
func escalate(
	ctx context.Context,
	cases CaseManager,
	verdict *models.IntegrityVerdict,
	results []models.DetectorResult,
	logger zerolog.Logger,
) (*models.ViolationCase, error) {
	c, err := cases.OpenCase(ctx, verdict, results)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, models.ErrDuplicateCase) {
		return nil, err
	}

	existing, err := cases.GetCaseBySubject(ctx, verdict.SubjectID)
	if err != nil {
		return nil, err
	}
	if existing.State.Terminal() {
		logger.Info().
			Str("case_id", existing.ID).
			Str("subject_id", verdict.SubjectID).
			Str("state", string(existing.State)).
			Msg("Subject already has a resolved case, new findings not attached")
		return existing, nil
	}

	return cases.AttachFindings(ctx, CaseCommand{
		CaseID:    existing.ID,
		Actor:     systemActor,
		Rationale: "new detector findings for verdict " + verdict.ID,
	}, verdict, results)
}
