package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
)

type collusionRepository struct {
	*PostgresRepository
}

func NewCollusionRepository(db *sql.DB, logger zerolog.Logger) CollusionRepository {
	return &collusionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *collusionRepository) SaveRun(ctx context.Context, run *models.CollusionRun, results []models.DetectorResult) error {
	clusters, err := json.Marshal(run.Clusters)
	if err != nil {
		return fmt.Errorf("failed to marshal clusters: %w", err)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO collusion_runs (id, assignment_id, submission_count, degraded, clusters, started_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, run.ID, run.AssignmentID, run.SubmissionCount, run.Degraded, clusters, run.StartedAt, run.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to insert collusion run: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM collusion_results WHERE assignment_id = $1`, run.AssignmentID); err != nil {
			return fmt.Errorf("failed to clear superseded results: %w", err)
		}

		for _, res := range results {
			payload, err := json.Marshal(res)
			if err != nil {
				return fmt.Errorf("failed to marshal collusion result: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO collusion_results (submission_id, assignment_id, run_id, result)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (submission_id) DO UPDATE
				SET assignment_id = EXCLUDED.assignment_id, run_id = EXCLUDED.run_id, result = EXCLUDED.result
			`, res.SubjectID, run.AssignmentID, run.ID, payload); err != nil {
				return fmt.Errorf("failed to insert collusion result: %w", err)
			}
		}
		return nil
	})
}

func (r *collusionRepository) GetLatestRun(ctx context.Context, assignmentID string) (*models.CollusionRun, error) {
	query := `
		SELECT id, assignment_id, submission_count, degraded, clusters, started_at, completed_at
		FROM collusion_runs
		WHERE assignment_id = $1
		ORDER BY completed_at DESC
		LIMIT 1
	`

	run := &models.CollusionRun{}
	var clusters []byte
	err := r.db.QueryRowContext(ctx, query, assignmentID).Scan(
		&run.ID,
		&run.AssignmentID,
		&run.SubmissionCount,
		&run.Degraded,
		&clusters,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no collusion run for assignment %s", models.ErrNotFound, assignmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collusion run: %w", err)
	}

	if err := json.Unmarshal(clusters, &run.Clusters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal clusters: %w", err)
	}
	return run, nil
}

func (r *collusionRepository) GetCurrentResult(ctx context.Context, submissionID string) (*models.DetectorResult, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT result FROM collusion_results WHERE submission_id = $1`, submissionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collusion result: %w", err)
	}

	var res models.DetectorResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collusion result: %w", err)
	}
	return &res, nil
}
