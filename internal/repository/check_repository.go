package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
)

type checkRepository struct {
	*PostgresRepository
}

func NewCheckRepository(db *sql.DB, logger zerolog.Logger) CheckRepository {
	return &checkRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const checkColumns = `id, submission_id, author_id, assignment_id, status, results, verdict,
	case_id, error, created_at, started_at, completed_at`

func (r *checkRepository) Create(ctx context.Context, c *models.CheckRecord) error {
	results, verdict, err := marshalCheck(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO checks (` + checkColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		c.ID,
		c.SubmissionID,
		c.AuthorID,
		c.AssignmentID,
		c.Status,
		results,
		verdict,
		c.CaseID,
		c.Error,
		c.CreatedAt,
		c.StartedAt,
		c.CompletedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: check %s already exists", models.ErrConflict, c.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create check: %w", err)
	}
	return nil
}

func (r *checkRepository) GetByID(ctx context.Context, id string) (*models.CheckRecord, error) {
	query := `SELECT ` + checkColumns + ` FROM checks WHERE id = $1`

	c, err := scanCheck(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: check %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get check: %w", err)
	}
	return c, nil
}

func (r *checkRepository) GetLatestBySubmission(ctx context.Context, submissionID string) (*models.CheckRecord, error) {
	query := `SELECT ` + checkColumns + ` FROM checks
		WHERE submission_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`

	c, err := scanCheck(r.db.QueryRowContext(ctx, query, submissionID, models.CheckStatusCompleted))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no completed check for submission %s", models.ErrNotFound, submissionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get check: %w", err)
	}
	return c, nil
}

func (r *checkRepository) Update(ctx context.Context, c *models.CheckRecord) error {
	results, verdict, err := marshalCheck(c)
	if err != nil {
		return err
	}

	query := `
		UPDATE checks
		SET status = $2, results = $3, verdict = $4, case_id = $5, error = $6,
			started_at = $7, completed_at = $8
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		c.ID,
		c.Status,
		results,
		verdict,
		c.CaseID,
		c.Error,
		c.StartedAt,
		c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update check: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: check %s", models.ErrNotFound, c.ID)
	}
	return nil
}

func (r *checkRepository) GetByStatus(ctx context.Context, status models.CheckStatus, limit int) ([]models.CheckRecord, error) {
	query := `SELECT ` + checkColumns + ` FROM checks WHERE status = $1 ORDER BY created_at LIMIT $2`
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query checks: %w", err)
	}
	defer rows.Close()

	var checks []models.CheckRecord
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		checks = append(checks, *c)
	}
	return checks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func marshalCheck(c *models.CheckRecord) ([]byte, []byte, error) {
	results, err := json.Marshal(c.Results)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	var verdict []byte
	if c.Verdict != nil {
		if verdict, err = json.Marshal(c.Verdict); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal verdict: %w", err)
		}
	}
	return results, verdict, nil
}

func scanCheck(row rowScanner) (*models.CheckRecord, error) {
	c := &models.CheckRecord{}
	var results, verdict []byte
	var caseID, errText sql.NullString

	if err := row.Scan(
		&c.ID,
		&c.SubmissionID,
		&c.AuthorID,
		&c.AssignmentID,
		&c.Status,
		&results,
		&verdict,
		&caseID,
		&errText,
		&c.CreatedAt,
		&c.StartedAt,
		&c.CompletedAt,
	); err != nil {
		return nil, err
	}

	if len(results) > 0 {
		if err := json.Unmarshal(results, &c.Results); err != nil {
			return nil, fmt.Errorf("failed to unmarshal results: %w", err)
		}
	}
	if len(verdict) > 0 {
		c.Verdict = &models.IntegrityVerdict{}
		if err := json.Unmarshal(verdict, c.Verdict); err != nil {
			return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
		}
	}
	if caseID.Valid {
		c.CaseID = &caseID.String
	}
	c.Error = errText.String
	return c, nil
}
