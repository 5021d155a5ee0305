package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
)

type submissionRepository struct {
	*PostgresRepository
}

func NewSubmissionRepository(db *sql.DB, logger zerolog.Logger) SubmissionRepository {
	return &submissionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const submissionColumns = `id, author_id, assignment_id, content, content_hash, submitted_at`

func (r *submissionRepository) Save(ctx context.Context, s *models.Submission) error {
	query := `
		INSERT INTO submissions (` + submissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.AuthorID,
		s.AssignmentID,
		s.Content,
		s.ContentHash,
		s.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`

	s := &models.Submission{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID,
		&s.AuthorID,
		&s.AssignmentID,
		&s.Content,
		&s.ContentHash,
		&s.SubmittedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: submission %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return s, nil
}

func (r *submissionRepository) GetByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE assignment_id = $1 ORDER BY created_at`
	return r.query(ctx, query, assignmentID)
}

func (r *submissionRepository) GetRecent(ctx context.Context, limit int) ([]models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions ORDER BY created_at DESC LIMIT $1`
	if limit <= 0 {
		limit = 1000
	}
	return r.query(ctx, query, limit)
}

func (r *submissionRepository) query(ctx context.Context, query string, args ...interface{}) ([]models.Submission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var submissions []models.Submission
	for rows.Next() {
		var s models.Submission
		if err := rows.Scan(
			&s.ID,
			&s.AuthorID,
			&s.AssignmentID,
			&s.Content,
			&s.ContentHash,
			&s.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		submissions = append(submissions, s)
	}
	return submissions, rows.Err()
}
