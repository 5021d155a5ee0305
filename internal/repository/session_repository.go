package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
)

// Sessions are stored whole as jsonb; state is mirrored into its own column for queries.
type sessionRepository struct {
	*PostgresRepository
}

func NewSessionRepository(db *sql.DB, logger zerolog.Logger) SessionRepository {
	return &sessionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *sessionRepository) Create(ctx context.Context, s *models.ProctoringSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO proctoring_sessions (id, student_id, exam_id, state, data)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.StudentID, s.ExamID, s.State, data)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: session %s already exists", models.ErrConflict, s.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id string) (*models.ProctoringSession, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM proctoring_sessions WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s := &models.ProctoringSession{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if s.FlagsByType == nil {
		s.FlagsByType = make(map[models.EventType]int)
	}
	return s, nil
}

func (r *sessionRepository) Update(ctx context.Context, s *models.ProctoringSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE proctoring_sessions SET state = $2, data = $3, updated_at = NOW() WHERE id = $1
	`, s.ID, s.State, data)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, s.ID)
	}
	return nil
}
