package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
)

type baselineRepository struct {
	*PostgresRepository
}

func NewBaselineRepository(db *sql.DB, logger zerolog.Logger) BaselineRepository {
	return &baselineRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

// baselineStats is the jsonb payload of a baseline row.
type baselineStats struct {
	VocabularyComplexity models.RunningStat `json:"vocabulary_complexity"`
	Burstiness           models.RunningStat `json:"burstiness"`
	Perplexity           models.RunningStat `json:"perplexity"`
}

const baselineColumns = `author_id, version, sample_count, stats, source_submission_id, created_at`

func (r *baselineRepository) GetLatest(ctx context.Context, authorID string) (*models.StyleBaseline, error) {
	query := `SELECT ` + baselineColumns + ` FROM style_baselines
		WHERE author_id = $1 ORDER BY version DESC LIMIT 1`

	b, err := scanBaseline(r.db.QueryRowContext(ctx, query, authorID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}
	return b, nil
}

func (r *baselineRepository) Append(ctx context.Context, b *models.StyleBaseline) error {
	stats, err := json.Marshal(baselineStats{
		VocabularyComplexity: b.VocabularyComplexity,
		Burstiness:           b.Burstiness,
		Perplexity:           b.Perplexity,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal baseline stats: %w", err)
	}

	// The insert only succeeds when version follows the latest stored one.
	query := `
		INSERT INTO style_baselines (` + baselineColumns + `)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE $2 = COALESCE((SELECT MAX(version) FROM style_baselines WHERE author_id = $1), 0) + 1
	`
	res, err := r.db.ExecContext(ctx, query,
		b.AuthorID,
		b.Version,
		b.SampleCount,
		stats,
		b.SourceSubmissionID,
		b.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: baseline version %d for author %s exists", models.ErrConflict, b.Version, b.AuthorID)
	}
	if err != nil {
		return fmt.Errorf("failed to append baseline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: baseline version %d for author %s is not next", models.ErrConflict, b.Version, b.AuthorID)
	}
	return nil
}

func (r *baselineRepository) GetHistory(ctx context.Context, authorID string) ([]models.StyleBaseline, error) {
	query := `SELECT ` + baselineColumns + ` FROM style_baselines WHERE author_id = $1 ORDER BY version`

	rows, err := r.db.QueryContext(ctx, query, authorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines: %w", err)
	}
	defer rows.Close()

	var history []models.StyleBaseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		history = append(history, *b)
	}
	return history, rows.Err()
}

func scanBaseline(row rowScanner) (*models.StyleBaseline, error) {
	b := &models.StyleBaseline{}
	var raw []byte
	if err := row.Scan(
		&b.AuthorID,
		&b.Version,
		&b.SampleCount,
		&raw,
		&b.SourceSubmissionID,
		&b.CreatedAt,
	); err != nil {
		return nil, err
	}

	var stats baselineStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal baseline stats: %w", err)
	}
	b.VocabularyComplexity = stats.VocabularyComplexity
	b.Burstiness = stats.Burstiness
	b.Perplexity = stats.Perplexity
	return b, nil
}
