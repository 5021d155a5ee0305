package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
)

type evidenceRepository struct {
	*PostgresRepository
}

// NewEvidenceRepository stores evidence packages in postgres.
func NewEvidenceRepository(db *sql.DB, logger zerolog.Logger) EvidenceStore {
	return &evidenceRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *evidenceRepository) Put(ctx context.Context, pkg *models.EvidencePackage) (string, error) {
	id, err := EvidenceDigest(pkg)
	if err != nil {
		return "", fmt.Errorf("failed to digest evidence: %w", err)
	}

	stored := *pkg
	stored.ID = id
	content, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to marshal evidence: %w", err)
	}

	// Existing content is never overwritten.
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO evidence_packages (id, subject_id, verdict_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, id, pkg.SubjectID, pkg.VerdictID, content, pkg.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to store evidence: %w", err)
	}
	return id, nil
}

func (r *evidenceRepository) Get(ctx context.Context, id string) (*models.EvidencePackage, error) {
	var content []byte
	err := r.db.QueryRowContext(ctx, `SELECT content FROM evidence_packages WHERE id = $1`, id).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: evidence package %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}

	pkg := &models.EvidencePackage{}
	if err := json.Unmarshal(content, pkg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	return pkg, nil
}
