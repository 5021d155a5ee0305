package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
)

type caseRepository struct {
	*PostgresRepository
}

func NewCaseRepository(db *sql.DB, logger zerolog.Logger) CaseRepository {
	return &caseRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *caseRepository) Create(ctx context.Context, c *models.ViolationCase, entry models.AuditEntry) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO violation_cases (id, subject_id, subject_kind, state, version, appeal_deadline, data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, c.ID, c.SubjectID, c.SubjectKind, c.State, c.Version, c.AppealDeadline, data, c.CreatedAt, c.UpdatedAt)
		if isUniqueViolation(err) {
			return models.ErrDuplicateCase
		}
		if err != nil {
			return fmt.Errorf("failed to insert case: %w", err)
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (r *caseRepository) GetByID(ctx context.Context, id string) (*models.ViolationCase, error) {
	return r.getOne(ctx, `SELECT data FROM violation_cases WHERE id = $1`, id)
}

func (r *caseRepository) GetBySubject(ctx context.Context, subjectID string) (*models.ViolationCase, error) {
	return r.getOne(ctx, `SELECT data FROM violation_cases WHERE subject_id = $1`, subjectID)
}

func (r *caseRepository) getOne(ctx context.Context, query, key string) (*models.ViolationCase, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, query, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: case %s", models.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return unmarshalCase(data)
}

func (r *caseRepository) Update(ctx context.Context, c *models.ViolationCase, expectedVersion int64, entry models.AuditEntry) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE violation_cases
			SET state = $2, version = $3, appeal_deadline = $4, data = $5, updated_at = $6
			WHERE id = $1 AND version = $7
		`, c.ID, c.State, c.Version, c.AppealDeadline, data, c.UpdatedAt, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update case: %w", err)
		}

		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM violation_cases WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check case: %w", err)
			}
			if !exists {
				return fmt.Errorf("%w: case %s", models.ErrNotFound, c.ID)
			}
			return fmt.Errorf("%w: case %s changed since version %d", models.ErrConflict, c.ID, expectedVersion)
		}

		return insertAudit(ctx, tx, entry)
	})
}

func (r *caseRepository) GetAudit(ctx context.Context, caseID string) ([]models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, case_id, actor, action, from_state, to_state, rationale, evidence_package_id, at
		FROM case_audit
		WHERE case_id = $1
		ORDER BY seq
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var rationale, packageID sql.NullString
		if err := rows.Scan(
			&e.ID,
			&e.CaseID,
			&e.Actor,
			&e.Action,
			&e.FromState,
			&e.ToState,
			&rationale,
			&packageID,
			&e.At,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Rationale = rationale.String
		e.EvidencePackageID = packageID.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		if _, err := r.GetByID(ctx, caseID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *caseRepository) GetExpiredAppealWindows(ctx context.Context, now time.Time, limit int) ([]models.ViolationCase, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `
		SELECT data FROM violation_cases
		WHERE state = $1 AND appeal_deadline < $2
		ORDER BY id
		LIMIT $3
	`, models.CaseResolvedSustained, now, limit)
}

func (r *caseRepository) GetByState(ctx context.Context, state models.CaseState, limit, offset int) ([]models.ViolationCase, error) {
	if limit <= 0 {
		limit = 50
	}
	if state == "" {
		return r.list(ctx, `
			SELECT data FROM violation_cases ORDER BY created_at LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	return r.list(ctx, `
		SELECT data FROM violation_cases WHERE state = $1 ORDER BY created_at LIMIT $2 OFFSET $3
	`, state, limit, offset)
}

func (r *caseRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.ViolationCase, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}
	defer rows.Close()

	var cases []models.ViolationCase
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		c, err := unmarshalCase(data)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

func insertAudit(ctx context.Context, tx *sql.Tx, e models.AuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO case_audit (id, case_id, actor, action, from_state, to_state, rationale, evidence_package_id, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.CaseID, e.Actor, e.Action, e.FromState, e.ToState, e.Rationale, e.EvidencePackageID, e.At)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func unmarshalCase(data []byte) (*models.ViolationCase, error) {
	c := &models.ViolationCase{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal case: %w", err)
	}
	return c, nil
}
