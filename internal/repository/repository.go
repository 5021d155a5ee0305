package repository

import (
	"context"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
)

// The interfaces below are the persistence port. Services depend only on them;
// postgres, in-memory and MinIO adapters implement them.

type SubmissionRepository interface {
	// Save stores a submission; saving the same id twice is a no-op.
	Save(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	GetByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error)
	GetRecent(ctx context.Context, limit int) ([]models.Submission, error)
}

type CheckRepository interface {
	Create(ctx context.Context, check *models.CheckRecord) error
	GetByID(ctx context.Context, id string) (*models.CheckRecord, error)
	// GetLatestBySubmission returns the most recent completed check of a submission.
	GetLatestBySubmission(ctx context.Context, submissionID string) (*models.CheckRecord, error)
	Update(ctx context.Context, check *models.CheckRecord) error
	GetByStatus(ctx context.Context, status models.CheckStatus, limit int) ([]models.CheckRecord, error)
}

type BaselineRepository interface {
	// GetLatest returns nil without error when the author has no baseline.
	GetLatest(ctx context.Context, authorID string) (*models.StyleBaseline, error)
	// Append stores the next version. It fails with ErrConflict unless
	// baseline.Version is exactly one past the latest stored version.
	Append(ctx context.Context, baseline *models.StyleBaseline) error
	GetHistory(ctx context.Context, authorID string) ([]models.StyleBaseline, error)
}

type CollusionRepository interface {
	// SaveRun stores a run and makes its per-submission results current,
	// replacing those of the previous run for the assignment.
	SaveRun(ctx context.Context, run *models.CollusionRun, results []models.DetectorResult) error
	GetLatestRun(ctx context.Context, assignmentID string) (*models.CollusionRun, error)
	GetCurrentResult(ctx context.Context, submissionID string) (*models.DetectorResult, error)
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.ProctoringSession) error
	GetByID(ctx context.Context, id string) (*models.ProctoringSession, error)
	Update(ctx context.Context, session *models.ProctoringSession) error
}

type CaseRepository interface {
	// Create stores a new case with its opening audit entry. A second case
	// for the same subject fails with ErrDuplicateCase.
	Create(ctx context.Context, c *models.ViolationCase, entry models.AuditEntry) error
	GetByID(ctx context.Context, id string) (*models.ViolationCase, error)
	GetBySubject(ctx context.Context, subjectID string) (*models.ViolationCase, error)
	// Update replaces the case if its stored version equals expectedVersion and
	// appends entry in the same step. A version mismatch fails with ErrConflict.
	Update(ctx context.Context, c *models.ViolationCase, expectedVersion int64, entry models.AuditEntry) error
	GetAudit(ctx context.Context, caseID string) ([]models.AuditEntry, error)
	GetExpiredAppealWindows(ctx context.Context, now time.Time, limit int) ([]models.ViolationCase, error)
	GetByState(ctx context.Context, state models.CaseState, limit, offset int) ([]models.ViolationCase, error)
}

type EvidenceStore interface {
	// Put stores a package under its content digest and returns that id.
	// Storing identical content again returns the same id and writes nothing.
	Put(ctx context.Context, pkg *models.EvidencePackage) (string, error)
	Get(ctx context.Context, id string) (*models.EvidencePackage, error)
}

// Pinger is implemented by adapters that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
