package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
)

// In-memory adapters back tests and the "memory" database driver.
// They copy on the way in and out so callers never share state with the store.

type memorySubmissionRepository struct {
	mu    sync.RWMutex
	items map[string]models.Submission
	order []string
}

func NewMemorySubmissionRepository() SubmissionRepository {
	return &memorySubmissionRepository{items: make(map[string]models.Submission)}
}

func (r *memorySubmissionRepository) Save(ctx context.Context, submission *models.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[submission.ID]; ok {
		return nil
	}
	r.items[submission.ID] = *submission
	r.order = append(r.order, submission.ID)
	return nil
}

func (r *memorySubmissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: submission %s", models.ErrNotFound, id)
	}
	return &s, nil
}

func (r *memorySubmissionRepository) GetByAssignment(ctx context.Context, assignmentID string) ([]models.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Submission
	for _, id := range r.order {
		if s := r.items[id]; s.AssignmentID == assignmentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memorySubmissionRepository) GetRecent(ctx context.Context, limit int) ([]models.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Submission
	for i := len(r.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, r.items[r.order[i]])
	}
	return out, nil
}

type memoryCheckRepository struct {
	mu    sync.RWMutex
	items map[string]models.CheckRecord
}

func NewMemoryCheckRepository() CheckRepository {
	return &memoryCheckRepository{items: make(map[string]models.CheckRecord)}
}

func copyCheck(c *models.CheckRecord) models.CheckRecord {
	out := *c
	out.Results = append([]models.DetectorResult(nil), c.Results...)
	if c.Verdict != nil {
		v := *c.Verdict
		out.Verdict = &v
	}
	return out
}

func (r *memoryCheckRepository) Create(ctx context.Context, check *models.CheckRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[check.ID]; ok {
		return fmt.Errorf("%w: check %s already exists", models.ErrConflict, check.ID)
	}
	r.items[check.ID] = copyCheck(check)
	return nil
}

func (r *memoryCheckRepository) GetByID(ctx context.Context, id string) (*models.CheckRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: check %s", models.ErrNotFound, id)
	}
	out := copyCheck(&c)
	return &out, nil
}

func (r *memoryCheckRepository) GetLatestBySubmission(ctx context.Context, submissionID string) (*models.CheckRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *models.CheckRecord
	for _, c := range r.items {
		if c.SubmissionID != submissionID || c.Status != models.CheckStatusCompleted {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			cp := copyCheck(&c)
			latest = &cp
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no completed check for submission %s", models.ErrNotFound, submissionID)
	}
	return latest, nil
}

func (r *memoryCheckRepository) Update(ctx context.Context, check *models.CheckRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[check.ID]; !ok {
		return fmt.Errorf("%w: check %s", models.ErrNotFound, check.ID)
	}
	r.items[check.ID] = copyCheck(check)
	return nil
}

func (r *memoryCheckRepository) GetByStatus(ctx context.Context, status models.CheckStatus, limit int) ([]models.CheckRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.CheckRecord
	for _, c := range r.items {
		if c.Status == status {
			out = append(out, copyCheck(&c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryBaselineRepository struct {
	mu       sync.RWMutex
	versions map[string][]models.StyleBaseline
}

func NewMemoryBaselineRepository() BaselineRepository {
	return &memoryBaselineRepository{versions: make(map[string][]models.StyleBaseline)}
}

func (r *memoryBaselineRepository) GetLatest(ctx context.Context, authorID string) (*models.StyleBaseline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.versions[authorID]
	if len(history) == 0 {
		return nil, nil
	}
	b := history[len(history)-1]
	return &b, nil
}

func (r *memoryBaselineRepository) Append(ctx context.Context, baseline *models.StyleBaseline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.versions[baseline.AuthorID]
	if baseline.Version != len(history)+1 {
		return fmt.Errorf("%w: baseline version %d for author %s, expected %d",
			models.ErrConflict, baseline.Version, baseline.AuthorID, len(history)+1)
	}
	r.versions[baseline.AuthorID] = append(history, *baseline)
	return nil
}

func (r *memoryBaselineRepository) GetHistory(ctx context.Context, authorID string) ([]models.StyleBaseline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.StyleBaseline(nil), r.versions[authorID]...), nil
}

type memoryCollusionRepository struct {
	mu      sync.RWMutex
	runs    map[string][]models.CollusionRun
	current map[string]models.DetectorResult
	members map[string][]string
}

func NewMemoryCollusionRepository() CollusionRepository {
	return &memoryCollusionRepository{
		runs:    make(map[string][]models.CollusionRun),
		current: make(map[string]models.DetectorResult),
		members: make(map[string][]string),
	}
}

func (r *memoryCollusionRepository) SaveRun(ctx context.Context, run *models.CollusionRun, results []models.DetectorResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.members[run.AssignmentID] {
		delete(r.current, id)
	}
	ids := make([]string, 0, len(results))
	for _, res := range results {
		r.current[res.SubjectID] = res
		ids = append(ids, res.SubjectID)
	}
	r.members[run.AssignmentID] = ids
	r.runs[run.AssignmentID] = append(r.runs[run.AssignmentID], *run)
	return nil
}

func (r *memoryCollusionRepository) GetLatestRun(ctx context.Context, assignmentID string) (*models.CollusionRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runs := r.runs[assignmentID]
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: no collusion run for assignment %s", models.ErrNotFound, assignmentID)
	}
	run := runs[len(runs)-1]
	return &run, nil
}

func (r *memoryCollusionRepository) GetCurrentResult(ctx context.Context, submissionID string) (*models.DetectorResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.current[submissionID]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

type memorySessionRepository struct {
	mu    sync.RWMutex
	items map[string]*models.ProctoringSession
}

func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepository{items: make(map[string]*models.ProctoringSession)}
}

func (r *memorySessionRepository) Create(ctx context.Context, session *models.ProctoringSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[session.ID]; ok {
		return fmt.Errorf("%w: session %s already exists", models.ErrConflict, session.ID)
	}
	r.items[session.ID] = session.Clone()
	return nil
}

func (r *memorySessionRepository) GetByID(ctx context.Context, id string) (*models.ProctoringSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (r *memorySessionRepository) Update(ctx context.Context, session *models.ProctoringSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[session.ID]; !ok {
		return fmt.Errorf("%w: session %s", models.ErrNotFound, session.ID)
	}
	r.items[session.ID] = session.Clone()
	return nil
}

type memoryCaseRepository struct {
	mu        sync.RWMutex
	cases     map[string]*models.ViolationCase
	bySubject map[string]string
	audit     map[string][]models.AuditEntry
}

func NewMemoryCaseRepository() CaseRepository {
	return &memoryCaseRepository{
		cases:     make(map[string]*models.ViolationCase),
		bySubject: make(map[string]string),
		audit:     make(map[string][]models.AuditEntry),
	}
}

func (r *memoryCaseRepository) Create(ctx context.Context, c *models.ViolationCase, entry models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySubject[c.SubjectID]; ok {
		return models.ErrDuplicateCase
	}
	if _, ok := r.cases[c.ID]; ok {
		return fmt.Errorf("%w: case %s already exists", models.ErrConflict, c.ID)
	}
	r.cases[c.ID] = c.Clone()
	r.bySubject[c.SubjectID] = c.ID
	r.audit[c.ID] = append(r.audit[c.ID], entry)
	return nil
}

func (r *memoryCaseRepository) GetByID(ctx context.Context, id string) (*models.ViolationCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: case %s", models.ErrNotFound, id)
	}
	return c.Clone(), nil
}

func (r *memoryCaseRepository) GetBySubject(ctx context.Context, subjectID string) (*models.ViolationCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySubject[subjectID]
	if !ok {
		return nil, fmt.Errorf("%w: no case for subject %s", models.ErrNotFound, subjectID)
	}
	return r.cases[id].Clone(), nil
}

func (r *memoryCaseRepository) Update(ctx context.Context, c *models.ViolationCase, expectedVersion int64, entry models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.cases[c.ID]
	if !ok {
		return fmt.Errorf("%w: case %s", models.ErrNotFound, c.ID)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: case %s is at version %d, expected %d", models.ErrConflict, c.ID, stored.Version, expectedVersion)
	}
	r.cases[c.ID] = c.Clone()
	r.audit[c.ID] = append(r.audit[c.ID], entry)
	return nil
}

func (r *memoryCaseRepository) GetAudit(ctx context.Context, caseID string) ([]models.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.cases[caseID]; !ok {
		return nil, fmt.Errorf("%w: case %s", models.ErrNotFound, caseID)
	}
	return append([]models.AuditEntry(nil), r.audit[caseID]...), nil
}

func (r *memoryCaseRepository) GetExpiredAppealWindows(ctx context.Context, now time.Time, limit int) ([]models.ViolationCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.ViolationCase
	for _, c := range r.cases {
		if c.State == models.CaseResolvedSustained && c.AppealDeadline != nil && now.After(*c.AppealDeadline) {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryCaseRepository) GetByState(ctx context.Context, state models.CaseState, limit, offset int) ([]models.ViolationCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.ViolationCase
	for _, c := range r.cases {
		if state == "" || c.State == state {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryEvidenceStore struct {
	mu       sync.RWMutex
	packages map[string]models.EvidencePackage
}

func NewMemoryEvidenceStore() EvidenceStore {
	return &memoryEvidenceStore{packages: make(map[string]models.EvidencePackage)}
}

func (s *memoryEvidenceStore) Put(ctx context.Context, pkg *models.EvidencePackage) (string, error) {
	id, err := EvidenceDigest(pkg)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packages[id]; ok {
		return id, nil
	}
	stored := *pkg
	stored.ID = id
	stored.Results = append([]models.DetectorResult(nil), pkg.Results...)
	stored.Summary = append([]models.EvidenceSummary(nil), pkg.Summary...)
	s.packages[id] = stored
	return id, nil
}

func (s *memoryEvidenceStore) Get(ctx context.Context, id string) (*models.EvidencePackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pkg, ok := s.packages[id]
	if !ok {
		return nil, fmt.Errorf("%w: evidence package %s", models.ErrNotFound, id)
	}
	return &pkg, nil
}
