package models

import "time"

// Data Transfer Objects

type SubmitCheckRequest struct {
	SubmissionID string     `json:"submission_id"`
	AuthorID     string     `json:"author_id"`
	AssignmentID string     `json:"assignment_id"`
	Content      string     `json:"content"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
}

type SubmitCheckResponse struct {
	CheckID   string      `json:"check_id"`
	Status    CheckStatus `json:"status"`
	StatusURL string      `json:"status_url"`
}

type StartSessionRequest struct {
	StudentID string `json:"student_id"`
	ExamID    string `json:"exam_id"`
}

type IngestEventsRequest struct {
	Events []ProctoringEvent `json:"events"`
}

// Case commands carry the version the caller last saw; zero skips the check.

type ActorRequest struct {
	Actor           string `json:"actor"`
	Rationale       string `json:"rationale"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type AssignReviewerRequest struct {
	Actor           string `json:"actor"`
	ReviewerID      string `json:"reviewer_id"`
	Rationale       string `json:"rationale"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type AppealRequest struct {
	Actor           string `json:"actor"`
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type GrantAppealRequest struct {
	Actor            string   `json:"actor"`
	Rationale        string   `json:"rationale"`
	RestorationSteps []string `json:"restoration_steps,omitempty"`
	ExpectedVersion  int64    `json:"expected_version,omitempty"`
}

type RestorationPlanRequest struct {
	Actor           string   `json:"actor"`
	Steps           []string `json:"steps"`
	ExpectedVersion int64    `json:"expected_version,omitempty"`
}

// AttachFindingsRequest links the verdict of a completed check to a case.
type AttachFindingsRequest struct {
	Actor           string `json:"actor"`
	CheckID         string `json:"check_id"`
	Rationale       string `json:"rationale"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type CaseDetailResponse struct {
	Case     *ViolationCase   `json:"case"`
	Evidence *EvidencePackage `json:"evidence,omitempty"`
	Audit    []AuditEntry     `json:"audit"`
}

type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Storage   bool      `json:"storage"`
	Queue     *bool     `json:"queue,omitempty"`
	Evidence  bool      `json:"evidence"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}
