package models

import (
	"fmt"
	"strings"
	"time"
)

// Submission is immutable once stored.
type Submission struct {
	ID           string    `json:"id" db:"id"`
	AuthorID     string    `json:"author_id" db:"author_id"`
	AssignmentID string    `json:"assignment_id" db:"assignment_id"`
	Content      string    `json:"content" db:"content"`
	ContentHash  string    `json:"content_hash" db:"content_hash"`
	SubmittedAt  time.Time `json:"submitted_at" db:"submitted_at"`
}

func (s *Submission) Validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: submission id is required", ErrInvalidInput)
	case strings.TrimSpace(s.AuthorID) == "":
		return fmt.Errorf("%w: author id is required", ErrInvalidInput)
	case strings.TrimSpace(s.AssignmentID) == "":
		return fmt.Errorf("%w: assignment id is required", ErrInvalidInput)
	case strings.TrimSpace(s.Content) == "":
		return fmt.Errorf("%w: submission content is empty", ErrInvalidInput)
	case s.SubmittedAt.IsZero():
		return fmt.Errorf("%w: submission timestamp is required", ErrInvalidInput)
	}
	return nil
}

type CheckStatus string

const (
	CheckStatusPending     CheckStatus = "pending"
	CheckStatusProcessing  CheckStatus = "processing"
	CheckStatusCompleted   CheckStatus = "completed"
	CheckStatusUnavailable CheckStatus = "unavailable"
	CheckStatusFailed      CheckStatus = "failed"
)

func (s CheckStatus) String() string {
	return string(s)
}

// CheckRecord tracks one integrity check of a submission.
type CheckRecord struct {
	ID           string            `json:"id" db:"id"`
	SubmissionID string            `json:"submission_id" db:"submission_id"`
	AuthorID     string            `json:"author_id" db:"author_id"`
	AssignmentID string            `json:"assignment_id" db:"assignment_id"`
	Status       CheckStatus       `json:"status" db:"status"`
	Results      []DetectorResult  `json:"results,omitempty" db:"results"`
	Verdict      *IntegrityVerdict `json:"verdict,omitempty" db:"verdict"`
	CaseID       *string           `json:"case_id,omitempty" db:"case_id"`
	Error        string            `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}
