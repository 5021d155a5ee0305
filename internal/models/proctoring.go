package models

import (
	"fmt"
	"strings"
	"time"
)

type SessionState string

const (
	SessionInitiated  SessionState = "INITIATED"
	SessionVerified   SessionState = "VERIFIED"
	SessionInProgress SessionState = "IN_PROGRESS"
	SessionCompleted  SessionState = "COMPLETED"
	SessionTerminated SessionState = "TERMINATED"
)

func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionTerminated
}

type EventType string

const (
	EventIdentityVerification EventType = "identity_verification"
	EventEnvironmentScan      EventType = "environment_scan"
	EventGazeAway             EventType = "gaze_away"
	EventMultipleFaces        EventType = "multiple_faces"
	EventSecondaryDevice      EventType = "secondary_device"
	EventAudioAnomaly         EventType = "audio_anomaly"
	EventSessionCompleted     EventType = "session_completed"
)

// Behavioral reports whether the event type is a periodic behavioral flag.
func (t EventType) Behavioral() bool {
	switch t {
	case EventGazeAway, EventMultipleFaces, EventSecondaryDevice, EventAudioAnomaly:
		return true
	}
	return false
}

func (t EventType) Valid() bool {
	switch t {
	case EventIdentityVerification, EventEnvironmentScan, EventSessionCompleted:
		return true
	}
	return t.Behavioral()
}

type ProctoringEvent struct {
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Severity  float64   `json:"severity,omitempty"`
	Passed    *bool     `json:"passed,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

func (e *ProctoringEvent) Validate() error {
	switch {
	case !e.Type.Valid():
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, e.Type)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: event timestamp is required", ErrInvalidInput)
	case e.Severity < 0:
		return fmt.Errorf("%w: event severity must not be negative", ErrInvalidInput)
	case (e.Type == EventIdentityVerification || e.Type == EventEnvironmentScan) && e.Passed == nil:
		return fmt.Errorf("%w: %s event requires a result", ErrInvalidInput, e.Type)
	}
	return nil
}

type ProctoringSession struct {
	ID                 string            `json:"id" db:"id"`
	StudentID          string            `json:"student_id" db:"student_id"`
	ExamID             string            `json:"exam_id" db:"exam_id"`
	State              SessionState      `json:"state" db:"state"`
	Events             []ProctoringEvent `json:"events" db:"events"`
	FlagCount          int               `json:"flag_count" db:"flag_count"`
	CumulativeSeverity float64           `json:"cumulative_severity" db:"cumulative_severity"`
	FlagsByType        map[EventType]int `json:"flags_by_type" db:"flags_by_type"`
	IntegrityScore     float64           `json:"integrity_score" db:"integrity_score"`
	AutoFlagged        bool              `json:"auto_flagged" db:"auto_flagged"`
	CaseID             *string           `json:"case_id,omitempty" db:"case_id"`
	StartedAt          time.Time         `json:"started_at" db:"started_at"`
	LastEventAt        *time.Time        `json:"last_event_at,omitempty" db:"last_event_at"`
	EndedAt            *time.Time        `json:"ended_at,omitempty" db:"ended_at"`
}

func NewProctoringSession(id, studentID, examID string, startedAt time.Time) (*ProctoringSession, error) {
	if strings.TrimSpace(studentID) == "" || strings.TrimSpace(examID) == "" {
		return nil, fmt.Errorf("%w: student id and exam id are required", ErrInvalidInput)
	}
	return &ProctoringSession{
		ID:             id,
		StudentID:      studentID,
		ExamID:         examID,
		State:          SessionInitiated,
		FlagsByType:    make(map[EventType]int),
		IntegrityScore: 1,
		StartedAt:      startedAt,
	}, nil
}

// Clone returns a deep copy so callers can hand out snapshots.
func (s *ProctoringSession) Clone() *ProctoringSession {
	c := *s
	c.Events = append([]ProctoringEvent(nil), s.Events...)
	c.FlagsByType = make(map[EventType]int, len(s.FlagsByType))
	for k, v := range s.FlagsByType {
		c.FlagsByType[k] = v
	}
	if s.CaseID != nil {
		id := *s.CaseID
		c.CaseID = &id
	}
	if s.LastEventAt != nil {
		t := *s.LastEventAt
		c.LastEventAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
