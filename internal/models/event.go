package models

import (
	"time"
)

// Routing keys on the integrity exchange.
const (
	RoutingSubmissionReceived = "submission.received"
	RoutingVerdictProduced    = "verdict.produced"
	RoutingCaseOpened         = "case.opened"
	RoutingCaseTransitioned   = "case.transitioned"
)

type SubmissionReceivedEvent struct {
	CheckID      string `json:"check_id"`
	SubmissionID string `json:"submission_id"`
	AuthorID     string `json:"author_id"`
	AssignmentID string `json:"assignment_id"`
	Timestamp    int64  `json:"timestamp"`
}

type VerdictProducedEvent struct {
	CheckID             string      `json:"check_id,omitempty"`
	SubjectID           string      `json:"subject_id"`
	SubjectKind         SubjectKind `json:"subject_kind"`
	VerdictID           string      `json:"verdict_id"`
	AggregateScore      float64     `json:"aggregate_score"`
	RiskLevel           RiskLevel   `json:"risk_level"`
	Flagged             bool        `json:"flagged"`
	RequiresHumanReview bool        `json:"requires_human_review"`
	ProducedAt          time.Time   `json:"produced_at"`
}

type CaseOpenedEvent struct {
	CaseID            string      `json:"case_id"`
	SubjectID         string      `json:"subject_id"`
	SubjectKind       SubjectKind `json:"subject_kind"`
	VerdictID         string      `json:"verdict_id"`
	EvidencePackageID string      `json:"evidence_package_id"`
	OpenedAt          time.Time   `json:"opened_at"`
}

type CaseTransitionedEvent struct {
	CaseID    string     `json:"case_id"`
	Action    CaseAction `json:"action"`
	FromState CaseState  `json:"from_state"`
	ToState   CaseState  `json:"to_state"`
	Actor     string     `json:"actor"`
	At        time.Time  `json:"at"`
}
