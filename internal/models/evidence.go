package models

import "time"

// EvidenceSummary tells a reviewer which detector contributed and how reliably.
type EvidenceSummary struct {
	Kind           DetectorKind `json:"kind"`
	ResultID       string       `json:"result_id"`
	Score          float64      `json:"score"`
	Confidence     float64      `json:"confidence"`
	RiskLevel      RiskLevel    `json:"risk_level"`
	Degraded       bool         `json:"degraded"`
	DegradedReason string       `json:"degraded_reason,omitempty"`
}

// EvidencePackage is content-addressed: ID is the digest of its content.
// CreatedAt is excluded from the digest.
type EvidencePackage struct {
	ID        string            `json:"id"`
	SubjectID string            `json:"subject_id"`
	VerdictID string            `json:"verdict_id"`
	Verdict   *IntegrityVerdict `json:"verdict,omitempty"`
	Results   []DetectorResult  `json:"results"`
	Summary   []EvidenceSummary `json:"summary"`
	CreatedAt time.Time         `json:"created_at"`
}
