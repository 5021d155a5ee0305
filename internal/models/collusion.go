package models

import "time"

// AlignedSpan is a run of identical tokens found by aligning two submissions.
type AlignedSpan struct {
	AStart int    `json:"a_start"`
	AEnd   int    `json:"a_end"`
	BStart int    `json:"b_start"`
	BEnd   int    `json:"b_end"`
	Text   string `json:"text"`
}

type PairEvidence struct {
	A                    string        `json:"a"`
	B                    string        `json:"b"`
	EmbeddingSimilarity  float64       `json:"embedding_similarity"`
	StructuralSimilarity float64       `json:"structural_similarity"`
	LexicalSimilarity    float64       `json:"lexical_similarity"`
	Similarity           float64       `json:"similarity"`
	TimingGapSeconds     float64       `json:"timing_gap_seconds"`
	Spans                []AlignedSpan `json:"spans,omitempty"`
}

type CollusionCluster struct {
	ID             string         `json:"id"`
	AssignmentID   string         `json:"assignment_id"`
	RunID          string         `json:"run_id"`
	Members        []string       `json:"members"`
	Pairs          []PairEvidence `json:"pairs"`
	MeanSimilarity float64        `json:"mean_similarity"`
	Score          float64        `json:"score"`
	Confidence     float64        `json:"confidence"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	Degraded       bool           `json:"degraded"`
}

// CollusionRun is one analysis of an assignment cohort. A newer run supersedes it.
type CollusionRun struct {
	ID              string             `json:"id" db:"id"`
	AssignmentID    string             `json:"assignment_id" db:"assignment_id"`
	SubmissionCount int                `json:"submission_count" db:"submission_count"`
	Degraded        bool               `json:"degraded" db:"degraded"`
	Clusters        []CollusionCluster `json:"clusters" db:"clusters"`
	StartedAt       time.Time          `json:"started_at" db:"started_at"`
	CompletedAt     time.Time          `json:"completed_at" db:"completed_at"`
}
