package models

// DetectorContribution records how much one result influenced a verdict.
type DetectorContribution struct {
	ResultID        string       `json:"result_id"`
	Kind            DetectorKind `json:"kind"`
	Score           float64      `json:"score"`
	Confidence      float64      `json:"confidence"`
	RiskLevel       RiskLevel    `json:"risk_level"`
	Degraded        bool         `json:"degraded"`
	DegradedReason  string       `json:"degraded_reason,omitempty"`
	EffectiveWeight float64      `json:"effective_weight"`
}

// IntegrityVerdict is the fused output for one submission or session.
// It carries no wall-clock fields: identical inputs yield identical verdicts.
type IntegrityVerdict struct {
	ID                  string                 `json:"id"`
	SubjectID           string                 `json:"subject_id"`
	SubjectKind         SubjectKind            `json:"subject_kind"`
	AggregateScore      float64                `json:"aggregate_score"`
	RiskLevel           RiskLevel              `json:"risk_level"`
	Flagged             bool                   `json:"flagged"`
	RequiresHumanReview bool                   `json:"requires_human_review"`
	ReviewReasons       []string               `json:"review_reasons,omitempty"`
	Confidence          float64                `json:"confidence"`
	Degraded            bool                   `json:"degraded"`
	Contributions       []DetectorContribution `json:"contributions"`
	ResultIDs           []string               `json:"result_ids"`
}

const (
	ReviewLowConfidence = "low_confidence"
	ReviewDisagreement  = "detector_disagreement"
)
