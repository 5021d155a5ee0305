package models

import "time"

type DetectorKind string

const (
	DetectorSimilarity DetectorKind = "similarity"
	DetectorStyle      DetectorKind = "style"
	DetectorCollusion  DetectorKind = "collusion"
	DetectorProctoring DetectorKind = "proctoring"
)

func (k DetectorKind) String() string {
	return string(k)
}

type SubjectKind string

const (
	SubjectSubmission SubjectKind = "submission"
	SubjectSession    SubjectKind = "session"
)

type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank orders risk levels; unknown values rank as none.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

func (r RiskLevel) String() string {
	return string(r)
}

func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Degradation reasons recorded on results.
const (
	DegradedProviderUnavailable = "provider_unavailable"
	DegradedTimeout             = "timeout"
	DegradedDetectorFailed      = "detector_failed"
	DegradedEmbeddingFallback   = "embedding_unavailable"
)

// DetectorResult is the uniform output of every detector. Exactly one of the
// kind-specific payloads is set, matching Kind.
type DetectorResult struct {
	ID             string        `json:"id"`
	SubjectID      string        `json:"subject_id"`
	SubjectKind    SubjectKind   `json:"subject_kind"`
	Kind           DetectorKind  `json:"kind"`
	Version        string        `json:"version"`
	Score          float64       `json:"score"`
	Confidence     float64       `json:"confidence"`
	RiskLevel      RiskLevel     `json:"risk_level"`
	EvidenceRefs   []EvidenceRef `json:"evidence_refs,omitempty"`
	Degraded       bool          `json:"degraded"`
	DegradedReason string        `json:"degraded_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`

	Similarity *SimilarityDetail `json:"similarity,omitempty"`
	Style      *StyleDetail      `json:"style,omitempty"`
	Collusion  *CollusionDetail  `json:"collusion,omitempty"`
	Proctoring *ProctoringDetail `json:"proctoring,omitempty"`
}

// HasSignal reports whether the result carries information usable for fusion.
// Placeholders for failed or timed-out detectors do not.
func (r DetectorResult) HasSignal() bool {
	return !(r.Degraded && r.Confidence == 0)
}

type EvidenceRef struct {
	Type       string  `json:"type"`
	SourceID   string  `json:"source_id,omitempty"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Similarity float64 `json:"similarity,omitempty"`
	Note       string  `json:"note,omitempty"`
}

type SpanSource string

const (
	SourceInternal SpanSource = "internal"
	SourceExternal SpanSource = "external"
)

// MatchedSpan is a contiguous token range of the submission attributed to one source.
type MatchedSpan struct {
	StartToken int        `json:"start_token"`
	EndToken   int        `json:"end_token"`
	StartByte  int        `json:"start_byte"`
	EndByte    int        `json:"end_byte"`
	Source     SpanSource `json:"source"`
	SourceID   string     `json:"source_id"`
	Similarity float64    `json:"similarity"`
}

type SimilarityDetail struct {
	TotalTokens      int           `json:"total_tokens"`
	InternalCoverage float64       `json:"internal_coverage"`
	ExternalCoverage float64       `json:"external_coverage"`
	ExternalChecked  bool          `json:"external_checked"`
	Spans            []MatchedSpan `json:"spans,omitempty"`
}

// StyleStats are the document-level statistics the style profiler extracts.
type StyleStats struct {
	VocabularyComplexity float64 `json:"vocabulary_complexity"`
	Burstiness           float64 `json:"burstiness"`
	Perplexity           float64 `json:"perplexity"`
}

type ParagraphFinding struct {
	Index                int     `json:"index"`
	VocabularyComplexity float64 `json:"vocabulary_complexity"`
	Burstiness           float64 `json:"burstiness"`
	Perplexity           float64 `json:"perplexity"`
	GlobalZ              float64 `json:"global_z"`
	BaselineZ            float64 `json:"baseline_z,omitempty"`
}

type StyleDetail struct {
	Stats              StyleStats         `json:"stats"`
	HeuristicScore     float64            `json:"heuristic_score"`
	DeviationScore     float64            `json:"deviation_score"`
	BaselineVersion    int                `json:"baseline_version,omitempty"`
	BaselineUsed       bool               `json:"baseline_used"`
	ProviderLikelihood *float64           `json:"provider_likelihood,omitempty"`
	FlaggedParagraphs  []ParagraphFinding `json:"flagged_paragraphs,omitempty"`
}

type CollusionDetail struct {
	RunID          string   `json:"run_id"`
	ClusterID      string   `json:"cluster_id"`
	ClusterSize    int      `json:"cluster_size"`
	MeanSimilarity float64  `json:"mean_similarity"`
	Peers          []string `json:"peers"`
}

type ProctoringDetail struct {
	SessionState       SessionState      `json:"session_state"`
	FlagCount          int               `json:"flag_count"`
	CumulativeSeverity float64           `json:"cumulative_severity"`
	FlagsByType        map[EventType]int `json:"flags_by_type,omitempty"`
	IntegrityScore     float64           `json:"integrity_score"`
	DurationSeconds    float64           `json:"duration_seconds"`
	AutoFlagged        bool              `json:"auto_flagged"`
}

// Clamp01 bounds v to [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
