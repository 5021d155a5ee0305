package models

// TextSpan is a character range [Start, End) in the submitted text.
type TextSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ExternalMatch is one source reported by an external text-matching provider.
type ExternalMatch struct {
	SourceID   string     `json:"source_id"`
	Spans      []TextSpan `json:"spans"`
	Similarity float64    `json:"similarity"`
}

// AuthorshipClassification is the answer of an external AI-authorship provider.
type AuthorshipClassification struct {
	Likelihood float64 `json:"likelihood"`
	Confidence float64 `json:"confidence"`
}
