package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PlagiarismProvider is an external text-matching service.
type PlagiarismProvider interface {
	Match(ctx context.Context, text string) ([]models.ExternalMatch, error)
}

type SimilarityEngine interface {
	Analyze(ctx context.Context, submission models.Submission) (*models.DetectorResult, error)
	GetCheckerInfo() CheckerInfo
}

type CheckerInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Algorithm   string `json:"algorithm"`
	Description string `json:"description"`
}

type SimilarityConfig struct {
	WindowSize               int
	WindowStride             int
	MatchFloor               float64
	ExternalMinSimilarity    float64
	LowThreshold             float64
	HighThreshold            float64
	DegradedConfidenceFactor float64
	ProviderTimeout          time.Duration
	FullConfidenceTokens     int
	Version                  string
}

func DefaultSimilarityConfig() SimilarityConfig {
	return SimilarityConfig{
		WindowSize:               8,
		WindowStride:             4,
		MatchFloor:               0.85,
		ExternalMinSimilarity:    0.5,
		LowThreshold:             0.20,
		HighThreshold:            0.30,
		DegradedConfidenceFactor: 0.6,
		ProviderTimeout:          5 * time.Second,
		FullConfidenceTokens:     50,
		Version:                  "1.0.0",
	}
}

type similarityEngine struct {
	embedder Embedder
	corpus   CorpusIndex
	provider PlagiarismProvider
	logger   zerolog.Logger
	config   SimilarityConfig
	now      func() time.Time
}

// NewSimilarityEngine builds the plagiarism detector. provider may be nil.
func NewSimilarityEngine(
	embedder Embedder,
	corpus CorpusIndex,
	provider PlagiarismProvider,
	logger zerolog.Logger,
	config SimilarityConfig,
) SimilarityEngine {
	return &similarityEngine{
		embedder: embedder,
		corpus:   corpus,
		provider: provider,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

type tokenAttribution struct {
	source     models.SpanSource
	sourceID   string
	similarity float64
}

func (e *similarityEngine) Analyze(ctx context.Context, submission models.Submission) (*models.DetectorResult, error) {
	startTime := time.Now()

	tokens := tokenize(submission.Content)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: submission has no tokens", models.ErrInvalidInput)
	}

	attribution := make([]*tokenAttribution, len(tokens))

	internalMatched, err := e.matchInternal(ctx, submission, tokens, attribution)
	if err != nil {
		return nil, err
	}

	result := &models.DetectorResult{
		ID:          uuid.New().String(),
		SubjectID:   submission.ID,
		SubjectKind: models.SubjectSubmission,
		Kind:        models.DetectorSimilarity,
		Version:     e.config.Version,
		CreatedAt:   e.now(),
	}

	externalMatched := 0
	externalChecked := false
	if e.provider != nil {
		matched, err := e.matchExternal(ctx, submission.Content, tokens, attribution)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Degraded = true
			result.DegradedReason = models.DegradedProviderUnavailable
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, models.ErrTimeout) {
				result.DegradedReason = models.DegradedTimeout
			}
			e.logger.Warn().
				Err(err).
				Str("submission_id", submission.ID).
				Msg("External plagiarism provider unavailable, using internal corpus only")
		} else {
			externalMatched = matched
			externalChecked = true
		}
	}

	total := float64(len(tokens))
	internalCoverage := float64(internalMatched) / total
	externalCoverage := float64(externalMatched) / total

	result.Score = models.Clamp01(max(internalCoverage, externalCoverage))
	result.RiskLevel = e.riskLevel(result.Score)
	result.Confidence = e.confidence(len(tokens), result.Degraded)

	spans := mergeSpans(tokens, attribution)
	for _, s := range spans {
		result.EvidenceRefs = append(result.EvidenceRefs, models.EvidenceRef{
			Type:       "matched_span",
			SourceID:   s.SourceID,
			Start:      s.StartByte,
			End:        s.EndByte,
			Similarity: s.Similarity,
			Note:       string(s.Source),
		})
	}
	result.Similarity = &models.SimilarityDetail{
		TotalTokens:      len(tokens),
		InternalCoverage: internalCoverage,
		ExternalCoverage: externalCoverage,
		ExternalChecked:  externalChecked,
		Spans:            spans,
	}

	e.logger.Info().
		Str("submission_id", submission.ID).
		Float64("score", result.Score).
		Float64("internal_coverage", internalCoverage).
		Float64("external_coverage", externalCoverage).
		Bool("degraded", result.Degraded).
		Int("spans", len(spans)).
		Dur("processing_time", time.Since(startTime)).
		Msg("Similarity analysis completed")

	return result, nil
}

func (e *similarityEngine) matchInternal(ctx context.Context, submission models.Submission, tokens []token, attribution []*tokenAttribution) (int, error) {
	if e.corpus == nil || e.corpus.Size() == 0 {
		return 0, nil
	}

	windows := slidingWindows(tokens, e.config.WindowSize, e.config.WindowStride)
	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.text
	}
	vecs, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed submission windows: %w", err)
	}

	for i, w := range windows {
		hit, found, err := e.corpus.BestMatch(ctx, vecs[i], submission.AuthorID, submission.ID)
		if err != nil {
			return 0, fmt.Errorf("corpus lookup failed: %w", err)
		}
		if !found || hit.Similarity < e.config.MatchFloor {
			continue
		}
		for t := w.startToken; t < w.endToken; t++ {
			cur := attribution[t]
			if cur == nil || hit.Similarity > cur.similarity {
				attribution[t] = &tokenAttribution{
					source:     models.SourceInternal,
					sourceID:   hit.SubmissionID,
					similarity: hit.Similarity,
				}
			}
		}
	}

	matched := 0
	for _, a := range attribution {
		if a != nil {
			matched++
		}
	}
	return matched, nil
}

// matchExternal overwrites attribution for every token the provider covers:
// external attribution wins over internal on overlap.
func (e *similarityEngine) matchExternal(ctx context.Context, text string, tokens []token, attribution []*tokenAttribution) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.ProviderTimeout)
	defer cancel()

	matches, err := e.provider.Match(callCtx, text)
	if err != nil {
		return 0, err
	}

	byteOffsets := runeToByteOffsets(text)
	covered := make([]bool, len(tokens))
	for _, m := range matches {
		if m.Similarity < e.config.ExternalMinSimilarity {
			continue
		}
		for _, span := range m.Spans {
			start, end := runeSpanToBytes(byteOffsets, span)
			if end <= start {
				continue
			}
			for t, tok := range tokens {
				if tok.start < end && tok.end > start {
					covered[t] = true
					cur := attribution[t]
					if cur == nil || cur.source == models.SourceInternal || m.Similarity > cur.similarity {
						attribution[t] = &tokenAttribution{
							source:     models.SourceExternal,
							sourceID:   m.SourceID,
							similarity: models.Clamp01(m.Similarity),
						}
					}
				}
			}
		}
	}

	matched := 0
	for _, c := range covered {
		if c {
			matched++
		}
	}
	return matched, nil
}

func (e *similarityEngine) riskLevel(score float64) models.RiskLevel {
	switch {
	case score < e.config.LowThreshold:
		return models.RiskNone
	case score <= e.config.HighThreshold:
		return models.RiskLow
	default:
		return models.RiskHigh
	}
}

func (e *similarityEngine) confidence(tokenCount int, degraded bool) float64 {
	full := e.config.FullConfidenceTokens
	if full <= 0 {
		full = 1
	}
	c := 0.5 + 0.5*min(1, float64(tokenCount)/float64(full))
	if degraded {
		c *= e.config.DegradedConfidenceFactor
	}
	return models.Clamp01(c)
}

func (e *similarityEngine) GetCheckerInfo() CheckerInfo {
	return CheckerInfo{
		Name:        "Similarity Engine",
		Version:     e.config.Version,
		Algorithm:   "windowed_embedding",
		Description: "Matches overlapping token windows against the internal corpus and an optional external provider",
	}
}

// mergeSpans joins consecutive tokens attributed to the same source.
func mergeSpans(tokens []token, attribution []*tokenAttribution) []models.MatchedSpan {
	var spans []models.MatchedSpan
	for i := 0; i < len(tokens); i++ {
		a := attribution[i]
		if a == nil {
			continue
		}
		span := models.MatchedSpan{
			StartToken: i,
			EndToken:   i + 1,
			StartByte:  tokens[i].start,
			EndByte:    tokens[i].end,
			Source:     a.source,
			SourceID:   a.sourceID,
			Similarity: a.similarity,
		}
		for i+1 < len(tokens) {
			next := attribution[i+1]
			if next == nil || next.source != a.source || next.sourceID != a.sourceID {
				break
			}
			i++
			span.EndToken = i + 1
			span.EndByte = tokens[i].end
			span.Similarity = max(span.Similarity, next.similarity)
		}
		spans = append(spans, span)
	}
	return spans
}

// runeToByteOffsets maps rune index to byte offset; the final entry is len(text).
func runeToByteOffsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

func runeSpanToBytes(offsets []int, span models.TextSpan) (int, int) {
	last := len(offsets) - 1
	start := min(max(span.Start, 0), last)
	end := min(max(span.End, 0), last)
	return offsets[start], offsets[end]
}
