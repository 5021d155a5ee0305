package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuthorshipProvider is an external AI-authorship classifier.
type AuthorshipProvider interface {
	Classify(ctx context.Context, text string) (models.AuthorshipClassification, error)
}

// LanguageModel scores how predictable a token sequence is, normalised to [0,1].
// Low values mean predictable text.
type LanguageModel interface {
	NormalizedPerplexity(tokens []string) float64
}

// ReferenceRange describes human-written text for one statistic.
type ReferenceRange struct {
	Mean   float64
	StdDev float64
}

type StyleConfig struct {
	HeuristicWeight          float64
	DeviationWeight          float64
	ProviderWeight           float64
	NoBaselineConfidenceCap  float64
	DegradedConfidenceFactor float64
	ParagraphZThreshold      float64
	MinParagraphTokens       int
	FullConfidenceTokens     int
	LowThreshold             float64
	MediumThreshold          float64
	HighThreshold            float64
	ProviderTimeout          time.Duration
	Vocabulary               ReferenceRange
	Burstiness               ReferenceRange
	Perplexity               ReferenceRange
	Version                  string
}

func DefaultStyleConfig() StyleConfig {
	return StyleConfig{
		HeuristicWeight:          0.5,
		DeviationWeight:          0.5,
		ProviderWeight:           0.5,
		NoBaselineConfidenceCap:  0.45,
		DegradedConfidenceFactor: 0.6,
		ParagraphZThreshold:      2.0,
		MinParagraphTokens:       20,
		FullConfidenceTokens:     150,
		LowThreshold:             0.35,
		MediumThreshold:          0.55,
		HighThreshold:            0.75,
		ProviderTimeout:          5 * time.Second,
		Vocabulary:               ReferenceRange{Mean: 0.5, StdDev: 0.12},
		Burstiness:               ReferenceRange{Mean: 0.5, StdDev: 0.2},
		Perplexity:               ReferenceRange{Mean: 0.75, StdDev: 0.12},
		Version:                  "1.0.0",
	}
}

type StyleProfiler interface {
	Analyze(ctx context.Context, submission models.Submission, baseline *models.StyleBaseline) (*models.DetectorResult, error)
	ExtractStats(text string) models.StyleStats
}

type styleProfiler struct {
	provider AuthorshipProvider
	logger   zerolog.Logger
	config   StyleConfig
	now      func() time.Time
}

// NewStyleProfiler builds the AI-authorship detector. provider may be nil.
func NewStyleProfiler(provider AuthorshipProvider, logger zerolog.Logger, config StyleConfig) StyleProfiler {
	return &styleProfiler{
		provider: provider,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

func (p *styleProfiler) Analyze(ctx context.Context, submission models.Submission, baseline *models.StyleBaseline) (*models.DetectorResult, error) {
	words := tokenTexts(tokenize(submission.Content))
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: submission has no tokens", models.ErrInvalidInput)
	}

	lm := newBigramModel(words, 0.5)
	docStats := p.stats(submission.Content, lm)
	useBaseline := baseline.Usable()

	detail := &models.StyleDetail{
		Stats:          docStats,
		HeuristicScore: p.heuristic(docStats),
		BaselineUsed:   useBaseline,
	}

	score := detail.HeuristicScore
	if useBaseline {
		detail.BaselineVersion = baseline.Version
		detail.DeviationScore = models.Clamp01(meanAbsZ(docStats, baseline) / (2 * p.config.ParagraphZThreshold))
		total := p.config.HeuristicWeight + p.config.DeviationWeight
		if total > 0 {
			score = (p.config.HeuristicWeight*detail.HeuristicScore + p.config.DeviationWeight*detail.DeviationScore) / total
		}
	}

	lengthFactor := min(1, float64(len(words))/float64(max(p.config.FullConfidenceTokens, 1)))
	confidence := 0.4 + 0.4*lengthFactor
	if useBaseline {
		confidence += 0.2 * min(1, float64(baseline.SampleCount)/10)
	}

	result := &models.DetectorResult{
		ID:          uuid.New().String(),
		SubjectID:   submission.ID,
		SubjectKind: models.SubjectSubmission,
		Kind:        models.DetectorStyle,
		Version:     p.config.Version,
		CreatedAt:   p.now(),
	}

	if p.provider != nil {
		classification, err := p.classify(ctx, submission.Content)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			result.Degraded = true
			result.DegradedReason = models.DegradedProviderUnavailable
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, models.ErrTimeout) {
				result.DegradedReason = models.DegradedTimeout
			}
			p.logger.Warn().
				Err(err).
				Str("submission_id", submission.ID).
				Msg("Authorship provider unavailable, using local statistics only")
		default:
			likelihood := models.Clamp01(classification.Likelihood)
			detail.ProviderLikelihood = &likelihood
			blend := p.config.ProviderWeight * models.Clamp01(classification.Confidence)
			score = (1-blend)*score + blend*likelihood
			confidence = (1-blend)*confidence + blend*models.Clamp01(classification.Confidence)
		}
	}

	if result.Degraded {
		confidence *= p.config.DegradedConfidenceFactor
	}
	if !useBaseline {
		confidence = min(confidence, p.config.NoBaselineConfidenceCap)
	}

	detail.FlaggedParagraphs = p.flagParagraphs(submission.Content, lm, baseline)

	result.Score = models.Clamp01(score)
	result.Confidence = models.Clamp01(confidence)
	result.RiskLevel = p.riskLevel(result.Score, useBaseline)
	result.Style = detail
	for _, f := range detail.FlaggedParagraphs {
		result.EvidenceRefs = append(result.EvidenceRefs, models.EvidenceRef{
			Type:  "paragraph",
			Start: f.Index,
			End:   f.Index + 1,
			Note:  fmt.Sprintf("global_z=%.2f baseline_z=%.2f", f.GlobalZ, f.BaselineZ),
		})
	}

	p.logger.Info().
		Str("submission_id", submission.ID).
		Str("author_id", submission.AuthorID).
		Float64("score", result.Score).
		Float64("confidence", result.Confidence).
		Bool("baseline_used", useBaseline).
		Int("flagged_paragraphs", len(detail.FlaggedParagraphs)).
		Msg("Style analysis completed")

	return result, nil
}

func (p *styleProfiler) classify(ctx context.Context, text string) (models.AuthorshipClassification, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.config.ProviderTimeout)
	defer cancel()
	return p.provider.Classify(callCtx, text)
}

func (p *styleProfiler) ExtractStats(text string) models.StyleStats {
	words := tokenTexts(tokenize(text))
	return p.stats(text, newBigramModel(words, 0.5))
}

func (p *styleProfiler) stats(text string, lm LanguageModel) models.StyleStats {
	words := tokenTexts(tokenize(text))
	return models.StyleStats{
		VocabularyComplexity: vocabularyComplexity(words),
		Burstiness:           p.burstiness(text),
		Perplexity:           lm.NormalizedPerplexity(words),
	}
}

// heuristic rewards low burstiness and low perplexity relative to human text.
func (p *styleProfiler) heuristic(s models.StyleStats) float64 {
	lowBurst := models.Clamp01((p.config.Burstiness.Mean - s.Burstiness) / (2 * p.config.Burstiness.StdDev))
	lowPerp := models.Clamp01((p.config.Perplexity.Mean - s.Perplexity) / (2 * p.config.Perplexity.StdDev))
	return 0.5*lowBurst + 0.5*lowPerp
}

// burstiness is the coefficient of variation of sentence lengths. Text with
// fewer than two sentences gets the reference mean so it reads as neutral.
func (p *styleProfiler) burstiness(text string) float64 {
	sentences := splitSentences(text)
	if len(sentences) < 2 {
		return p.config.Burstiness.Mean
	}
	lengths := make([]float64, 0, len(sentences))
	for _, s := range sentences {
		lengths = append(lengths, float64(len(tokenize(s))))
	}
	mean, std := meanStd(lengths)
	if mean == 0 {
		return p.config.Burstiness.Mean
	}
	return std / mean
}

func (p *styleProfiler) flagParagraphs(text string, lm LanguageModel, baseline *models.StyleBaseline) []models.ParagraphFinding {
	var findings []models.ParagraphFinding
	for i, para := range splitParagraphs(text) {
		words := tokenTexts(tokenize(para))
		if len(words) < p.config.MinParagraphTokens {
			continue
		}
		s := models.StyleStats{
			VocabularyComplexity: vocabularyComplexity(words),
			Burstiness:           p.burstiness(para),
			Perplexity:           lm.NormalizedPerplexity(words),
		}
		globalZ := max(
			zScore(s.VocabularyComplexity, p.config.Vocabulary.Mean, p.config.Vocabulary.StdDev),
			zScore(s.Burstiness, p.config.Burstiness.Mean, p.config.Burstiness.StdDev),
			zScore(s.Perplexity, p.config.Perplexity.Mean, p.config.Perplexity.StdDev),
		)
		if globalZ <= p.config.ParagraphZThreshold {
			continue
		}
		finding := models.ParagraphFinding{
			Index:                i,
			VocabularyComplexity: s.VocabularyComplexity,
			Burstiness:           s.Burstiness,
			Perplexity:           s.Perplexity,
			GlobalZ:              globalZ,
		}
		if baseline.Usable() {
			finding.BaselineZ = maxAbsZ(s, baseline)
			if finding.BaselineZ <= p.config.ParagraphZThreshold {
				continue
			}
		}
		findings = append(findings, finding)
	}
	return findings
}

// riskLevel never reports high without an author baseline.
func (p *styleProfiler) riskLevel(score float64, baselineUsed bool) models.RiskLevel {
	var level models.RiskLevel
	switch {
	case score < p.config.LowThreshold:
		level = models.RiskNone
	case score < p.config.MediumThreshold:
		level = models.RiskLow
	case score < p.config.HighThreshold:
		level = models.RiskMedium
	default:
		level = models.RiskHigh
	}
	if !baselineUsed && level == models.RiskHigh {
		level = models.RiskMedium
	}
	return level
}

// vocabularyComplexity averages the type-token ratio and the share of long words.
func vocabularyComplexity(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(words))
	long := 0
	for _, w := range words {
		unique[w] = struct{}{}
		if utf8.RuneCountInString(w) >= 7 {
			long++
		}
	}
	ttr := float64(len(unique)) / float64(len(words))
	return models.Clamp01((ttr + float64(long)/float64(len(words))) / 2)
}

const minStdDev = 0.05

func zScore(x, mean, std float64) float64 {
	return math.Abs(x-mean) / math.Max(std, minStdDev)
}

func baselineZ(s models.StyleStats, b *models.StyleBaseline) [3]float64 {
	return [3]float64{
		zScore(s.VocabularyComplexity, b.VocabularyComplexity.Mean, b.VocabularyComplexity.StdDev()),
		zScore(s.Burstiness, b.Burstiness.Mean, b.Burstiness.StdDev()),
		zScore(s.Perplexity, b.Perplexity.Mean, b.Perplexity.StdDev()),
	}
}

func meanAbsZ(s models.StyleStats, b *models.StyleBaseline) float64 {
	z := baselineZ(s, b)
	return (z[0] + z[1] + z[2]) / 3
}

func maxAbsZ(s models.StyleStats, b *models.StyleBaseline) float64 {
	z := baselineZ(s, b)
	return max(z[0], z[1], z[2])
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// bigramModel is an add-k smoothed bigram model fitted on the document itself.
type bigramModel struct {
	k       float64
	vocab   int
	unigram map[string]int
	bigram  map[[2]string]int
}

func newBigramModel(words []string, k float64) *bigramModel {
	m := &bigramModel{
		k:       k,
		unigram: make(map[string]int),
		bigram:  make(map[[2]string]int),
	}
	for i, w := range words {
		m.unigram[w]++
		if i > 0 {
			m.bigram[[2]string{words[i-1], w}]++
		}
	}
	m.vocab = len(m.unigram)
	return m
}

func (m *bigramModel) NormalizedPerplexity(tokens []string) float64 {
	if len(tokens) < 2 || m.vocab < 2 {
		return 1
	}
	var nll float64
	for i := 1; i < len(tokens); i++ {
		prev, cur := tokens[i-1], tokens[i]
		num := float64(m.bigram[[2]string{prev, cur}]) + m.k
		den := float64(m.unigram[prev]) + m.k*float64(m.vocab)
		nll -= math.Log(num / den)
	}
	avg := nll / float64(len(tokens)-1)
	return models.Clamp01(avg / math.Log(float64(m.vocab)+1))
}
