package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthorshipProvider struct {
	classification models.AuthorshipClassification
	err            error
}

func (p *stubAuthorshipProvider) Classify(ctx context.Context, text string) (models.AuthorshipClassification, error) {
	return p.classification, p.err
}

func repetitiveText() string {
	return strings.Repeat("The cat sat on the mat. ", 20)
}

const humanText = `I never expected the field trip to matter much. We left early, before sunrise, and the bus smelled like coffee.

By noon the river had flooded its banks! Nobody knew what to do, so our teacher improvised a lesson on erosion right there in the mud, pointing at collapsed roots and exposed stones while we scribbled.

Later? Quiet. Then everyone talked at once about the geology, the weather, the lunches we had forgotten on the bus.`

func styleSubmission(content string) models.Submission {
	return models.Submission{
		ID:           "sub-9",
		AuthorID:     "author-9",
		AssignmentID: "essay-1",
		Content:      content,
		SubmittedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func tightBaseline() *models.StyleBaseline {
	var b *models.StyleBaseline
	stats := models.StyleStats{VocabularyComplexity: 0.5, Burstiness: 0.6, Perplexity: 0.8}
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		next := b.Next("author-9", stats, "prev", now)
		b = &next
	}
	return b
}

func TestStyleProfiler_NoBaselineIsCapped(t *testing.T) {
	profiler := NewStyleProfiler(nil, zerolog.Nop(), DefaultStyleConfig())

	result, err := profiler.Analyze(context.Background(), styleSubmission(repetitiveText()), nil)
	require.NoError(t, err)

	assert.Equal(t, models.DetectorStyle, result.Kind)
	assert.False(t, result.Style.BaselineUsed)
	assert.Greater(t, result.Score, 0.75)
	assert.LessOrEqual(t, result.Confidence, 0.45)
	assert.Equal(t, models.RiskMedium, result.RiskLevel)
	assert.False(t, result.Degraded)
}

func TestStyleProfiler_BaselineBelowMinimumIsIgnored(t *testing.T) {
	var b *models.StyleBaseline
	next := b.Next("author-9", models.StyleStats{VocabularyComplexity: 0.5, Burstiness: 0.6, Perplexity: 0.8}, "prev", time.Now())
	profiler := NewStyleProfiler(nil, zerolog.Nop(), DefaultStyleConfig())

	result, err := profiler.Analyze(context.Background(), styleSubmission(repetitiveText()), &next)
	require.NoError(t, err)
	assert.False(t, result.Style.BaselineUsed)
	assert.NotEqual(t, models.RiskHigh, result.RiskLevel)
}

func TestStyleProfiler_DeviationFromBaseline(t *testing.T) {
	profiler := NewStyleProfiler(nil, zerolog.Nop(), DefaultStyleConfig())

	result, err := profiler.Analyze(context.Background(), styleSubmission(repetitiveText()), tightBaseline())
	require.NoError(t, err)

	assert.True(t, result.Style.BaselineUsed)
	assert.Equal(t, 3, result.Style.BaselineVersion)
	assert.InDelta(t, 1.0, result.Style.DeviationScore, 1e-9)
	assert.Equal(t, models.RiskHigh, result.RiskLevel)
	assert.Greater(t, result.Confidence, 0.45)
}

func TestStyleProfiler_FlagsUniformParagraph(t *testing.T) {
	profiler := NewStyleProfiler(nil, zerolog.Nop(), DefaultStyleConfig())

	result, err := profiler.Analyze(context.Background(), styleSubmission(repetitiveText()), nil)
	require.NoError(t, err)

	require.Len(t, result.Style.FlaggedParagraphs, 1)
	assert.Equal(t, 0, result.Style.FlaggedParagraphs[0].Index)
	assert.Greater(t, result.Style.FlaggedParagraphs[0].GlobalZ, 2.0)
	require.Len(t, result.EvidenceRefs, 1)
	assert.Equal(t, "paragraph", result.EvidenceRefs[0].Type)
}

func TestStyleProfiler_ProviderFailureDegrades(t *testing.T) {
	provider := &stubAuthorshipProvider{err: models.ErrProviderUnavailable}
	profiler := NewStyleProfiler(provider, zerolog.Nop(), DefaultStyleConfig())

	result, err := profiler.Analyze(context.Background(), styleSubmission(humanText), tightBaseline())
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, models.DegradedProviderUnavailable, result.DegradedReason)
	assert.Nil(t, result.Style.ProviderLikelihood)
}

func TestStyleProfiler_ProviderBlend(t *testing.T) {
	cfg := DefaultStyleConfig()
	local := NewStyleProfiler(nil, zerolog.Nop(), cfg)
	blended := NewStyleProfiler(&stubAuthorshipProvider{
		classification: models.AuthorshipClassification{Likelihood: 1, Confidence: 1},
	}, zerolog.Nop(), cfg)

	base, err := local.Analyze(context.Background(), styleSubmission(humanText), nil)
	require.NoError(t, err)
	withProvider, err := blended.Analyze(context.Background(), styleSubmission(humanText), nil)
	require.NoError(t, err)

	require.NotNil(t, withProvider.Style.ProviderLikelihood)
	assert.InDelta(t, 1.0, *withProvider.Style.ProviderLikelihood, 1e-9)
	assert.InDelta(t, 0.5*base.Score+0.5, withProvider.Score, 1e-9)
	assert.LessOrEqual(t, withProvider.Confidence, 0.45)
}

func TestStyleProfiler_BoundsAndInvalidInput(t *testing.T) {
	profiler := NewStyleProfiler(nil, zerolog.Nop(), DefaultStyleConfig())

	for _, text := range []string{humanText, repetitiveText(), "Short one."} {
		result, err := profiler.Analyze(context.Background(), styleSubmission(text), tightBaseline())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.Score, 0.0)
		assert.LessOrEqual(t, result.Score, 1.0)
		assert.GreaterOrEqual(t, result.Confidence, 0.0)
		assert.LessOrEqual(t, result.Confidence, 1.0)
	}

	_, err := profiler.Analyze(context.Background(), styleSubmission("?!"), nil)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestExtractStats(t *testing.T) {
	profiler := NewStyleProfiler(nil, zerolog.Nop(), DefaultStyleConfig())

	uniform := profiler.ExtractStats(repetitiveText())
	varied := profiler.ExtractStats(humanText)

	assert.InDelta(t, 0.0, uniform.Burstiness, 1e-9)
	assert.Greater(t, varied.Burstiness, uniform.Burstiness)
	assert.Greater(t, varied.Perplexity, uniform.Perplexity)
	assert.Greater(t, varied.VocabularyComplexity, uniform.VocabularyComplexity)
}
