package analyzer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/google/uuid"
)

// AggregatorConfig holds the fusion weights and thresholds. The aggregate is a
// weighted sum: each result weighs kindWeight × confidence, halved when degraded.
type AggregatorConfig struct {
	Weights               map[models.DetectorKind]float64
	DegradedFactor        float64
	FlagThreshold         float64
	ReviewConfidenceFloor float64
	DisagreementGap       float64
	NearZeroScore         float64
	LowThreshold          float64
	MediumThreshold       float64
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Weights: map[models.DetectorKind]float64{
			models.DetectorSimilarity: 1.0,
			models.DetectorStyle:      0.8,
			models.DetectorCollusion:  1.0,
			models.DetectorProctoring: 1.0,
		},
		DegradedFactor:        0.5,
		FlagThreshold:         0.6,
		ReviewConfidenceFloor: 0.5,
		DisagreementGap:       0.6,
		NearZeroScore:         0.1,
		LowThreshold:          0.2,
		MediumThreshold:       0.4,
	}
}

var verdictNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("integrity-verdict"))

type RiskAggregator interface {
	Fuse(subjectID string, subjectKind models.SubjectKind, results []models.DetectorResult) (*models.IntegrityVerdict, error)
}

type riskAggregator struct {
	config AggregatorConfig
}

func NewRiskAggregator(config AggregatorConfig) RiskAggregator {
	return &riskAggregator{config: config}
}

func (a *riskAggregator) weight(kind models.DetectorKind) float64 {
	if w, ok := a.config.Weights[kind]; ok {
		return w
	}
	return 1
}

// Fuse combines results into one verdict. Input order does not matter.
// Placeholders from failed detectors are listed but carry no weight; if
// nothing else remains the call fails with ErrSystemUnavailable.
func (a *riskAggregator) Fuse(subjectID string, subjectKind models.SubjectKind, results []models.DetectorResult) (*models.IntegrityVerdict, error) {
	sorted := make([]models.DetectorResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].ID < sorted[j].ID
	})

	verdict := &models.IntegrityVerdict{
		SubjectID:   subjectID,
		SubjectKind: subjectKind,
	}

	var (
		weightedScore, totalWeight float64
		confNumerator, kindTotal   float64
		signals                    []models.DetectorResult
		maxRisk                    = models.RiskNone
	)
	for _, r := range sorted {
		score := models.Clamp01(r.Score)
		confidence := models.Clamp01(r.Confidence)
		kindWeight := a.weight(r.Kind)
		factor := 1.0
		if r.Degraded {
			factor = a.config.DegradedFactor
		}

		contribution := models.DetectorContribution{
			ResultID:       r.ID,
			Kind:           r.Kind,
			Score:          score,
			Confidence:     confidence,
			RiskLevel:      r.RiskLevel,
			Degraded:       r.Degraded,
			DegradedReason: r.DegradedReason,
		}
		verdict.ResultIDs = append(verdict.ResultIDs, r.ID)
		verdict.Degraded = verdict.Degraded || r.Degraded
		kindTotal += kindWeight

		if r.HasSignal() {
			contribution.EffectiveWeight = kindWeight * confidence * factor
			weightedScore += contribution.EffectiveWeight * score
			totalWeight += contribution.EffectiveWeight
			confNumerator += contribution.EffectiveWeight
			maxRisk = models.MaxRiskLevel(maxRisk, r.RiskLevel)
			signals = append(signals, r)
		}
		verdict.Contributions = append(verdict.Contributions, contribution)
	}

	if len(signals) == 0 {
		return nil, fmt.Errorf("%w: no detector produced a usable result for %s", models.ErrSystemUnavailable, subjectID)
	}

	if totalWeight > 0 {
		verdict.AggregateScore = models.Clamp01(weightedScore / totalWeight)
	} else {
		var sum, w float64
		for _, r := range signals {
			sum += a.weight(r.Kind) * models.Clamp01(r.Score)
			w += a.weight(r.Kind)
		}
		if w > 0 {
			verdict.AggregateScore = models.Clamp01(sum / w)
		}
	}
	if kindTotal > 0 {
		verdict.Confidence = models.Clamp01(confNumerator / kindTotal)
	}

	// The aggregate flags on its own only with enough confident signal behind it.
	anyHigh := maxRisk == models.RiskHigh
	aggregateHigh := verdict.AggregateScore > a.config.FlagThreshold &&
		verdict.Confidence >= a.config.ReviewConfidenceFloor
	verdict.Flagged = anyHigh || aggregateHigh
	switch {
	case verdict.Flagged:
		verdict.RiskLevel = models.RiskHigh
	case verdict.AggregateScore < a.config.LowThreshold:
		verdict.RiskLevel = models.RiskNone
	case verdict.AggregateScore < a.config.MediumThreshold:
		verdict.RiskLevel = models.RiskLow
	default:
		verdict.RiskLevel = models.RiskMedium
	}

	if verdict.Confidence < a.config.ReviewConfidenceFloor {
		verdict.ReviewReasons = append(verdict.ReviewReasons, models.ReviewLowConfidence)
	}
	if a.disagree(signals) {
		verdict.ReviewReasons = append(verdict.ReviewReasons, models.ReviewDisagreement)
	}
	verdict.RequiresHumanReview = len(verdict.ReviewReasons) > 0
	verdict.ID = a.verdictID(subjectID, subjectKind, sorted)

	return verdict, nil
}

// disagree detects a high detector next to a confident one scoring near zero.
func (a *riskAggregator) disagree(results []models.DetectorResult) bool {
	for _, h := range results {
		if h.RiskLevel != models.RiskHigh {
			continue
		}
		high := models.Clamp01(h.Score)
		for _, l := range results {
			if l.Kind == h.Kind || models.Clamp01(l.Confidence) < a.config.ReviewConfidenceFloor {
				continue
			}
			low := models.Clamp01(l.Score)
			if low <= a.config.NearZeroScore && high-low >= a.config.DisagreementGap {
				return true
			}
		}
	}
	return false
}

func (a *riskAggregator) verdictID(subjectID string, subjectKind models.SubjectKind, results []models.DetectorResult) string {
	var b strings.Builder
	b.WriteString(string(subjectKind))
	b.WriteByte('|')
	b.WriteString(subjectID)
	for _, r := range results {
		b.WriteByte('|')
		b.WriteString(r.ID)
		b.WriteByte(':')
		b.WriteString(string(r.Kind))
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(r.Score, 'g', -1, 64))
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(r.Confidence, 'g', -1, 64))
		b.WriteByte(':')
		b.WriteString(string(r.RiskLevel))
		b.WriteByte(':')
		b.WriteString(strconv.FormatBool(r.Degraded))
	}
	return uuid.NewSHA1(verdictNamespace, []byte(b.String())).String()
}
