package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type CollusionConfig struct {
	EdgeThreshold            float64
	TimingWindow             time.Duration
	EmbeddingWeight          float64
	StructuralWeight         float64
	LexicalWeight            float64
	FallbackLexicalWeight    float64
	FallbackStructuralWeight float64
	SizeBonus                float64
	HighThreshold            float64
	MediumThreshold          float64
	MinSpanTokens            int
	MaxAlignTokens           int
	Parallelism              int
	Confidence               float64
	DegradedConfidenceFactor float64
	EmbeddingTimeout         time.Duration
	Version                  string
}

func DefaultCollusionConfig() CollusionConfig {
	return CollusionConfig{
		EdgeThreshold:            0.75,
		TimingWindow:             30 * time.Minute,
		EmbeddingWeight:          0.5,
		StructuralWeight:         0.3,
		LexicalWeight:            0.2,
		FallbackLexicalWeight:    0.6,
		FallbackStructuralWeight: 0.4,
		SizeBonus:                0.05,
		HighThreshold:            0.85,
		MediumThreshold:          0.75,
		MinSpanTokens:            5,
		MaxAlignTokens:           2000,
		Parallelism:              8,
		Confidence:               0.9,
		DegradedConfidenceFactor: 0.6,
		EmbeddingTimeout:         10 * time.Second,
		Version:                  "1.0.0",
	}
}

type CollusionAnalyzer interface {
	// Analyze clusters one assignment cohort. It returns the run together with
	// one collusion result per submission in the cohort.
	Analyze(ctx context.Context, assignmentID string, submissions []models.Submission) (*models.CollusionRun, []models.DetectorResult, error)
}

type collusionAnalyzer struct {
	embedder Embedder
	logger   zerolog.Logger
	config   CollusionConfig
	now      func() time.Time
}

func NewCollusionAnalyzer(embedder Embedder, logger zerolog.Logger, config CollusionConfig) CollusionAnalyzer {
	if config.Parallelism <= 0 {
		config.Parallelism = 1
	}
	return &collusionAnalyzer{
		embedder: embedder,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

type cohortMember struct {
	submission models.Submission
	words      []string
	skeleton   []string
	vec        []float64
}

func (a *collusionAnalyzer) Analyze(ctx context.Context, assignmentID string, submissions []models.Submission) (*models.CollusionRun, []models.DetectorResult, error) {
	if assignmentID == "" {
		return nil, nil, fmt.Errorf("%w: assignment id is required", models.ErrInvalidInput)
	}

	members, err := a.prepare(assignmentID, submissions)
	if err != nil {
		return nil, nil, err
	}

	run := &models.CollusionRun{
		ID:              uuid.New().String(),
		AssignmentID:    assignmentID,
		SubmissionCount: len(members),
		StartedAt:       a.now(),
	}

	if err := a.embed(ctx, members); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		run.Degraded = true
		a.logger.Warn().
			Err(err).
			Str("assignment_id", assignmentID).
			Msg("Embedding service unavailable, falling back to structural and lexical comparison")
	}

	pairs, err := a.scorePairs(ctx, members, run.Degraded)
	if err != nil {
		return nil, nil, err
	}

	uf := newUnionFind(len(members))
	for _, p := range pairs {
		if p.edge {
			uf.union(p.i, p.j)
		}
	}

	confidence := a.config.Confidence
	if run.Degraded {
		confidence *= a.config.DegradedConfidenceFactor
	}
	confidence = models.Clamp01(confidence)

	clusterOf := make(map[int]int)
	for _, component := range uf.components() {
		if len(component) < 2 {
			continue
		}
		run.Clusters = append(run.Clusters, a.buildCluster(run, members, component, pairs, uf, confidence))
		for _, idx := range component {
			clusterOf[idx] = len(run.Clusters) - 1
		}
	}
	run.CompletedAt = a.now()

	results := make([]models.DetectorResult, 0, len(members))
	for idx, m := range members {
		var cluster *models.CollusionCluster
		if c, ok := clusterOf[idx]; ok {
			cluster = &run.Clusters[c]
		}
		results = append(results, a.memberResult(run, m, cluster, confidence))
	}

	a.logger.Info().
		Str("assignment_id", assignmentID).
		Str("run_id", run.ID).
		Int("submissions", len(members)).
		Int("pairs", len(pairs)).
		Int("clusters", len(run.Clusters)).
		Bool("degraded", run.Degraded).
		Msg("Collusion analysis completed")

	return run, results, nil
}

func (a *collusionAnalyzer) prepare(assignmentID string, submissions []models.Submission) ([]*cohortMember, error) {
	sorted := make([]models.Submission, len(submissions))
	copy(sorted, submissions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	members := make([]*cohortMember, 0, len(sorted))
	for i, s := range sorted {
		if s.AssignmentID != assignmentID {
			return nil, fmt.Errorf("%w: submission %s belongs to assignment %s", models.ErrInvalidInput, s.ID, s.AssignmentID)
		}
		if i > 0 && sorted[i-1].ID == s.ID {
			return nil, fmt.Errorf("%w: duplicate submission %s", models.ErrInvalidInput, s.ID)
		}
		members = append(members, &cohortMember{
			submission: s,
			words:      tokenTexts(tokenize(s.Content)),
			skeleton:   skeleton(s.Content),
		})
	}
	return members, nil
}

func (a *collusionAnalyzer) embed(ctx context.Context, members []*cohortMember) error {
	if a.embedder == nil {
		return fmt.Errorf("%w: no embedder configured", models.ErrProviderUnavailable)
	}
	if len(members) < 2 {
		return nil
	}
	texts := make([]string, len(members))
	for i, m := range members {
		texts[i] = m.submission.Content
	}

	callCtx, cancel := context.WithTimeout(ctx, a.config.EmbeddingTimeout)
	defer cancel()
	vecs, err := a.embedder.Embed(callCtx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(members) {
		return fmt.Errorf("%w: embedder returned %d vectors for %d texts", models.ErrProviderUnavailable, len(vecs), len(members))
	}
	for i, m := range members {
		m.vec = vecs[i]
	}
	return nil
}

type scoredPair struct {
	i, j     int
	evidence models.PairEvidence
	edge     bool
}

// scorePairs compares every unordered pair in parallel. Output order follows
// (i, j) so the run is independent of scheduling.
func (a *collusionAnalyzer) scorePairs(ctx context.Context, members []*cohortMember, degraded bool) ([]scoredPair, error) {
	n := len(members)
	pairs := make([]scoredPair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, scoredPair{i: i, j: j})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Parallelism)
	for k := range pairs {
		k := k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := &pairs[k]
			p.evidence, p.edge = a.comparePair(members[p.i], members[p.j], degraded)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (a *collusionAnalyzer) comparePair(x, y *cohortMember, degraded bool) (models.PairEvidence, bool) {
	ev := models.PairEvidence{
		A:                    x.submission.ID,
		B:                    y.submission.ID,
		StructuralSimilarity: structuralSimilarity(x.skeleton, y.skeleton),
		LexicalSimilarity:    lexicalSimilarity(x.words, y.words),
	}
	gap := x.submission.SubmittedAt.Sub(y.submission.SubmittedAt)
	if gap < 0 {
		gap = -gap
	}
	ev.TimingGapSeconds = gap.Seconds()

	if degraded {
		ev.Similarity = a.config.FallbackLexicalWeight*ev.LexicalSimilarity +
			a.config.FallbackStructuralWeight*ev.StructuralSimilarity
	} else {
		ev.EmbeddingSimilarity = cosine(x.vec, y.vec)
		ev.Similarity = a.config.EmbeddingWeight*ev.EmbeddingSimilarity +
			a.config.StructuralWeight*ev.StructuralSimilarity +
			a.config.LexicalWeight*ev.LexicalSimilarity
	}
	ev.Similarity = models.Clamp01(ev.Similarity)

	edge := ev.Similarity >= a.config.EdgeThreshold && gap <= a.config.TimingWindow
	if edge {
		ev.Spans = alignSpans(x.words, y.words, a.config.MinSpanTokens, a.config.MaxAlignTokens)
	}
	return ev, edge
}

func (a *collusionAnalyzer) buildCluster(
	run *models.CollusionRun,
	members []*cohortMember,
	component []int,
	pairs []scoredPair,
	uf *unionFind,
	confidence float64,
) models.CollusionCluster {
	ids := make([]string, len(component))
	for k, idx := range component {
		ids[k] = members[idx].submission.ID
	}
	sort.Strings(ids)

	root := uf.find(component[0])
	cluster := models.CollusionCluster{
		ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(run.ID+"/"+strings.Join(ids, ","))).String(),
		AssignmentID: run.AssignmentID,
		RunID:        run.ID,
		Members:      ids,
		Confidence:   confidence,
		Degraded:     run.Degraded,
	}

	var sum float64
	for _, p := range pairs {
		if p.edge && uf.find(p.i) == root {
			cluster.Pairs = append(cluster.Pairs, p.evidence)
			sum += p.evidence.Similarity
		}
	}
	if len(cluster.Pairs) > 0 {
		cluster.MeanSimilarity = sum / float64(len(cluster.Pairs))
	}
	cluster.Score = models.Clamp01(cluster.MeanSimilarity + a.config.SizeBonus*float64(len(ids)-2))
	cluster.RiskLevel = a.clusterRisk(cluster.Score)
	return cluster
}

// clusterRisk escalates with size and tightness through the cluster score.
func (a *collusionAnalyzer) clusterRisk(score float64) models.RiskLevel {
	switch {
	case score >= a.config.HighThreshold:
		return models.RiskHigh
	case score >= a.config.MediumThreshold:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func (a *collusionAnalyzer) memberResult(run *models.CollusionRun, m *cohortMember, cluster *models.CollusionCluster, confidence float64) models.DetectorResult {
	result := models.DetectorResult{
		ID:          uuid.New().String(),
		SubjectID:   m.submission.ID,
		SubjectKind: models.SubjectSubmission,
		Kind:        models.DetectorCollusion,
		Version:     a.config.Version,
		Confidence:  confidence,
		RiskLevel:   models.RiskNone,
		Degraded:    run.Degraded,
		CreatedAt:   run.CompletedAt,
		Collusion:   &models.CollusionDetail{RunID: run.ID},
	}
	if run.Degraded {
		result.DegradedReason = models.DegradedEmbeddingFallback
	}
	if cluster == nil {
		return result
	}

	result.Score = cluster.Score
	result.RiskLevel = cluster.RiskLevel
	result.Collusion.ClusterID = cluster.ID
	result.Collusion.ClusterSize = len(cluster.Members)
	result.Collusion.MeanSimilarity = cluster.MeanSimilarity
	for _, id := range cluster.Members {
		if id != m.submission.ID {
			result.Collusion.Peers = append(result.Collusion.Peers, id)
		}
	}
	for _, p := range cluster.Pairs {
		if p.A != m.submission.ID && p.B != m.submission.ID {
			continue
		}
		peer := p.B
		if peer == m.submission.ID {
			peer = p.A
		}
		result.EvidenceRefs = append(result.EvidenceRefs, models.EvidenceRef{
			Type:       "collusion_pair",
			SourceID:   peer,
			Similarity: p.Similarity,
			Note:       fmt.Sprintf("%d aligned spans, gap %.0fs", len(p.Spans), p.TimingGapSeconds),
		})
	}
	return result
}
