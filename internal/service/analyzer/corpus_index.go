package analyzer

import (
	"context"
	"fmt"
	"sync"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
)

type CorpusHit struct {
	SubmissionID string
	Similarity   float64
}

// CorpusIndex answers nearest-window lookups against prior submissions.
type CorpusIndex interface {
	Add(ctx context.Context, submission models.Submission) error
	BestMatch(ctx context.Context, vec []float64, authorID, submissionID string) (CorpusHit, bool, error)
	Size() int
}

type indexedWindow struct {
	submissionID string
	authorID     string
	vec          []float64
}

// memoryCorpusIndex keeps window embeddings in memory and scans them linearly.
type memoryCorpusIndex struct {
	embedder Embedder
	size     int
	stride   int

	mu      sync.RWMutex
	windows []indexedWindow
	seen    map[string]struct{}
}

func NewMemoryCorpusIndex(embedder Embedder, windowSize, windowStride int) CorpusIndex {
	return &memoryCorpusIndex{
		embedder: embedder,
		size:     windowSize,
		stride:   windowStride,
		seen:     make(map[string]struct{}),
	}
}

func (i *memoryCorpusIndex) Add(ctx context.Context, submission models.Submission) error {
	i.mu.RLock()
	_, exists := i.seen[submission.ID]
	i.mu.RUnlock()
	if exists {
		return nil
	}

	windows := slidingWindows(tokenize(submission.Content), i.size, i.stride)
	if len(windows) == 0 {
		return nil
	}
	texts := make([]string, len(windows))
	for j, w := range windows {
		texts[j] = w.text
	}
	vecs, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed corpus windows: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.seen[submission.ID]; exists {
		return nil
	}
	for _, vec := range vecs {
		i.windows = append(i.windows, indexedWindow{
			submissionID: submission.ID,
			authorID:     submission.AuthorID,
			vec:          vec,
		})
	}
	i.seen[submission.ID] = struct{}{}
	return nil
}

// BestMatch skips windows of the same submission and of the same author.
// Ties resolve to the lexicographically smallest submission id.
func (i *memoryCorpusIndex) BestMatch(ctx context.Context, vec []float64, authorID, submissionID string) (CorpusHit, bool, error) {
	if err := ctx.Err(); err != nil {
		return CorpusHit{}, false, err
	}
	i.mu.RLock()
	defer i.mu.RUnlock()

	var best CorpusHit
	found := false
	for _, w := range i.windows {
		if w.submissionID == submissionID || w.authorID == authorID {
			continue
		}
		sim := cosine(vec, w.vec)
		if !found || sim > best.Similarity || (sim == best.Similarity && w.submissionID < best.SubmissionID) {
			best = CorpusHit{SubmissionID: w.submissionID, Similarity: sim}
			found = true
		}
	}
	return best, found, nil
}

func (i *memoryCorpusIndex) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.seen)
}
