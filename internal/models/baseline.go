package models

import (
	"math"
	"time"
)

// MinBaselineSamples is the number of confirmed samples before a baseline is used.
const MinBaselineSamples = 3

// RunningStat is a mergeable mean/variance accumulator (Welford).
type RunningStat struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Add returns a new stat including x; the receiver is not modified.
func (s RunningStat) Add(x float64) RunningStat {
	n := s.Count + 1
	delta := x - s.Mean
	mean := s.Mean + delta/float64(n)
	return RunningStat{
		Count: n,
		Mean:  mean,
		M2:    s.M2 + delta*(x-mean),
	}
}

func (s RunningStat) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.M2 / float64(s.Count-1)
}

func (s RunningStat) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// StyleBaseline is one immutable version of an author's style fingerprint.
type StyleBaseline struct {
	AuthorID             string      `json:"author_id" db:"author_id"`
	Version              int         `json:"version" db:"version"`
	SampleCount          int         `json:"sample_count" db:"sample_count"`
	VocabularyComplexity RunningStat `json:"vocabulary_complexity" db:"vocabulary_complexity"`
	Burstiness           RunningStat `json:"burstiness" db:"burstiness"`
	Perplexity           RunningStat `json:"perplexity" db:"perplexity"`
	SourceSubmissionID   string      `json:"source_submission_id" db:"source_submission_id"`
	CreatedAt            time.Time   `json:"created_at" db:"created_at"`
}

// Usable reports whether the baseline has enough samples to compare against.
func (b *StyleBaseline) Usable() bool {
	return b != nil && b.SampleCount >= MinBaselineSamples
}

// Next builds the following version with stats appended. b may be nil.
func (b *StyleBaseline) Next(authorID string, stats StyleStats, submissionID string, now time.Time) StyleBaseline {
	next := StyleBaseline{AuthorID: authorID, Version: 1}
	if b != nil {
		next = *b
		next.Version = b.Version + 1
	}
	next.SampleCount++
	next.VocabularyComplexity = next.VocabularyComplexity.Add(stats.VocabularyComplexity)
	next.Burstiness = next.Burstiness.Add(stats.Burstiness)
	next.Perplexity = next.Perplexity.Add(stats.Perplexity)
	next.SourceSubmissionID = submissionID
	next.CreatedAt = now
	return next
}
