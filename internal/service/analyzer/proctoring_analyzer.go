package analyzer

import (
	"fmt"
	"math"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ProctoringConfig struct {
	// Severities are used when an event carries no severity of its own.
	Severities          map[models.EventType]float64
	FailedCheckSeverity float64
	HardStopSeverity    float64
	FlagThreshold       int
	FlagWeight          float64
	IntegrityScale      float64
	DurationScale       time.Duration
	BaseConfidence      float64
	Version             string
}

func DefaultProctoringConfig() ProctoringConfig {
	return ProctoringConfig{
		Severities: map[models.EventType]float64{
			models.EventGazeAway:        1,
			models.EventMultipleFaces:   3,
			models.EventSecondaryDevice: 4,
			models.EventAudioAnomaly:    1.5,
		},
		FailedCheckSeverity: 2,
		HardStopSeverity:    10,
		FlagThreshold:       3,
		FlagWeight:          0.5,
		IntegrityScale:      4,
		DurationScale:       30 * time.Minute,
		BaseConfidence:      0.7,
		Version:             "1.0.0",
	}
}

// ProctoringOutcome describes what one event did to a session.
type ProctoringOutcome struct {
	Session     *models.ProctoringSession
	Flagged     bool
	AutoFlagged bool
	Terminated  bool
	Completed   bool
}

type ProctoringAnalyzer interface {
	// Apply returns the session after event; the input session is not modified.
	Apply(session *models.ProctoringSession, event models.ProctoringEvent) (*ProctoringOutcome, error)
	Result(session *models.ProctoringSession) *models.DetectorResult
}

type proctoringAnalyzer struct {
	logger zerolog.Logger
	config ProctoringConfig
	now    func() time.Time
}

func NewProctoringAnalyzer(logger zerolog.Logger, config ProctoringConfig) ProctoringAnalyzer {
	return &proctoringAnalyzer{
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

func (a *proctoringAnalyzer) Apply(session *models.ProctoringSession, event models.ProctoringEvent) (*ProctoringOutcome, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: session is required", models.ErrInvalidInput)
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.SessionID != "" && event.SessionID != session.ID {
		return nil, fmt.Errorf("%w: event belongs to session %s", models.ErrInvalidInput, event.SessionID)
	}
	if session.State.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", models.ErrInvalidTransition, session.ID, session.State)
	}
	if event.Timestamp.Before(session.StartedAt) ||
		(session.LastEventAt != nil && event.Timestamp.Before(*session.LastEventAt)) {
		return nil, fmt.Errorf("%w: event at %s is out of order", models.ErrInvalidInput, event.Timestamp.Format(time.RFC3339Nano))
	}

	next := session.Clone()
	if next.FlagsByType == nil {
		next.FlagsByType = make(map[models.EventType]int)
	}
	out := &ProctoringOutcome{Session: next}

	switch {
	case event.Type == models.EventIdentityVerification:
		if next.State != models.SessionInitiated {
			return nil, a.invalid(next, event)
		}
		if *event.Passed {
			next.State = models.SessionVerified
		} else {
			a.flag(next, event, a.config.FailedCheckSeverity)
			out.Flagged = true
		}
	case event.Type == models.EventEnvironmentScan:
		if next.State != models.SessionVerified {
			return nil, a.invalid(next, event)
		}
		if *event.Passed {
			next.State = models.SessionInProgress
		} else {
			a.flag(next, event, a.config.FailedCheckSeverity)
			out.Flagged = true
		}
	case event.Type.Behavioral():
		if next.State != models.SessionInProgress {
			return nil, a.invalid(next, event)
		}
		a.flag(next, event, a.config.Severities[event.Type])
		out.Flagged = true
	case event.Type == models.EventSessionCompleted:
		if next.State != models.SessionInProgress {
			return nil, a.invalid(next, event)
		}
		next.State = models.SessionCompleted
		ended := event.Timestamp
		next.EndedAt = &ended
		out.Completed = true
	}

	next.Events = append(next.Events, event)
	ts := event.Timestamp
	next.LastEventAt = &ts

	if !next.State.Terminal() && next.CumulativeSeverity >= a.config.HardStopSeverity {
		next.State = models.SessionTerminated
		next.EndedAt = &ts
		out.Terminated = true
		a.logger.Warn().
			Str("session_id", next.ID).
			Float64("cumulative_severity", next.CumulativeSeverity).
			Msg("Proctoring session terminated at hard-stop severity")
	}

	if !next.AutoFlagged && next.FlagCount > a.config.FlagThreshold {
		next.AutoFlagged = true
		out.AutoFlagged = true
		a.logger.Info().
			Str("session_id", next.ID).
			Int("flag_count", next.FlagCount).
			Msg("Proctoring session auto-flagged")
	}

	next.IntegrityScore = a.integrity(next, ts)
	return out, nil
}

func (a *proctoringAnalyzer) invalid(s *models.ProctoringSession, e models.ProctoringEvent) error {
	return fmt.Errorf("%w: %s not allowed in state %s", models.ErrInvalidTransition, e.Type, s.State)
}

func (a *proctoringAnalyzer) flag(s *models.ProctoringSession, e models.ProctoringEvent, fallback float64) {
	severity := e.Severity
	if severity == 0 {
		severity = fallback
	}
	s.FlagCount++
	s.FlagsByType[e.Type]++
	s.CumulativeSeverity += severity
}

// integrity decays with severity and flag count; longer sessions dilute both.
func (a *proctoringAnalyzer) integrity(s *models.ProctoringSession, at time.Time) float64 {
	load := s.CumulativeSeverity + a.config.FlagWeight*float64(s.FlagCount)
	scale := a.config.IntegrityScale
	if scale <= 0 {
		scale = 1
	}
	return models.Clamp01(math.Exp(-load / (scale * (1 + a.durationRatio(s, at)))))
}

func (a *proctoringAnalyzer) durationRatio(s *models.ProctoringSession, at time.Time) float64 {
	if a.config.DurationScale <= 0 {
		return 0
	}
	d := at.Sub(s.StartedAt)
	if d < 0 {
		d = 0
	}
	return float64(d) / float64(a.config.DurationScale)
}

func (a *proctoringAnalyzer) Result(s *models.ProctoringSession) *models.DetectorResult {
	end := s.StartedAt
	if s.LastEventAt != nil {
		end = *s.LastEventAt
	}
	score := models.Clamp01(1 - s.IntegrityScore)

	result := &models.DetectorResult{
		ID:          uuid.New().String(),
		SubjectID:   s.ID,
		SubjectKind: models.SubjectSession,
		Kind:        models.DetectorProctoring,
		Version:     a.config.Version,
		Score:       score,
		Confidence:  models.Clamp01(a.config.BaseConfidence + (1-a.config.BaseConfidence)*min(1, a.durationRatio(s, end))),
		RiskLevel:   a.riskLevel(s, score),
		CreatedAt:   a.now(),
		Proctoring: &models.ProctoringDetail{
			SessionState:       s.State,
			FlagCount:          s.FlagCount,
			CumulativeSeverity: s.CumulativeSeverity,
			FlagsByType:        s.FlagsByType,
			IntegrityScore:     s.IntegrityScore,
			DurationSeconds:    end.Sub(s.StartedAt).Seconds(),
			AutoFlagged:        s.AutoFlagged,
		},
	}

	for i, e := range s.Events {
		if e.Type.Behavioral() || (e.Passed != nil && !*e.Passed) {
			result.EvidenceRefs = append(result.EvidenceRefs, models.EvidenceRef{
				Type:  "proctoring_event",
				Start: i,
				End:   i + 1,
				Note:  fmt.Sprintf("%s at %s", e.Type, e.Timestamp.Format(time.RFC3339)),
			})
		}
	}
	return result
}

// riskLevel is high whenever the session was auto-flagged or terminated.
func (a *proctoringAnalyzer) riskLevel(s *models.ProctoringSession, score float64) models.RiskLevel {
	switch {
	case s.AutoFlagged || s.State == models.SessionTerminated || score >= 0.6:
		return models.RiskHigh
	case score >= 0.4:
		return models.RiskMedium
	case score >= 0.2:
		return models.RiskLow
	default:
		return models.RiskNone
	}
}
