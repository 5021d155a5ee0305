package analyzer

import (
	"errors"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionStart = time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)

func passed(v bool) *bool { return &v }

func newTestSession(t *testing.T) *models.ProctoringSession {
	t.Helper()
	s, err := models.NewProctoringSession("sess-1", "student-1", "exam-1", sessionStart)
	require.NoError(t, err)
	return s
}

func event(typ models.EventType, at time.Duration) models.ProctoringEvent {
	e := models.ProctoringEvent{SessionID: "sess-1", Type: typ, Timestamp: sessionStart.Add(at)}
	if typ == models.EventIdentityVerification || typ == models.EventEnvironmentScan {
		e.Passed = passed(true)
	}
	return e
}

// applyAll feeds events in order and returns the final outcome.
func applyAll(t *testing.T, a ProctoringAnalyzer, s *models.ProctoringSession, events ...models.ProctoringEvent) (*models.ProctoringSession, []*ProctoringOutcome) {
	t.Helper()
	var outcomes []*ProctoringOutcome
	for _, e := range events {
		out, err := a.Apply(s, e)
		require.NoError(t, err, "event %s", e.Type)
		s = out.Session
		outcomes = append(outcomes, out)
	}
	return s, outcomes
}

func startedSession(t *testing.T, a ProctoringAnalyzer) *models.ProctoringSession {
	s, _ := applyAll(t, a, newTestSession(t),
		event(models.EventIdentityVerification, time.Minute),
		event(models.EventEnvironmentScan, 2*time.Minute),
	)
	require.Equal(t, models.SessionInProgress, s.State)
	return s
}

func TestProctoringAnalyzer_CleanSession(t *testing.T) {
	a := NewProctoringAnalyzer(zerolog.Nop(), DefaultProctoringConfig())
	s := startedSession(t, a)

	s, outcomes := applyAll(t, a, s, event(models.EventSessionCompleted, 60*time.Minute))
	assert.True(t, outcomes[0].Completed)
	assert.Equal(t, models.SessionCompleted, s.State)
	require.NotNil(t, s.EndedAt)
	assert.InDelta(t, 1.0, s.IntegrityScore, 1e-9)

	result := a.Result(s)
	assert.Equal(t, models.DetectorProctoring, result.Kind)
	assert.Equal(t, models.SubjectSession, result.SubjectKind)
	assert.Zero(t, result.Score)
	assert.Equal(t, models.RiskNone, result.RiskLevel)
	assert.InDelta(t, 1.0, result.Confidence, 1e-9)
}

func TestProctoringAnalyzer_FourGazeAwayAutoFlags(t *testing.T) {
	a := NewProctoringAnalyzer(zerolog.Nop(), DefaultProctoringConfig())
	s := startedSession(t, a)

	s, outcomes := applyAll(t, a, s,
		event(models.EventGazeAway, 5*time.Minute),
		event(models.EventGazeAway, 6*time.Minute),
		event(models.EventGazeAway, 7*time.Minute),
		event(models.EventGazeAway, 8*time.Minute),
	)

	assert.False(t, outcomes[2].AutoFlagged, "threshold is exceeded only by the fourth flag")
	assert.True(t, outcomes[3].AutoFlagged)
	assert.True(t, s.AutoFlagged)
	assert.Equal(t, 4, s.FlagCount)
	assert.Equal(t, 4, s.FlagsByType[models.EventGazeAway])
	assert.InDelta(t, 4.0, s.CumulativeSeverity, 1e-9)
	assert.Equal(t, models.SessionInProgress, s.State)

	// A fifth flag does not auto-flag again.
	_, more := applyAll(t, a, s, event(models.EventGazeAway, 9*time.Minute))
	assert.False(t, more[0].AutoFlagged)

	result := a.Result(s)
	assert.Equal(t, models.RiskHigh, result.RiskLevel)
	assert.True(t, result.Proctoring.AutoFlagged)
	assert.Len(t, result.EvidenceRefs, 4)
}

func TestProctoringAnalyzer_HardStopTerminates(t *testing.T) {
	a := NewProctoringAnalyzer(zerolog.Nop(), DefaultProctoringConfig())
	s := startedSession(t, a)

	s, outcomes := applyAll(t, a, s,
		event(models.EventSecondaryDevice, 5*time.Minute),
		event(models.EventSecondaryDevice, 6*time.Minute),
		event(models.EventSecondaryDevice, 7*time.Minute),
	)
	assert.False(t, outcomes[1].Terminated)
	assert.True(t, outcomes[2].Terminated)
	assert.Equal(t, models.SessionTerminated, s.State)

	_, err := a.Apply(s, event(models.EventSessionCompleted, 8*time.Minute))
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
	assert.Equal(t, models.RiskHigh, a.Result(s).RiskLevel)
}

func TestProctoringAnalyzer_OutOfOrderRejected(t *testing.T) {
	a := NewProctoringAnalyzer(zerolog.Nop(), DefaultProctoringConfig())
	s := startedSession(t, a)
	s, _ = applyAll(t, a, s, event(models.EventGazeAway, 10*time.Minute))

	before := s.Clone()
	_, err := a.Apply(s, event(models.EventGazeAway, 9*time.Minute))
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
	assert.Equal(t, before, s)
}

func TestProctoringAnalyzer_StateGuards(t *testing.T) {
	a := NewProctoringAnalyzer(zerolog.Nop(), DefaultProctoringConfig())

	tests := []struct {
		name  string
		setup []models.ProctoringEvent
		next  models.ProctoringEvent
	}{
		{
			name: "behavioral before start",
			next: event(models.EventGazeAway, time.Minute),
		},
		{
			name: "scan before verification",
			next: event(models.EventEnvironmentScan, time.Minute),
		},
		{
			name:  "completion before scan",
			setup: []models.ProctoringEvent{event(models.EventIdentityVerification, time.Minute)},
			next:  event(models.EventSessionCompleted, 2*time.Minute),
		},
		{
			name: "verification twice",
			setup: []models.ProctoringEvent{
				event(models.EventIdentityVerification, time.Minute),
			},
			next: event(models.EventIdentityVerification, 2*time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := applyAll(t, a, newTestSession(t), tt.setup...)
			_, err := a.Apply(s, tt.next)
			assert.True(t, errors.Is(err, models.ErrInvalidTransition))
		})
	}
}

func TestProctoringAnalyzer_FailedVerificationFlags(t *testing.T) {
	a := NewProctoringAnalyzer(zerolog.Nop(), DefaultProctoringConfig())
	failed := event(models.EventIdentityVerification, time.Minute)
	failed.Passed = passed(false)

	s, outcomes := applyAll(t, a, newTestSession(t), failed)
	assert.True(t, outcomes[0].Flagged)
	assert.Equal(t, models.SessionInitiated, s.State)
	assert.Equal(t, 1, s.FlagCount)

	s, _ = applyAll(t, a, s, event(models.EventIdentityVerification, 2*time.Minute))
	assert.Equal(t, models.SessionVerified, s.State)
}

func TestProctoringAnalyzer_IntegrityDecreasesWithFlags(t *testing.T) {
	a := NewProctoringAnalyzer(zerolog.Nop(), DefaultProctoringConfig())
	s := startedSession(t, a)

	prev := s.IntegrityScore
	for i := 0; i < 6; i++ {
		out, err := a.Apply(s, event(models.EventAudioAnomaly, time.Duration(10+i)*time.Minute))
		require.NoError(t, err)
		s = out.Session
		assert.Less(t, s.IntegrityScore, prev)
		assert.GreaterOrEqual(t, s.IntegrityScore, 0.0)
		prev = s.IntegrityScore
	}
}

func TestProctoringAnalyzer_InvalidEvent(t *testing.T) {
	a := NewProctoringAnalyzer(zerolog.Nop(), DefaultProctoringConfig())
	s := newTestSession(t)

	_, err := a.Apply(s, models.ProctoringEvent{Type: "blink", Timestamp: sessionStart})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))

	_, err = a.Apply(s, models.ProctoringEvent{Type: models.EventIdentityVerification, Timestamp: sessionStart})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}
