package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/metrics"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/repository"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service/analyzer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ProctoringService applies event streams to exam sessions. Events of one
// session are applied strictly in order; different sessions run in parallel.
type ProctoringService interface {
	StartSession(ctx context.Context, req models.StartSessionRequest) (*models.ProctoringSession, error)
	// IngestEvents applies a batch atomically: if any event is rejected,
	// nothing from the batch is stored.
	IngestEvents(ctx context.Context, sessionID string, events []models.ProctoringEvent) (*models.ProctoringSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.ProctoringSession, error)
	GetResult(ctx context.Context, sessionID string) (*models.DetectorResult, error)
}

type proctoringService struct {
	sessionRepo repository.SessionRepository
	analyzer    analyzer.ProctoringAnalyzer
	aggregator  analyzer.RiskAggregator
	cases       CaseManager
	publisher   EventPublisher
	logger      zerolog.Logger
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func NewProctoringService(
	sessionRepo repository.SessionRepository,
	proctoringAnalyzer analyzer.ProctoringAnalyzer,
	aggregator analyzer.RiskAggregator,
	cases CaseManager,
	publisher EventPublisher,
	logger zerolog.Logger,
	now func() time.Time,
) ProctoringService {
	return &proctoringService{
		sessionRepo: sessionRepo,
		analyzer:    proctoringAnalyzer,
		aggregator:  aggregator,
		cases:       cases,
		publisher:   publisherOrNop(publisher),
		logger:      logger,
		now:         clockOrDefault(now),
		locks:       make(map[string]*sessionLock),
	}
}

// lockSession serializes work on one session. The entry is dropped once no
// caller holds or waits on it.
func (s *proctoringService) lockSession(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}

func (s *proctoringService) StartSession(ctx context.Context, req models.StartSessionRequest) (*models.ProctoringSession, error) {
	session, err := models.NewProctoringSession(uuid.New().String(), req.StudentID, req.ExamID, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("student_id", session.StudentID).
		Str("exam_id", session.ExamID).
		Msg("Proctoring session started")
	return session, nil
}

func (s *proctoringService) IngestEvents(ctx context.Context, sessionID string, events []models.ProctoringEvent) (*models.ProctoringSession, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: no events", models.ErrInvalidInput)
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var autoFlagged, terminated bool
	next := session
	for i, event := range events {
		if event.SessionID == "" {
			event.SessionID = sessionID
		}
		outcome, err := s.analyzer.Apply(next, event)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		next = outcome.Session
		autoFlagged = autoFlagged || outcome.AutoFlagged
		terminated = terminated || outcome.Terminated
	}

	// Termination always reaches the case, even one opened by an earlier auto-flag.
	if (autoFlagged && next.CaseID == nil) || terminated {
		c, err := s.openCase(ctx, next)
		if err != nil {
			return nil, err
		}
		if c != nil {
			next.CaseID = &c.ID
		}
	}

	if err := s.sessionRepo.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	for _, event := range events {
		metrics.ProctoringEvents.WithLabelValues(string(event.Type)).Inc()
	}
	if autoFlagged {
		metrics.ProctoringAutoFlags.Inc()
	}
	if terminated {
		metrics.ProctoringTerminations.Inc()
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Int("events", len(events)).
		Str("state", string(next.State)).
		Int("flag_count", next.FlagCount).
		Float64("integrity_score", next.IntegrityScore).
		Msg("Proctoring events applied")

	return next, nil
}

// openCase fuses the session's proctoring result and escalates it when flagged.
// A session that already has a case gets the new findings attached.
func (s *proctoringService) openCase(ctx context.Context, session *models.ProctoringSession) (*models.ViolationCase, error) {
	result := s.analyzer.Result(session)
	results := []models.DetectorResult{*result}

	verdict, err := s.aggregator.Fuse(session.ID, models.SubjectSession, results)
	if err != nil {
		return nil, err
	}
	metrics.VerdictsTotal.WithLabelValues(string(verdict.SubjectKind), verdict.RiskLevel.String()).Inc()

	event := models.VerdictProducedEvent{
		SubjectID:           verdict.SubjectID,
		SubjectKind:         verdict.SubjectKind,
		VerdictID:           verdict.ID,
		AggregateScore:      verdict.AggregateScore,
		RiskLevel:           verdict.RiskLevel,
		Flagged:             verdict.Flagged,
		RequiresHumanReview: verdict.RequiresHumanReview,
		ProducedAt:          s.now(),
	}
	if err := s.publisher.Publish(ctx, models.RoutingVerdictProduced, event); err != nil {
		s.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to publish verdict event")
	}

	if !verdict.Flagged {
		return nil, nil
	}
	metrics.FlaggedVerdicts.WithLabelValues(string(verdict.SubjectKind)).Inc()

	c, err := escalate(ctx, s.cases, verdict, results, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open case: %w", err)
	}
	s.logger.Warn().
		Str("session_id", session.ID).
		Str("case_id", c.ID).
		Int("flag_count", session.FlagCount).
		Str("state", string(session.State)).
		Msg("Proctoring session escalated")
	return c, nil
}

func (s *proctoringService) GetSession(ctx context.Context, sessionID string) (*models.ProctoringSession, error) {
	return s.sessionRepo.GetByID(ctx, sessionID)
}

// GetResult returns the session's proctoring result as of its latest event.
func (s *proctoringService) GetResult(ctx context.Context, sessionID string) (*models.DetectorResult, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.analyzer.Result(session), nil
}
