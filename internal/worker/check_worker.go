package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/service"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/worker/queue"
	"github.com/rs/zerolog"
)

// CheckWorker runs checks in the background. With a queue configured, checks
// travel through RabbitMQ as submission.received messages; otherwise they go
// straight to the in-process pool.
type CheckWorker interface {
	Start(ctx context.Context) error
	Stop() error
	Dispatch(ctx context.Context, check *models.CheckRecord) error
	RecoverPending(ctx context.Context, limit int) (int, error)
	GetStats() WorkerStats
}

type WorkerStats struct {
	Mode           string `json:"mode"`
	ActiveWorkers  int    `json:"active_workers"`
	ProcessedToday int    `json:"processed_today"`
	TotalProcessed int    `json:"total_processed"`
	FailedJobs     int    `json:"failed_jobs"`
	QueueLength    int    `json:"queue_length"`
}

type CheckWorkerConfig struct {
	ProcessTimeout time.Duration
}

type checkWorker struct {
	workerPool    *WorkerPool
	queueConsumer queue.RabbitMQConsumer
	publisher     queue.RabbitMQPublisher
	handler       queue.MessageHandler
	checkService  service.CheckService
	logger        zerolog.Logger
	config        CheckWorkerConfig
	stats         WorkerStats
	statsMutex    sync.RWMutex
	startTime     time.Time

	ctxMu   sync.RWMutex
	baseCtx context.Context
}

// NewCheckWorker builds a worker. consumer and publisher are either both set
// (queue mode) or both nil (in-process mode).
func NewCheckWorker(
	workerPool *WorkerPool,
	consumer queue.RabbitMQConsumer,
	publisher queue.RabbitMQPublisher,
	checkService service.CheckService,
	logger zerolog.Logger,
	config CheckWorkerConfig,
) CheckWorker {
	mode := "in_process"
	if consumer != nil && publisher != nil {
		mode = "queue"
	}
	return &checkWorker{
		workerPool:    workerPool,
		queueConsumer: consumer,
		publisher:     publisher,
		handler:       queue.NewMessageHandler(checkService, logger),
		checkService:  checkService,
		logger:        logger,
		config:        config,
		stats:         WorkerStats{Mode: mode},
		startTime:     time.Now(),
		baseCtx:       context.Background(),
	}
}

func (w *checkWorker) queueMode() bool {
	return w.stats.Mode == "queue"
}

func (w *checkWorker) Start(ctx context.Context) error {
	w.logger.Info().Str("mode", w.stats.Mode).Msg("Starting check worker...")

	w.ctxMu.Lock()
	w.baseCtx = ctx
	w.ctxMu.Unlock()

	if err := w.workerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	if w.queueMode() {
		msgs, err := w.queueConsumer.Consume(ctx)
		if err != nil {
			return fmt.Errorf("failed to start consuming messages: %w", err)
		}
		go w.processMessages(ctx, msgs)
	}

	w.logger.Info().Msg("Check worker started successfully")
	return nil
}

func (w *checkWorker) Stop() error {
	w.logger.Info().Msg("Stopping check worker...")

	if w.queueConsumer != nil {
		if err := w.queueConsumer.Close(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to close queue consumer")
		}
	}

	if err := w.workerPool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	stats := w.GetStats()
	w.logger.Info().
		Int("total_processed", stats.TotalProcessed).
		Int("failed_jobs", stats.FailedJobs).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Check worker stopped")

	return nil
}

func (w *checkWorker) Dispatch(ctx context.Context, check *models.CheckRecord) error {
	if w.queueMode() {
		event := models.SubmissionReceivedEvent{
			CheckID:      check.ID,
			SubmissionID: check.SubmissionID,
			AuthorID:     check.AuthorID,
			AssignmentID: check.AssignmentID,
			Timestamp:    time.Now().Unix(),
		}
		if err := w.publisher.Publish(ctx, models.RoutingSubmissionReceived, event); err != nil {
			return fmt.Errorf("failed to enqueue check %s: %w", check.ID, err)
		}
		return nil
	}

	checkID := check.ID
	return w.workerPool.Submit(func() {
		w.ctxMu.RLock()
		ctx := w.baseCtx
		w.ctxMu.RUnlock()

		w.record(w.process(ctx, checkID), time.Now())
	})
}

func (w *checkWorker) process(ctx context.Context, checkID string) error {
	if w.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.ProcessTimeout)
		defer cancel()
	}
	_, err := w.checkService.Process(ctx, checkID)
	if err != nil {
		w.logger.Error().Err(err).Str("check_id", checkID).Msg("Failed to process check")
	}
	return err
}

func (w *checkWorker) processMessages(ctx context.Context, msgs <-chan queue.RabbitMQMessage) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			err := w.workerPool.Submit(func() {
				w.handleMessage(ctx, msg)
			})
			if err != nil {
				w.logger.Error().Err(err).Str("message_id", msg.MessageID).Msg("Failed to schedule message")
				if nackErr := msg.Nack(false, true); nackErr != nil {
					w.logger.Error().Err(nackErr).Msg("Failed to nack message")
				}
			}
		}
	}
}

// handleMessage acks on success and on permanent failures; anything else is
// requeued.
func (w *checkWorker) handleMessage(ctx context.Context, msg queue.RabbitMQMessage) {
	processCtx := ctx
	if w.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		processCtx, cancel = context.WithTimeout(ctx, w.config.ProcessTimeout)
		defer cancel()
	}

	err := w.handler.ProcessMessage(processCtx, msg)
	w.record(err, msg.Timestamp)

	if err != nil {
		w.logger.Error().
			Err(err).
			Str("message_id", msg.MessageID).
			Str("routing_key", msg.RoutingKey).
			Msg("Failed to process message")

		if isPermanentError(err) {
			if ackErr := msg.Ack(false); ackErr != nil {
				w.logger.Error().Err(ackErr).Msg("Failed to ack message")
			}
			return
		}
		if nackErr := msg.Nack(false, true); nackErr != nil {
			w.logger.Error().Err(nackErr).Msg("Failed to nack message")
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		w.logger.Error().Err(err).Msg("Failed to ack message")
	}
}

func (w *checkWorker) record(err error, at time.Time) {
	w.statsMutex.Lock()
	defer w.statsMutex.Unlock()
	if err != nil {
		w.stats.FailedJobs++
		return
	}
	w.stats.TotalProcessed++
	if time.Since(at).Hours() < 24 {
		w.stats.ProcessedToday++
	}
}

// RecoverPending redispatches checks left pending or processing by a previous run.
func (w *checkWorker) RecoverPending(ctx context.Context, limit int) (int, error) {
	dispatched := 0
	for _, status := range []models.CheckStatus{models.CheckStatusPending, models.CheckStatusProcessing} {
		checks, err := w.checkService.GetByStatus(ctx, status, limit)
		if err != nil {
			return dispatched, fmt.Errorf("failed to list %s checks: %w", status, err)
		}
		for i := range checks {
			if err := w.Dispatch(ctx, &checks[i]); err != nil {
				w.logger.Warn().Err(err).Str("check_id", checks[i].ID).Msg("Failed to redispatch check")
				continue
			}
			dispatched++
		}
	}

	if dispatched > 0 {
		w.logger.Info().Int("dispatched", dispatched).Msg("Recovered unfinished checks")
	}
	return dispatched, nil
}

func (w *checkWorker) GetStats() WorkerStats {
	w.statsMutex.RLock()
	stats := w.stats
	w.statsMutex.RUnlock()

	stats.QueueLength = w.workerPool.GetQueueLength()
	if w.queueConsumer != nil {
		queueLength, err := w.queueConsumer.GetQueueLength()
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to get queue length")
		} else {
			stats.QueueLength = queueLength
		}
	}
	stats.ActiveWorkers = w.workerPool.GetActiveWorkers()

	return stats
}

// isPermanentError reports failures that redelivery cannot fix.
func isPermanentError(err error) bool {
	return errors.Is(err, models.ErrInvalidInput) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrSystemUnavailable)
}
