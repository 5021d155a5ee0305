package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/rs/zerolog"
)

// CheckProcessor runs a stored check to completion.
type CheckProcessor interface {
	Process(ctx context.Context, checkID string) (*models.CheckRecord, error)
}

type MessageHandler interface {
	HandleSubmissionReceived(ctx context.Context, event models.SubmissionReceivedEvent) error
	ProcessMessage(ctx context.Context, msg RabbitMQMessage) error
}

type messageHandler struct {
	processor CheckProcessor
	logger    zerolog.Logger
}

func NewMessageHandler(processor CheckProcessor, logger zerolog.Logger) MessageHandler {
	return &messageHandler{
		processor: processor,
		logger:    logger,
	}
}

func (h *messageHandler) HandleSubmissionReceived(ctx context.Context, event models.SubmissionReceivedEvent) error {
	if strings.TrimSpace(event.CheckID) == "" {
		return fmt.Errorf("%w: event without check_id", models.ErrInvalidInput)
	}

	h.logger.Info().
		Str("check_id", event.CheckID).
		Str("submission_id", event.SubmissionID).
		Str("assignment_id", event.AssignmentID).
		Msg("Handling submission received event")

	_, err := h.processor.Process(ctx, event.CheckID)
	return err
}

// ProcessMessage dispatches a delivery by its routing key. Malformed bodies
// come back as ErrInvalidInput so the caller can drop them.
func (h *messageHandler) ProcessMessage(ctx context.Context, msg RabbitMQMessage) error {
	switch msg.RoutingKey {
	case models.RoutingSubmissionReceived:
		var event models.SubmissionReceivedEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			return fmt.Errorf("%w: failed to unmarshal submission received event: %v", models.ErrInvalidInput, err)
		}
		return h.HandleSubmissionReceived(ctx, event)

	default:
		h.logger.Warn().Str("routing_key", msg.RoutingKey).Msg("Unknown message type")
		return nil
	}
}
