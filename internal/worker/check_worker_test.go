package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/models"
	"github.com/RubachokBoss/plagiarism-checker/integrity-service/internal/worker/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCheckService struct {
	mu        sync.Mutex
	processed []string
	errs      map[string]error
	pending   []models.CheckRecord
}

func (f *fakeCheckService) Submit(ctx context.Context, req models.SubmitCheckRequest) (*models.CheckRecord, error) {
	return nil, nil
}

func (f *fakeCheckService) Process(ctx context.Context, checkID string) (*models.CheckRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, checkID)
	if err := f.errs[checkID]; err != nil {
		return nil, err
	}
	return &models.CheckRecord{ID: checkID, Status: models.CheckStatusCompleted}, nil
}

func (f *fakeCheckService) Analyze(ctx context.Context, submission models.Submission) (*models.IntegrityVerdict, []models.DetectorResult, error) {
	return nil, nil, nil
}

func (f *fakeCheckService) GetCheck(ctx context.Context, id string) (*models.CheckRecord, error) {
	return nil, models.ErrNotFound
}

func (f *fakeCheckService) GetByStatus(ctx context.Context, status models.CheckStatus, limit int) ([]models.CheckRecord, error) {
	var out []models.CheckRecord
	for _, c := range f.pending {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCheckService) WarmCorpus(ctx context.Context, limit int) (int, error) {
	return 0, nil
}

func (f *fakeCheckService) processedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed...)
}

type fakeConsumer struct {
	msgs chan queue.RabbitMQMessage
}

func (c *fakeConsumer) Consume(ctx context.Context) (<-chan queue.RabbitMQMessage, error) {
	return c.msgs, nil
}

func (c *fakeConsumer) GetQueueLength() (int, error) { return len(c.msgs), nil }
func (c *fakeConsumer) Close() error                 { return nil }

type fakePublisher struct {
	mu     sync.Mutex
	bodies map[string][][]byte
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bodies == nil {
		p.bodies = make(map[string][][]byte)
	}
	p.bodies[routingKey] = append(p.bodies[routingKey], body)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

// delivery records how a message was settled.
type delivery struct {
	msg     queue.RabbitMQMessage
	settled chan string
}

func newDelivery(routingKey string, body []byte) delivery {
	d := delivery{settled: make(chan string, 1)}
	d.msg = queue.RabbitMQMessage{
		MessageID:  "msg-1",
		RoutingKey: routingKey,
		Body:       body,
		Timestamp:  time.Now(),
		Ack: func(bool) error {
			d.settled <- "ack"
			return nil
		},
		Nack: func(_ bool, requeue bool) error {
			d.settled <- fmt.Sprintf("nack requeue=%t", requeue)
			return nil
		},
	}
	return d
}

func waitSettled(t *testing.T, d delivery) string {
	t.Helper()
	select {
	case s := <-d.settled:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("message was never settled")
		return ""
	}
}

func TestCheckWorker_InProcessDispatch(t *testing.T) {
	checks := &fakeCheckService{}
	w := NewCheckWorker(NewWorkerPool(2, 10, zerolog.Nop()), nil, nil, checks, zerolog.Nop(), CheckWorkerConfig{ProcessTimeout: time.Second})
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Dispatch(context.Background(), &models.CheckRecord{ID: "check-1"}))
	require.NoError(t, w.Dispatch(context.Background(), &models.CheckRecord{ID: "check-2"}))
	require.NoError(t, w.Stop())

	assert.ElementsMatch(t, []string{"check-1", "check-2"}, checks.processedIDs())
	stats := w.GetStats()
	assert.Equal(t, "in_process", stats.Mode)
	assert.Equal(t, 2, stats.TotalProcessed)
}

func TestCheckWorker_QueueDispatchPublishes(t *testing.T) {
	publisher := &fakePublisher{}
	consumer := &fakeConsumer{msgs: make(chan queue.RabbitMQMessage)}
	w := NewCheckWorker(NewWorkerPool(1, 1, zerolog.Nop()), consumer, publisher, &fakeCheckService{}, zerolog.Nop(), CheckWorkerConfig{})

	check := &models.CheckRecord{ID: "check-1", SubmissionID: "sub-1", AuthorID: "author-1", AssignmentID: "essay-1"}
	require.NoError(t, w.Dispatch(context.Background(), check))

	bodies := publisher.bodies[models.RoutingSubmissionReceived]
	require.Len(t, bodies, 1)
	var event models.SubmissionReceivedEvent
	require.NoError(t, json.Unmarshal(bodies[0], &event))
	assert.Equal(t, "check-1", event.CheckID)
	assert.Equal(t, "sub-1", event.SubmissionID)
}

func TestCheckWorker_MessageSettlement(t *testing.T) {
	checks := &fakeCheckService{errs: map[string]error{
		"missing":   fmt.Errorf("%w: check missing", models.ErrNotFound),
		"flaky":     fmt.Errorf("database is down"),
		"no-signal": fmt.Errorf("%w: nothing usable", models.ErrSystemUnavailable),
	}}
	consumer := &fakeConsumer{msgs: make(chan queue.RabbitMQMessage, 8)}
	w := NewCheckWorker(NewWorkerPool(1, 8, zerolog.Nop()), consumer, &fakePublisher{}, checks, zerolog.Nop(), CheckWorkerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	event := func(id string) []byte {
		body, err := json.Marshal(models.SubmissionReceivedEvent{CheckID: id})
		require.NoError(t, err)
		return body
	}

	tests := []struct {
		name string
		d    delivery
		want string
	}{
		{"processed", newDelivery(models.RoutingSubmissionReceived, event("check-1")), "ack"},
		{"unknown check is dropped", newDelivery(models.RoutingSubmissionReceived, event("missing")), "ack"},
		{"system unavailable is dropped", newDelivery(models.RoutingSubmissionReceived, event("no-signal")), "ack"},
		{"malformed body is dropped", newDelivery(models.RoutingSubmissionReceived, []byte("{not json")), "ack"},
		{"transient failure is requeued", newDelivery(models.RoutingSubmissionReceived, event("flaky")), "nack requeue=true"},
		{"unknown routing key is acked", newDelivery("something.else", []byte("{}")), "ack"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer.msgs <- tt.d.msg
			assert.Equal(t, tt.want, waitSettled(t, tt.d))
		})
	}
}

func TestCheckWorker_RecoverPending(t *testing.T) {
	checks := &fakeCheckService{pending: []models.CheckRecord{
		{ID: "check-1", Status: models.CheckStatusPending},
		{ID: "check-2", Status: models.CheckStatusProcessing},
		{ID: "check-3", Status: models.CheckStatusCompleted},
	}}
	w := NewCheckWorker(NewWorkerPool(1, 10, zerolog.Nop()), nil, nil, checks, zerolog.Nop(), CheckWorkerConfig{})
	require.NoError(t, w.Start(context.Background()))

	n, err := w.RecoverPending(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, w.Stop())
	assert.ElementsMatch(t, []string{"check-1", "check-2"}, checks.processedIDs())
}
