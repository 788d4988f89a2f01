package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

// ErrMalformedJob means a queued body could not be decoded.
var ErrMalformedJob = errors.New("calls: malformed job")

// QueueClient moves encoded call jobs between the enqueuer and the worker.
type QueueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received job.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Job is the queued form of a Request.
type Job struct {
	ID          string    `json:"id"`
	Source      string    `json:"source,omitempty"`
	Request     Request   `json:"request"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	ReferenceID string    `json:"reference_id,omitempty"`
}

// EncodeJob fills defaults and marshals job.
func EncodeJob(job Job) (Job, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Job{}, "", fmt.Errorf("calls: encode job: %w", err)
	}
	return job, string(body), nil
}

// DecodeJob parses a queued job body.
func DecodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrMalformedJob, err)
	}
	return job, nil
}

// Publisher enqueues call jobs for asynchronous processing.
type Publisher struct {
	queue  QueueClient
	logger *logging.Logger
}

func NewPublisher(queue QueueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("calls: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Enqueue publishes req. source labels the originating surface (e.g. "chat").
func (p *Publisher) Enqueue(ctx context.Context, source, referenceID string, req Request) error {
	job, body, err := EncodeJob(Job{Source: source, Request: req, ReferenceID: referenceID})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("calls: enqueue job: %w", err)
	}
	p.logger.Debug("calls: job enqueued", "job_id", job.ID, "source", source)
	return nil
}
