package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// Starter places a call for a Request.
type Starter interface {
	Start(ctx context.Context, req Request) (*Result, error)
}

// Worker consumes call jobs from the queue and starts the calls.
type Worker struct {
	starter Starter
	queue   QueueClient
	logger  *logging.Logger
	cfg     workerConfig
	wg      sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

func NewWorker(starter Starter, queue QueueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if starter == nil || queue == nil {
		panic("calls: starter and queue required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{starter: starter, queue: queue, logger: logger, cfg: cfg}
}

// Start launches the consumer goroutines. They exit when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("call worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("call worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("failed to receive call jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			if err := w.Process(ctx, msg.Body); err == nil || !Retryable(err) {
				w.deleteMessage(msg.ReceiptHandle)
			}
		}
	}
}

// Process decodes and runs one job body.
func (w *Worker) Process(ctx context.Context, body string) error {
	job, err := DecodeJob(body)
	if err != nil {
		w.logger.Error("failed to decode call job", "error", err)
		return err
	}
	logger := w.logger.With("job_id", job.ID, "source", job.Source, "tenant_slug", job.Request.TenantSlug)

	res, err := w.starter.Start(ctx, job.Request)
	if err != nil {
		logger.Error("call job failed", "error", err, "retryable", Retryable(err))
		return err
	}
	logger.Info("call job completed", "interaction_id", res.InteractionID)
	return nil
}

// Retryable reports whether a failed job may succeed on redelivery.
// Validation and configuration failures never will.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidPhone),
		errors.Is(err, ErrChannelUnavailable),
		errors.Is(err, ErrChannelMisconfigured),
		errors.Is(err, ErrMalformedJob):
		return false
	}
	return true
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete call job", "error", err)
	}
}
