package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/receptionist-relay/internal/app/bootstrap"
	"github.com/wolfman30/receptionist-relay/internal/calls"
	appconfig "github.com/wolfman30/receptionist-relay/internal/config"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

type processor interface {
	Process(ctx context.Context, body string) error
}

func main() {
	cfg, err := appconfig.Load()
	if err != nil {
		logging.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	core, err := bootstrap.BuildCore(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize call lambda", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	queue, _ := core.CallQueue()
	worker := calls.NewWorker(core.Calls, queue, logger)
	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, worker, evt, logger), nil
	})
}

// handle reports retryable failures as batch item failures so SQS redelivers
// only those records. Jobs that can never succeed are dropped.
func handle(ctx context.Context, p processor, evt events.SQSEvent, logger *logging.Logger) events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, record := range evt.Records {
		err := p.Process(ctx, record.Body)
		if err == nil {
			continue
		}
		if !calls.Retryable(err) {
			logger.Warn("dropping call job", "message_id", record.MessageId, "error", err)
			continue
		}
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return resp
}
