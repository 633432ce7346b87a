package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"unicornio-backend/internal/bootstrap"
	"unicornio-backend/internal/shared/config"
	"unicornio-backend/internal/shared/metrics"
	"unicornio-backend/internal/shared/telemetry"
	"unicornio-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(context.Background(), cfg, bootstrap.RoleWorker)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return handleBatch(ctx, app.Trigger, event), nil
}

// handleBatch reports retryable failures only; unrecoverable messages are
// acknowledged so SQS drops them.
func handleBatch(ctx context.Context, runner workerproc.Runner, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		msg, err := workerproc.HandleMessage(ctx, runner, record.Body)
		if err == nil {
			metrics.IncWorkerJobProcessed()
			continue
		}
		metrics.IncWorkerJobFailed()
		fields := map[string]any{
			"sqs_message_id": record.MessageId,
			"emprendedor_id": msg.EmprendedorID,
			"error":          err.Error(),
		}
		if workerproc.Unrecoverable(err) {
			telemetry.Error("worker.job.unrecoverable", fields)
			continue
		}
		telemetry.Error("worker.job.failed", fields)
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
