package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"unicornio-backend/internal/bootstrap"
	"unicornio-backend/internal/queue"
	"unicornio-backend/internal/shared/config"
	"unicornio-backend/internal/shared/metrics"
	"unicornio-backend/internal/shared/telemetry"
	"unicornio-backend/internal/workerproc"
)

const defaultVisibilitySeconds = 300

func main() {
	cfg := config.Load()

	queueURL := strings.TrimSpace(cfg.SQSQueueURL)
	if queueURL == "" {
		log.Fatal("SQS_QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Messages must stay invisible for longer than one analysis can take.
	visibilitySeconds := envInt("SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	if minVisibility := int(cfg.AnalyzerTimeout/time.Second) + 30; visibilitySeconds < minVisibility {
		visibilitySeconds = minVisibility
	}
	concurrency := max(1, cfg.WorkerConcurrency)

	awsCfg, err := queue.LoadAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleWorker)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{
		"queue":       queueURL,
		"concurrency": concurrency,
		"visibility":  visibilitySeconds,
	})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				// Jobs finish even after a shutdown signal; the wait below bounds them.
				handleMessage(context.WithoutCancel(ctx), sqsClient, queueURL, app.Trigger, m)
			}(msg)
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(cfg.ShutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"reason": "in-flight jobs abandoned"})
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		telemetry.Warn("worker.close", map[string]any{"error": err})
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// handleMessage runs one job. Successful and unrecoverable messages are
// deleted; anything else is left for SQS to redeliver.
func handleMessage(ctx context.Context, client sqsAPI, queueURL string, runner workerproc.Runner, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	decoded, err := workerproc.HandleMessage(ctx, runner, body)
	if err != nil {
		fields := baseFields(msg, decoded.EmprendedorID, decoded.RequestID)
		fields["error"] = err.Error()
		meta := workerproc.ComputeMeta(body)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		metrics.IncWorkerJobFailed()

		if workerproc.Unrecoverable(err) {
			telemetry.Error("worker.job.unrecoverable", fields)
			deleteMessage(ctx, client, queueURL, msg, decoded.EmprendedorID, decoded.RequestID)
			return
		}
		telemetry.Error("worker.job.failed", fields)
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.EmprendedorID, decoded.RequestID) {
		telemetry.Info("worker.job.completed", baseFields(msg, decoded.EmprendedorID, decoded.RequestID))
		metrics.IncWorkerJobProcessed()
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, emprendedorID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, emprendedorID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.job.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, emprendedorID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, emprendedorID, requestID string) map[string]any {
	fields := map[string]any{
		"emprendedor_id": emprendedorID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
